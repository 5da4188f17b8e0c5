package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/backup"
	"github.com/camden-git/collectionstore/config"
	"github.com/camden-git/collectionstore/database"
	"github.com/camden-git/collectionstore/handlers"
	"github.com/camden-git/collectionstore/logging"
	"github.com/camden-git/collectionstore/media"
	"github.com/camden-git/collectionstore/realtime"
	"github.com/camden-git/collectionstore/utils"
	"github.com/camden-git/collectionstore/workers"
)

var CLI struct {
	Serve     ServeCmd     `cmd:"" default:"1" help:"Serve the store over HTTP"`
	Backup    BackupCmd    `cmd:"" help:"Write a backup archive of the store"`
	Restore   RestoreCmd   `cmd:"" help:"Replace the store with a backup archive"`
	Autosave  AutosaveCmd  `cmd:"" help:"Write an autosave if the store changed"`
	Autosaves AutosavesCmd `cmd:"" help:"List autosaves, newest first"`
}

// store bundles an open session with the components built around it.
type store struct {
	session  *database.Session
	pictures *media.PictureStore
	backups  *backup.Manager
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	session, err := database.Open(ctx, database.Options{
		StorePath:        cfg.StorePath,
		DatabaseFilename: cfg.DatabaseFilename,
		DateFormat:       cfg.DateFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	pictures, err := media.NewPictureStore(cfg.PicturesPath(), cfg.ThumbnailMaxSize)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to initialize picture store: %w", err)
	}
	session.AddListener(pictures)

	backups := backup.NewManager(session, utils.LocalFileSystem{}, pictures, backup.Options{
		AutosavePath: cfg.AutosavePath,
		Retention:    cfg.AutosaveRetention,
		BuildID:      cfg.BuildID,
	})
	return &store{session: session, pictures: pictures, backups: backups}, nil
}

func (s *store) Close() {
	if err := s.session.Close(); err != nil {
		logging.Log.Warn("failed to close store cleanly", zap.Error(err))
	}
}

type ServeCmd struct {
	Addr string `name:"addr" help:"Listen address (overrides LISTEN_ADDR)"`
}

func (c *ServeCmd) Run(cfg *config.Config) error {
	logger := logging.Log.Named("main")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	albums, err := st.session.ListAlbums(ctx)
	if err != nil {
		return fmt.Errorf("failed to read album catalog: %w", err)
	}
	if err := st.pictures.Repair(albums); err != nil {
		logger.Warn("picture directory repair incomplete", zap.Error(err))
	}

	hub := realtime.NewHub()
	hubDone := make(chan struct{})
	go hub.Run(hubDone)
	defer close(hubDone)
	st.session.AddListener(hub)

	scheduler := workers.NewAutosaveScheduler(st.backups, cfg.AutosaveInterval)
	scheduler.Start()
	defer scheduler.Stop()

	addr := cfg.ListenAddr
	if c.Addr != "" {
		addr = c.Addr
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      newRouter(cfg, st, hub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", addr), zap.String("store", cfg.StorePath))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
	}
	return nil
}

func newRouter(cfg *config.Config, st *store, hub *realtime.Hub) http.Handler {
	r := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	albumHandler := &handlers.AlbumHandler{Store: st.session, Pictures: st.pictures}
	itemHandler := &handlers.ItemHandler{Store: st.session, Pictures: st.pictures, Hub: hub}
	backupHandler := &handlers.BackupHandler{Backups: st.backups, Hub: hub}

	r.Route("/api", func(r chi.Router) {
		r.Route("/albums", func(r chi.Router) {
			r.Get("/", albumHandler.ListAlbums)
			r.Post("/", albumHandler.CreateAlbum)
			r.Route("/{album}", func(r chi.Router) {
				r.Get("/", albumHandler.GetAlbum)
				r.Delete("/", albumHandler.DeleteAlbum)
				r.Put("/name", albumHandler.RenameAlbum)
				r.Put("/pictures", albumHandler.SetPictureFunctionality)
				r.Put("/sort_field", albumHandler.SetSortField)

				r.Route("/fields", func(r chi.Router) {
					r.Post("/", albumHandler.AppendField)
					r.Route("/{field}", func(r chi.Router) {
						r.Delete("/", albumHandler.RemoveField)
						r.Put("/name", albumHandler.RenameField)
						r.Put("/position", albumHandler.ReorderField)
						r.Put("/quick_search", albumHandler.SetQuickSearchable)
					})
				})

				r.Route("/items", func(r chi.Router) {
					r.Get("/", itemHandler.ListItems)
					r.Post("/", itemHandler.CreateItem)
					r.Post("/search", itemHandler.SearchItems)
					r.Route("/{item}", func(r chi.Router) {
						r.Get("/", itemHandler.GetItem)
						r.Put("/", itemHandler.UpdateItem)
						r.Delete("/", itemHandler.DeleteItem)
						r.Post("/pictures", itemHandler.UploadPicture)
						r.Delete("/pictures", itemHandler.DeletePictures)
					})
				})

				r.Get("/files/*", handlers.PictureServer(st.pictures))
			})
		})

		r.Route("/backup", func(r chi.Router) {
			r.Post("/", backupHandler.CreateBackup)
			r.Get("/download", backupHandler.DownloadBackup)
			r.Post("/restore", backupHandler.RestoreBackup)
		})
		r.Route("/autosaves", func(r chi.Router) {
			r.Get("/", backupHandler.ListAutoSaves)
			r.Post("/", backupHandler.CreateAutoSave)
			r.Post("/restore_latest", backupHandler.RestoreLatestAutoSave)
		})
	})

	r.Get("/ws", hub.ServeWS)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type BackupCmd struct {
	Path string `arg:"" type:"path" help:"Archive to write"`
}

func (c *BackupCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.backups.BackupToFile(ctx, c.Path); err != nil {
		return err
	}
	fmt.Println(c.Path)
	return nil
}

type RestoreCmd struct {
	Path   string `arg:"" optional:"" type:"path" help:"Archive to restore"`
	Latest bool   `name:"latest" help:"Restore the newest autosave instead of an archive"`
}

func (c *RestoreCmd) Validate() error {
	if (c.Path == "") == !c.Latest {
		return errors.New("give either an archive path or --latest")
	}
	return nil
}

func (c *RestoreCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	source := c.Path
	if c.Latest {
		source, err = st.backups.RestoreLatestAutoSave(ctx)
	} else {
		err = st.backups.RestoreFromFile(ctx, c.Path)
	}
	if err != nil {
		return err
	}
	fmt.Println("restored from", source)
	return nil
}

type AutosaveCmd struct{}

func (c *AutosaveCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	path, err := st.backups.BackupAutoSave(ctx)
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println("no changes since the newest autosave")
		return nil
	}
	fmt.Println(path)
	return nil
}

type AutosavesCmd struct{}

func (c *AutosavesCmd) Run(cfg *config.Config) error {
	st, err := openStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	saves, err := st.backups.GetAllAutoSaves()
	if err != nil {
		return err
	}
	for _, s := range saves {
		if s.Timestamp < 0 {
			fmt.Printf("%s\t(invalid name)\n", s.Path)
			continue
		}
		fmt.Printf("%s\t%s\n", s.Path, time.UnixMilli(s.Timestamp).Format(time.RFC3339))
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		logging.Log.Info("no .env file loaded", zap.Error(err))
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Log.Fatal("failed to load configuration", zap.Error(err))
	}
	defer logging.Log.Sync()

	ctx := kong.Parse(&CLI,
		kong.Name("collectionstore"),
		kong.Description("Dynamic-schema album store with backups and autosaves"),
		kong.UsageOnError(),
		kong.Bind(&cfg),
	)
	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}
