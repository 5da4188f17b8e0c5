package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/camden-git/collectionstore/config"
	"github.com/camden-git/collectionstore/logging"
	"github.com/camden-git/collectionstore/models"
	"github.com/camden-git/collectionstore/repository"
)

// LockFilename marks a store directory as open by a writer. Backups skip it.
const LockFilename = "store.lock"

// Options configures Open.
type Options struct {
	StorePath        string
	DatabaseFilename string
	DateFormat       string
}

// Session is the open store: the single engine connection plus the state
// that used to be process-global (album cache, last change timestamp).
// Every public method is a blocking call and sessions serialize their
// callers; at most one operation touches the connection at a time.
type Session struct {
	mu sync.Mutex

	db   *sql.DB
	conn *sql.Conn
	orm  *gorm.DB

	storePath  string
	dbPath     string
	dateFormat string
	logger     *zap.Logger

	// albums caches the catalog; nil means it must be re-read.
	albums     []models.Album
	lastChange int64
	listeners  []AlbumListener
}

// Open opens (creating if necessary) the store directory and its database.
func Open(ctx context.Context, opts Options) (*Session, error) {
	logger := logging.Log.Named("store")
	if opts.DatabaseFilename == "" {
		opts.DatabaseFilename = config.DefaultDatabaseFilename
	}
	if opts.DateFormat == "" {
		opts.DateFormat = config.DefaultDateFormat
	}

	absStore, err := filepath.Abs(opts.StorePath)
	if err != nil {
		return nil, fmt.Errorf("invalid store path '%s': %w", opts.StorePath, err)
	}
	if err := os.MkdirAll(absStore, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory '%s': %w", absStore, err)
	}
	lockPath := filepath.Join(absStore, LockFilename)
	if err := os.WriteFile(lockPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return nil, fmt.Errorf("failed to write store lock: %w", err)
	}

	dbPath := filepath.Join(absStore, opts.DatabaseFilename)
	db, conn, err := InitDB(ctx, dbPath, logger)
	if err != nil {
		os.Remove(lockPath)
		return nil, err
	}
	orm, err := InitGormDB(conn, logger.Named("gorm"))
	if err != nil {
		conn.Close()
		db.Close()
		os.Remove(lockPath)
		return nil, err
	}

	s := &Session{
		db:         db,
		conn:       conn,
		orm:        orm,
		storePath:  absStore,
		dbPath:     dbPath,
		dateFormat: opts.DateFormat,
		logger:     logger,
	}

	settings, err := config.ReadSettings(absStore)
	switch {
	case err == nil:
		s.lastChange = settings.LastChange
	case errors.Is(err, fs.ErrNotExist):
		if err := s.persistSettings(); err != nil {
			s.Close()
			return nil, err
		}
	default:
		logger.Warn("ignoring unreadable store settings", zap.Error(err))
	}

	if err := s.catalog(ctx).EnsureTable(); err != nil {
		s.Close()
		return nil, newError(KindCleanState, "open store", err)
	}

	logger.Info("store opened", zap.String("path", absStore))
	return s, nil
}

// Close releases the connection and the store lock.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	if err := os.Remove(filepath.Join(s.storePath, LockFilename)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StorePath returns the absolute store directory.
func (s *Session) StorePath() string { return s.storePath }

// DatabasePath returns the absolute path of the live database file.
func (s *Session) DatabasePath() string { return s.dbPath }

// DateFormat returns the Go layout used for date parsing and display.
func (s *Session) DateFormat() string { return s.dateFormat }

// LastChange returns the millisecond epoch of the last mutation, 0 if none.
func (s *Session) LastChange() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChange
}

// SetLastChange overrides the last change timestamp and persists it.
func (s *Session) SetLastChange(ms int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastChange = ms
	return s.persistSettings()
}

// InvalidateCaches forces the album list to be re-read on next use.
func (s *Session) InvalidateCaches() {
	s.mu.Lock()
	s.albums = nil
	s.mu.Unlock()
}

func (s *Session) catalog(ctx context.Context) repository.CatalogRepositoryInterface {
	return repository.NewCatalogRepository(s.orm.WithContext(ctx))
}

func (s *Session) invalidateAlbums() {
	s.albums = nil
}

// touch records a mutation. A failure to persist the timestamp is logged
// only; the mutation itself already committed.
func (s *Session) touch() {
	now := time.Now().UnixMilli()
	if now <= s.lastChange {
		now = s.lastChange + 1
	}
	s.lastChange = now
	if err := s.persistSettings(); err != nil {
		s.logger.Error("failed to persist last change timestamp", zap.Error(err))
	}
}

func (s *Session) persistSettings() error {
	return config.WriteSettings(s.storePath, config.StoreSettings{
		LastChange: s.lastChange,
		DateFormat: s.dateFormat,
	})
}
