package handlers

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/logging"
	"github.com/camden-git/collectionstore/media"
)

// PictureServer serves picture files of one album. The route is expected
// to carry the album name as {album} and the picture path as the wildcard,
// e.g. r.Get("/albums/{album}/files/*", PictureServer(store)).
func PictureServer(pictures *media.PictureStore) http.HandlerFunc {
	logger := logging.Log.Named("assets")

	return func(w http.ResponseWriter, r *http.Request) {
		album := albumParam(r)
		relativePath := chi.URLParam(r, "*")
		if relativePath == "" {
			http.Error(w, "Invalid asset path", http.StatusBadRequest)
			return
		}

		f, info, err := pictures.Open(album, relativePath)
		if err != nil {
			switch {
			case errors.Is(err, fs.ErrNotExist):
				http.NotFound(w, r)
			case errors.Is(err, media.ErrOutsideStore):
				logger.Warn("picture access outside album directory",
					zap.String("album", album), zap.String("path", relativePath))
				http.Error(w, "Forbidden", http.StatusForbidden)
			default:
				logger.Error("failed to open picture", zap.String("path", relativePath), zap.Error(err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
			return
		}
		defer f.Close()
		if info.IsDir() {
			http.NotFound(w, r)
			return
		}

		cacheDuration := 24 * time.Hour
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(cacheDuration.Seconds())))
		w.Header().Set("Expires", time.Now().Add(cacheDuration).Format(http.TimeFormat))

		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	}
}
