package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/backup"
	"github.com/camden-git/collectionstore/logging"
	"github.com/camden-git/collectionstore/realtime"
)

type BackupHandler struct {
	Backups *backup.Manager
	Hub     *realtime.Hub
}

type archiveRequest struct {
	Path string `json:"path" validate:"required"`
}

type autosaveDTO struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
}

func (bh *BackupHandler) restored(source string) {
	if bh.Hub != nil {
		bh.Hub.Broadcast(realtime.Event{Type: realtime.EventRestored, Extra: map[string]any{"source": source}})
	}
}

// CreateBackup writes a backup archive to a path on the server.
func (bh *BackupHandler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := bh.Backups.BackupToFile(r.Context(), req.Path); err != nil {
		WriteStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": req.Path})
}

// DownloadBackup streams a freshly made backup archive.
func (bh *BackupHandler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "collectionstore-download-")
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "backup_failed", err.Error())
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logging.Log.Named("http").Warn("failed to remove download staging", zap.String("dir", dir), zap.Error(err))
		}
	}()

	name := "collection_" + time.Now().Format("20060102_150405") + ".zip"
	archivePath := filepath.Join(dir, name)
	if err := bh.Backups.BackupToFile(r.Context(), archivePath); err != nil {
		WriteStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, archivePath)
}

// RestoreBackup replaces the store with a backup archive on the server.
func (bh *BackupHandler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := bh.Backups.RestoreFromFile(r.Context(), req.Path); err != nil {
		WriteStoreError(w, err)
		return
	}
	bh.restored(req.Path)
	writeJSON(w, http.StatusOK, map[string]string{"restored": req.Path})
}

func (bh *BackupHandler) ListAutoSaves(w http.ResponseWriter, r *http.Request) {
	saves, err := bh.Backups.GetAllAutoSaves()
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	resp := make([]autosaveDTO, 0, len(saves))
	for _, s := range saves {
		resp = append(resp, autosaveDTO{Name: s.Name, Path: s.Path, Timestamp: s.Timestamp})
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateAutoSave writes an autosave now. An empty path in the response means
// nothing changed since the newest autosave.
func (bh *BackupHandler) CreateAutoSave(w http.ResponseWriter, r *http.Request) {
	archivePath, err := bh.Backups.BackupAutoSave(r.Context())
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": archivePath})
}

func (bh *BackupHandler) RestoreLatestAutoSave(w http.ResponseWriter, r *http.Request) {
	archivePath, err := bh.Backups.RestoreLatestAutoSave(r.Context())
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	bh.restored(archivePath)
	writeJSON(w, http.StatusOK, map[string]string{"restored": archivePath})
}
