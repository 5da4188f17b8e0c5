// Package backup snapshots the whole store into zip archives and restores
// it from them, including the rotating autosaves.
package backup

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/config"
	"github.com/camden-git/collectionstore/database"
	"github.com/camden-git/collectionstore/logging"
	"github.com/camden-git/collectionstore/media"
	"github.com/camden-git/collectionstore/utils"
)

// DatabaseBackupName is the engine backup's path inside an archive.
const DatabaseBackupName = "database.backup"

// Options configures a Manager.
type Options struct {
	AutosavePath string
	Retention    int
	BuildID      string
}

// Manager runs backups, restores and autosaves of one session. Every
// operation holds the session exclusively for its whole duration.
type Manager struct {
	session     *database.Session
	fs          utils.FileSystem
	pictures    *media.PictureStore
	autosaveDir string
	retention   int
	buildID     string
	logger      *zap.Logger
	now         func() time.Time
}

// NewManager returns a manager for session. pictures may be nil when the
// store has no picture directories to repair after a restore.
func NewManager(session *database.Session, fsys utils.FileSystem, pictures *media.PictureStore, opts Options) *Manager {
	return &Manager{
		session:     session,
		fs:          fsys,
		pictures:    pictures,
		autosaveDir: opts.AutosavePath,
		retention:   opts.Retention,
		buildID:     opts.BuildID,
		logger:      logging.Log.Named("backup"),
		now:         time.Now,
	}
}

func dirty(op string, err error) error {
	return database.NewStoreError(database.KindDirtyState, op, err)
}

// BackupToFile writes a full snapshot of the store to archivePath.
func (m *Manager) BackupToFile(ctx context.Context, archivePath string) error {
	ex := m.session.Exclusive()
	defer ex.Release()

	if err := m.backup(ctx, ex, archivePath); err != nil {
		backupsTotal.WithLabelValues("backup", "failed").Inc()
		return dirty("backup", err)
	}
	backupsTotal.WithLabelValues("backup", "ok").Inc()
	return nil
}

// backup stages a copy of the store tree next to an engine backup of the
// database and zips the staging directory to archivePath.
func (m *Manager) backup(ctx context.Context, ex *database.Exclusive, archivePath string) error {
	absPath, err := filepath.Abs(archivePath)
	if err != nil {
		return fmt.Errorf("invalid backup path '%s': %w", archivePath, err)
	}
	if err := ex.PersistSettings(); err != nil {
		return err
	}

	staging, err := m.fs.MkdirTemp("", "collectionstore-backup-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if err := m.fs.RemoveAll(staging); err != nil {
			m.logger.Warn("failed to remove staging directory", zap.String("path", staging), zap.Error(err))
		}
	}()

	filter := m.newStoreFilter(ex, absPath)
	if err := m.fs.CopyDir(ex.StorePath(), staging, func(rel string, d fs.DirEntry) bool {
		return filter.skip(rel)
	}); err != nil {
		return fmt.Errorf("failed to stage store directory: %w", err)
	}
	if err := ex.BackupDatabase(ctx, filepath.Join(staging, DatabaseBackupName)); err != nil {
		return err
	}

	tmp := absPath + ".partial"
	if err := m.fs.Zip(ctx, staging, tmp); err != nil {
		return err
	}
	if err := m.fs.Rename(tmp, absPath); err != nil {
		m.fs.Remove(tmp)
		return fmt.Errorf("failed to move backup into place: %w", err)
	}
	m.logger.Info("backup written", zap.String("path", absPath), zap.Int64("last_change", ex.LastChange()))
	return nil
}

// storeFilter selects the store entries that stay out of archives and
// survive a restore: the live database files, lock and temporary files, and
// the autosave directory or target archive when they live inside the store.
type storeFilter struct {
	excluded map[string]bool
}

func (m *Manager) newStoreFilter(ex *database.Exclusive, extra ...string) storeFilter {
	dbName := filepath.Base(ex.DatabasePath())
	excluded := map[string]bool{
		dbName:              true,
		dbName + "-wal":     true,
		dbName + "-shm":     true,
		dbName + "-journal": true,
		DatabaseBackupName:  true,
	}
	for _, p := range append([]string{m.autosaveDir}, extra...) {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(ex.StorePath(), abs); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			excluded[filepath.ToSlash(rel)] = true
		}
	}
	return storeFilter{excluded: excluded}
}

// skip reports whether the slash-separated store-relative path rel is
// left out of archives.
func (f storeFilter) skip(rel string) bool {
	if f.excluded[rel] {
		return true
	}
	base := path.Base(rel)
	return strings.HasSuffix(base, ".lock") || strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".partial")
}

// keep reports whether the top-level entry name survives clearing the
// store; parents of excluded paths are kept too.
func (f storeFilter) keep(name string) bool {
	if f.skip(name) {
		return true
	}
	for rel := range f.excluded {
		if strings.HasPrefix(rel, name+"/") {
			return true
		}
	}
	return false
}

// RestoreFromFile replaces the whole store with the archive at archivePath.
// The archive is unpacked to a staging directory first, so a missing or
// unreadable archive leaves the store untouched; any failure after the
// store was cleared is a dirty-state error.
func (m *Manager) RestoreFromFile(ctx context.Context, archivePath string) error {
	ex := m.session.Exclusive()
	defer ex.Release()

	if err := m.restore(ctx, ex, archivePath); err != nil {
		backupsTotal.WithLabelValues("restore", "failed").Inc()
		return err
	}
	backupsTotal.WithLabelValues("restore", "ok").Inc()
	return nil
}

func (m *Manager) restore(ctx context.Context, ex *database.Exclusive, archivePath string) error {
	const op = "restore"
	if !m.fs.Exists(archivePath) {
		return database.NewStoreError(database.KindCleanState, op, fmt.Errorf("archive %s does not exist", archivePath))
	}
	staging, err := m.fs.MkdirTemp("", "collectionstore-restore-*")
	if err != nil {
		return database.NewStoreError(database.KindCleanState, op, err)
	}
	defer func() {
		if err := m.fs.RemoveAll(staging); err != nil {
			m.logger.Warn("failed to remove restore artifact", zap.String("path", staging), zap.Error(err))
		}
	}()

	if err := m.fs.Unzip(ctx, archivePath, staging); err != nil {
		return database.NewStoreError(database.KindCleanState, op, err)
	}
	dbBackup := filepath.Join(staging, DatabaseBackupName)
	if !m.fs.Exists(dbBackup) {
		return database.NewStoreError(database.KindCleanState, op, fmt.Errorf("archive %s holds no %s", archivePath, DatabaseBackupName))
	}

	// nothing was touched so far; from here on failures leave the store dirty
	absPath, _ := filepath.Abs(archivePath)
	filter := m.newStoreFilter(ex, absPath)
	if err := m.fs.ClearDir(ex.StorePath(), filter.keep); err != nil {
		return dirty(op, fmt.Errorf("failed to clear store directory: %w", err))
	}
	if err := m.fs.CopyDir(staging, ex.StorePath(), func(rel string, d fs.DirEntry) bool {
		return rel == DatabaseBackupName
	}); err != nil {
		return dirty(op, fmt.Errorf("failed to unpack store directory: %w", err))
	}
	if err := ex.RestoreDatabase(ctx, dbBackup); err != nil {
		return dirty(op, err)
	}

	lastChange := m.now().UnixMilli()
	if settings, err := config.ReadSettings(ex.StorePath()); err == nil && settings.LastChange > 0 {
		lastChange = settings.LastChange
	} else {
		m.logger.Warn("archive carries no usable last change timestamp, using now", zap.Error(err))
	}
	if err := ex.SetLastChange(lastChange); err != nil {
		return dirty(op, err)
	}

	if err := m.fs.RemoveAll(staging); err != nil {
		return dirty(op, fmt.Errorf("failed to delete restore artifact: %w", err))
	}

	albums, err := ex.Albums(ctx)
	if err != nil {
		return dirty(op, err)
	}
	if m.pictures != nil {
		if err := m.pictures.Repair(albums); err != nil {
			return dirty(op, err)
		}
	}
	m.logger.Info("store restored",
		zap.String("archive", archivePath),
		zap.Int("albums", len(albums)),
		zap.Int64("last_change", lastChange))
	return nil
}
