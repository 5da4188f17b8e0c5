package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/models"
)

// Exclusive is a handle on a session locked for a file-level operation.
// While it is held no other store operation can run, which is what backup
// and restore require.
type Exclusive struct {
	s *Session
}

// Exclusive blocks until no other operation is running and returns a
// handle that must be released.
func (s *Session) Exclusive() *Exclusive {
	s.mu.Lock()
	return &Exclusive{s: s}
}

// Release unlocks the session.
func (e *Exclusive) Release() {
	e.s.mu.Unlock()
}

// StorePath returns the absolute store directory.
func (e *Exclusive) StorePath() string { return e.s.storePath }

// DatabasePath returns the live database file.
func (e *Exclusive) DatabasePath() string { return e.s.dbPath }

// LastChange returns the last change timestamp.
func (e *Exclusive) LastChange() int64 { return e.s.lastChange }

// SetLastChange overrides and persists the last change timestamp.
func (e *Exclusive) SetLastChange(ms int64) error {
	e.s.lastChange = ms
	return e.s.persistSettings()
}

// PersistSettings rewrites the settings file from session state.
func (e *Exclusive) PersistSettings() error {
	return e.s.persistSettings()
}

// Albums re-reads the catalog.
func (e *Exclusive) Albums(ctx context.Context) ([]models.Album, error) {
	e.s.invalidateAlbums()
	return e.s.listAlbums(ctx)
}

// BackupDatabase writes an engine-level copy of the live database to dest.
func (e *Exclusive) BackupDatabase(ctx context.Context, dest string) error {
	destDB, err := sql.Open("sqlite3", dest)
	if err != nil {
		return fmt.Errorf("failed to open backup target %s: %w", dest, err)
	}
	defer destDB.Close()

	destConn, err := destDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to backup target %s: %w", dest, err)
	}
	defer destConn.Close()

	if err := copyDatabase(destConn, e.s.conn); err != nil {
		return fmt.Errorf("engine backup to %s failed: %w", dest, err)
	}
	e.s.logger.Info("engine backup written", zap.String("path", dest))
	return nil
}

// RestoreDatabase replaces the live database with the contents of src.
func (e *Exclusive) RestoreDatabase(ctx context.Context, src string) error {
	srcDB, err := sql.Open("sqlite3", "file:"+src+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open restore source %s: %w", src, err)
	}
	defer srcDB.Close()

	srcConn, err := srcDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to restore source %s: %w", src, err)
	}
	defer srcConn.Close()

	e.s.invalidateAlbums()
	if err := copyDatabase(e.s.conn, srcConn); err != nil {
		return fmt.Errorf("engine restore from %s failed: %w", src, err)
	}
	if err := e.s.catalog(ctx).EnsureTable(); err != nil {
		return fmt.Errorf("restored database has no usable catalog: %w", err)
	}
	e.s.logger.Info("engine restore completed", zap.String("source", src))
	return nil
}

// copyDatabase runs sqlite's online backup from src's main database into dst's.
func copyDatabase(dst, src *sql.Conn) error {
	return dst.Raw(func(dstDriver any) error {
		dstConn, ok := dstDriver.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", dstDriver)
		}
		return src.Raw(func(srcDriver any) error {
			srcConn, ok := srcDriver.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected driver connection %T", srcDriver)
			}
			bk, err := dstConn.Backup("main", srcConn, "main")
			if err != nil {
				return err
			}
			if _, err := bk.Step(-1); err != nil {
				bk.Close()
				return err
			}
			return bk.Finish()
		})
	})
}
