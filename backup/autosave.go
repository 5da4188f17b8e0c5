package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/database"
)

// AutosaveExtension ends every autosave filename.
const AutosaveExtension = ".autosave"

var (
	autosavePattern = regexp.MustCompile(`^(\w+)_(\d+)\.autosave$`)
	nonWordChars    = regexp.MustCompile(`\W+`)
)

// AutoSave is one autosave file. Timestamp is -1 when the name carries no
// usable timestamp; such files sort as the oldest.
type AutoSave struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
}

// AutosaveName builds the filename of an autosave taken at ms.
func AutosaveName(buildID string, ms int64) string {
	id := strings.Trim(nonWordChars.ReplaceAllString(buildID, "_"), "_")
	if id == "" {
		id = "collectionstore"
	}
	return fmt.Sprintf("%s_%d%s", id, ms, AutosaveExtension)
}

// ExtractTimestamp reads the millisecond timestamp out of an autosave
// filename. Paths are reduced to their base name first.
func ExtractTimestamp(filename string) (int64, error) {
	const op = "extract autosave timestamp"
	name := filepath.Base(strings.TrimSpace(filename))
	match := autosavePattern.FindStringSubmatch(name)
	if match == nil {
		return 0, database.NewStoreError(database.KindCleanState, op,
			fmt.Errorf("'%s' is not an autosave filename", name))
	}
	ts, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return 0, database.NewStoreError(database.KindCleanState, op, err)
	}
	return ts, nil
}

// GetAllAutoSaves lists the autosaves newest first. A missing autosave
// directory yields an empty list.
func (m *Manager) GetAllAutoSaves() ([]AutoSave, error) {
	if !m.fs.Exists(m.autosaveDir) {
		return []AutoSave{}, nil
	}
	entries, err := m.fs.ReadDir(m.autosaveDir)
	if err != nil {
		return nil, database.NewStoreError(database.KindCleanState, "list autosaves", err)
	}

	saves := []AutoSave{}
	for _, e := range entries {
		if e.IsDir() || !autosavePattern.MatchString(e.Name()) {
			continue
		}
		ts, err := ExtractTimestamp(e.Name())
		if err != nil {
			m.logger.Warn("autosave has an unreadable timestamp", zap.String("name", e.Name()), zap.Error(err))
			ts = -1
		}
		saves = append(saves, AutoSave{
			Name:      e.Name(),
			Path:      filepath.Join(m.autosaveDir, e.Name()),
			Timestamp: ts,
		})
	}
	sort.SliceStable(saves, func(i, j int) bool {
		return saves[i].Timestamp > saves[j].Timestamp
	})
	return saves, nil
}

// BackupAutoSave writes an autosave when something changed since the newest
// one, first deleting the oldest autosaves beyond the retention limit. It
// returns the written path, or "" when nothing was written.
func (m *Manager) BackupAutoSave(ctx context.Context) (string, error) {
	if m.retention < 1 {
		return "", nil
	}
	ex := m.session.Exclusive()
	defer ex.Release()

	saves, err := m.GetAllAutoSaves()
	if err != nil {
		autosavesTotal.WithLabelValues("failed").Inc()
		return "", err
	}

	lastChange := ex.LastChange()
	if len(saves) > 0 && lastChange <= saves[0].Timestamp {
		autosavesTotal.WithLabelValues("skipped").Inc()
		m.logger.Debug("no change since the newest autosave", zap.String("newest", saves[0].Name))
		return "", nil
	}
	ts := lastChange
	if ts <= 0 {
		ts = m.now().UnixMilli()
	}

	for len(saves) >= m.retention {
		oldest := saves[len(saves)-1]
		if err := m.fs.Remove(oldest.Path); err != nil {
			autosavesTotal.WithLabelValues("failed").Inc()
			return "", dirty("autosave", fmt.Errorf("failed to delete old autosave %s: %w", oldest.Name, err))
		}
		m.logger.Info("deleted old autosave", zap.String("name", oldest.Name))
		saves = saves[:len(saves)-1]
	}

	if err := m.fs.MkdirAll(m.autosaveDir); err != nil {
		autosavesTotal.WithLabelValues("failed").Inc()
		return "", dirty("autosave", err)
	}
	target := filepath.Join(m.autosaveDir, AutosaveName(m.buildID, ts))
	if err := m.backup(ctx, ex, target); err != nil {
		autosavesTotal.WithLabelValues("failed").Inc()
		return "", dirty("autosave", err)
	}
	autosavesTotal.WithLabelValues("written").Inc()
	return target, nil
}

// RestoreLatestAutoSave restores the newest autosave; it is the way back
// from an untrustworthy store.
func (m *Manager) RestoreLatestAutoSave(ctx context.Context) (string, error) {
	saves, err := m.GetAllAutoSaves()
	if err != nil {
		return "", err
	}
	if len(saves) == 0 {
		return "", database.NewStoreError(database.KindNotFound, "restore latest autosave",
			fmt.Errorf("no autosave in %s", m.autosaveDir))
	}
	return saves[0].Path, m.RestoreFromFile(ctx, saves[0].Path)
}
