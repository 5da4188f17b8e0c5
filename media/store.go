package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/database"
	"github.com/camden-git/collectionstore/logging"
	"github.com/camden-git/collectionstore/models"
	"github.com/camden-git/collectionstore/utils"
)

// PictureStore keeps the picture files of every album under one base
// directory, one sub-directory per album named after its table. Picture
// paths are stored relative to the album's directory, so renaming an album
// only moves the directory.
type PictureStore struct {
	basePath      string
	thumbnailSize int
	logger        *zap.Logger
}

var _ database.AlbumListener = (*PictureStore)(nil)

// NewPictureStore creates a store rooted at basePath
func NewPictureStore(basePath string, thumbnailSize int) (*PictureStore, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base picture path '%s': %w", basePath, err)
	}
	if err := os.MkdirAll(absBasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base picture directory '%s': %w", absBasePath, err)
	}
	logger := logging.Log.Named("media")
	logger.Info("initialized picture store", zap.String("path", absBasePath))
	return &PictureStore{basePath: absBasePath, thumbnailSize: thumbnailSize, logger: logger}, nil
}

// BasePath returns the absolute base directory.
func (ps *PictureStore) BasePath() string { return ps.basePath }

// AlbumDir returns the absolute picture directory of an album.
func (ps *PictureStore) AlbumDir(albumName string) string {
	return filepath.Join(ps.basePath, database.TableName(albumName))
}

// EnsureAlbumDir creates the album's directory tree if needed.
func (ps *PictureStore) EnsureAlbumDir(albumName string) (string, error) {
	dir := ps.AlbumDir(albumName)
	for _, sub := range subDirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return "", fmt.Errorf("failed to ensure directory '%s': %w", dir, err)
		}
	}
	return dir, nil
}

// Import copies the picture read from data into the album and creates its
// thumbnail. The returned picture is not yet linked to an item.
func (ps *PictureStore) Import(albumName, filenameHint string, data io.Reader) (models.AlbumItemPicture, error) {
	if !utils.IsRasterImage(filenameHint) {
		return models.AlbumItemPicture{}, fmt.Errorf("'%s' is not a supported picture", filenameHint)
	}
	dir, err := ps.EnsureAlbumDir(albumName)
	if err != nil {
		return models.AlbumItemPicture{}, err
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(filenameHint))
	originalRel := filepath.ToSlash(filepath.Join(subDirs[AssetTypeOriginal], name))
	originalPath := filepath.Join(dir, originalRel)

	out, err := os.Create(originalPath)
	if err != nil {
		return models.AlbumItemPicture{}, fmt.Errorf("failed to create destination file '%s': %w", originalPath, err)
	}
	if _, err := io.Copy(out, data); err != nil {
		out.Close()
		os.Remove(originalPath)
		return models.AlbumItemPicture{}, fmt.Errorf("failed to write data to '%s': %w", originalPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(originalPath)
		return models.AlbumItemPicture{}, fmt.Errorf("failed to write data to '%s': %w", originalPath, err)
	}

	thumbPath, err := utils.GenerateThumbnail(originalPath, filepath.Join(dir, subDirs[AssetTypeThumbnail]), ps.thumbnailSize, ps.thumbnailSize)
	if err != nil {
		os.Remove(originalPath)
		return models.AlbumItemPicture{}, err
	}
	thumbRel, err := filepath.Rel(dir, thumbPath)
	if err != nil {
		return models.AlbumItemPicture{}, fmt.Errorf("internal error calculating relative path: %w", err)
	}

	ps.logger.Info("imported picture", zap.String("album", albumName), zap.String("path", originalPath))
	return models.AlbumItemPicture{
		OriginalPath:  originalRel,
		ThumbnailPath: filepath.ToSlash(thumbRel),
		AlbumName:     albumName,
	}, nil
}

// ErrOutsideStore rejects picture paths escaping their album directory.
var ErrOutsideStore = errors.New("path outside album directory")

// GetFullPath resolves a picture path of an album and refuses paths that
// leave the album's directory.
func (ps *PictureStore) GetFullPath(albumName, relativePath string) (string, error) {
	dir := ps.AlbumDir(albumName)
	fullPath := filepath.Join(dir, filepath.Clean(filepath.FromSlash(relativePath)))
	if fullPath != dir && !strings.HasPrefix(fullPath, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: '%s'", ErrOutsideStore, relativePath)
	}
	return fullPath, nil
}

// Open returns a reader for a picture file.
func (ps *PictureStore) Open(albumName, relativePath string) (*os.File, os.FileInfo, error) {
	fullPath, err := ps.GetFullPath(albumName, relativePath)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open picture '%s': %w", relativePath, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to stat picture '%s': %w", relativePath, err)
	}
	return file, info, nil
}

// Delete removes the files of a picture. Missing files are not an error.
func (ps *PictureStore) Delete(p models.AlbumItemPicture) error {
	for _, rel := range []string{p.OriginalPath, p.ThumbnailPath} {
		if rel == "" {
			continue
		}
		fullPath, err := ps.GetFullPath(p.AlbumName, rel)
		if err != nil {
			return err
		}
		if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete picture '%s': %w", rel, err)
		}
	}
	return nil
}

// AlbumRenamed moves the album's directory along with its tables.
func (ps *PictureStore) AlbumRenamed(oldName, newName string) {
	from, to := ps.AlbumDir(oldName), ps.AlbumDir(newName)
	if from == to {
		return
	}
	if err := os.Rename(from, to); err != nil && !errors.Is(err, fs.ErrNotExist) {
		ps.logger.Error("failed to move album pictures",
			zap.String("from", from), zap.String("to", to), zap.Error(err))
		return
	}
	ps.logger.Info("moved album pictures", zap.String("from", from), zap.String("to", to))
}

// AlbumRemoved deletes the album's directory.
func (ps *PictureStore) AlbumRemoved(name string) {
	dir := ps.AlbumDir(name)
	if err := os.RemoveAll(dir); err != nil {
		ps.logger.Error("failed to delete album pictures", zap.String("path", dir), zap.Error(err))
		return
	}
	ps.logger.Info("deleted album pictures", zap.String("path", dir))
}

// Repair makes the directory tree match albums: every picture album gets
// its directory, and directories no album owns are reported.
func (ps *PictureStore) Repair(albums []models.Album) error {
	if err := os.MkdirAll(ps.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create base picture directory '%s': %w", ps.basePath, err)
	}
	owned := make(map[string]bool, len(albums))
	for _, a := range albums {
		owned[a.TableName] = true
		if !a.HasPictures {
			continue
		}
		if _, err := ps.EnsureAlbumDir(a.Name); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(ps.basePath)
	if err != nil {
		return fmt.Errorf("failed to read picture directory '%s': %w", ps.basePath, err)
	}
	for _, e := range entries {
		if e.IsDir() && !owned[e.Name()] {
			ps.logger.Warn("picture directory belongs to no album", zap.String("dir", e.Name()))
		}
	}
	return nil
}
