package database

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/facette/natsort"
	"gorm.io/gorm"

	"github.com/camden-git/collectionstore/models"
)

// listAlbums returns the cached catalog, re-reading it when invalidated.
// Albums are ordered naturally by name ("Vol 2" before "Vol 10").
func (s *Session) listAlbums(ctx context.Context) ([]models.Album, error) {
	if s.albums != nil {
		return s.albums, nil
	}
	rows, err := s.catalog(ctx).ListAll()
	if err != nil {
		return nil, err
	}
	albums := make([]models.Album, 0, len(rows))
	for _, row := range rows {
		albums = append(albums, row.ToAlbum())
	}
	sort.SliceStable(albums, func(i, j int) bool {
		return natsort.Compare(strings.ToLower(albums[i].Name), strings.ToLower(albums[j].Name))
	})
	s.albums = albums
	return albums, nil
}

// findAlbum looks an album up by case-insensitive name.
func (s *Session) findAlbum(ctx context.Context, op, name string) (models.Album, error) {
	albums, err := s.listAlbums(ctx)
	if err != nil {
		return models.Album{}, newError(KindCleanState, op, err)
	}
	for _, a := range albums {
		if strings.EqualFold(a.Name, strings.TrimSpace(name)) {
			return a, nil
		}
	}
	return models.Album{}, errorf(KindNotFound, op, "album '%s' does not exist", name)
}

// nameAvailable reports whether name can be given to a new album. The
// display name must be unused and none of the derived schema objects may
// clash with another album's: "My CDs" and "my_cds" share tables, and the
// rebuild snapshot of "Books" is the data table of "Books Temp". except
// names an album ignored by the check, used when an album is renamed.
func (s *Session) nameAvailable(ctx context.Context, name, except string) (bool, error) {
	if !ValidAlbumName(name) {
		return false, nil
	}
	table := TableName(name)
	if reservedTable(table) {
		return false, nil
	}
	albums, err := s.listAlbums(ctx)
	if err != nil {
		return false, err
	}
	for _, a := range albums {
		if except != "" && strings.EqualFold(a.Name, except) {
			continue
		}
		if strings.EqualFold(a.Name, strings.TrimSpace(name)) || namesCollide(a.TableName, table) {
			return false, nil
		}
	}
	return true, nil
}

// ListAlbums returns every album of the catalog.
func (s *Session) ListAlbums(ctx context.Context) ([]models.Album, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	albums, err := s.listAlbums(ctx)
	if err != nil {
		return nil, newError(KindCleanState, "list albums", err)
	}
	out := make([]models.Album, len(albums))
	copy(out, albums)
	return out, nil
}

// IsNameAvailable reports whether a new album could be called name.
func (s *Session) IsNameAvailable(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.nameAvailable(ctx, name, "")
	if err != nil {
		return false, newError(KindCleanState, "check album name", err)
	}
	return ok, nil
}

// GetAlbum returns the catalog entry of the named album.
func (s *Session) GetAlbum(ctx context.Context, name string) (models.Album, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findAlbum(ctx, "get album", name)
}

// catalogNotFound maps gorm's missing-row error onto the store taxonomy.
func catalogNotFound(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(KindNotFound, op, err)
	}
	return err
}
