package database

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/models"
)

// mutate runs fn under a savepoint and records the change on success.
func (s *Session) mutate(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := s.withSavepoint(ctx, op, fn); err != nil {
		return err
	}
	s.touch()
	return nil
}

// validateNewFields checks the field list of a new album. The synthetic id
// field may be passed along and is dropped; any other ID-typed field is
// rejected.
func validateNewFields(op string, fields []models.MetaItemField) ([]models.MetaItemField, error) {
	out := make([]models.MetaItemField, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.IsID() {
			continue
		}
		if err := validateNewField(op, f); err != nil {
			return nil, err
		}
		f.Name = strings.TrimSpace(f.Name)
		key := strings.ToLower(f.Name)
		if seen[key] {
			return nil, errorf(KindNameInUse, op, "field '%s' is declared twice", f.Name)
		}
		seen[key] = true
		out = append(out, f)
	}
	return out, nil
}

func validateNewField(op string, f models.MetaItemField) error {
	switch {
	case strings.TrimSpace(f.Name) == "":
		return errorf(KindCleanState, op, "field name is empty")
	case !f.Type.Valid():
		return errorf(KindCleanState, op, "field '%s' has an invalid type", f.Name)
	case f.Type == models.FieldTypeID:
		return errorf(KindCleanState, op, "field '%s' cannot be of type ID", f.Name)
	case isReservedColumn(f.Name):
		return errorf(KindNameInUse, op, "field name '%s' is reserved", f.Name)
	}
	return nil
}

// CreateAlbum builds the data, type-info and picture tables of a new album,
// registers it in the catalog and indexes its quick-searchable fields.
func (s *Session) CreateAlbum(ctx context.Context, name string, fields []models.MetaItemField, hasPictures bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "create album"
	name = strings.TrimSpace(name)
	if !ValidAlbumName(name) {
		return errorf(KindCleanState, op, "album name is empty")
	}
	fields, err := validateNewFields(op, fields)
	if err != nil {
		return err
	}
	available, err := s.nameAvailable(ctx, name, "")
	if err != nil {
		return newError(KindCleanState, op, err)
	}
	if !available {
		return errorf(KindNameInUse, op, "album name '%s' is already in use", name)
	}

	album := models.Album{Name: name, TableName: TableName(name), HasPictures: hasPictures}
	tables := tablesFor(album)
	defer s.invalidateAlbums()
	err = s.mutate(ctx, op, func(ctx context.Context) error {
		if _, _, err := createTypeInfoTable(ctx, s.conn, tables.typeInfo, fields); err != nil {
			return err
		}
		if err := createDataTable(ctx, s.conn, tables, fields); err != nil {
			return err
		}
		if err := createPictureTable(ctx, s.conn, tables); err != nil {
			return err
		}
		if err := s.catalog(ctx).Create(&models.CatalogAlbum{
			Name:         album.Name,
			PhysicalName: album.TableName,
			HasPictures:  models.PictureFlag(hasPictures),
		}); err != nil {
			return err
		}
		return createQuickSearchIndex(ctx, s.conn, tables, fields)
	})
	if err != nil {
		return err
	}
	s.logger.Info("album created", zap.String("album", name), zap.Int("fields", len(fields)))
	return nil
}

// RemoveAlbum drops the album's tables and its catalog entry.
func (s *Session) RemoveAlbum(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "remove album"
	album, err := s.findAlbum(ctx, op, name)
	if err != nil {
		return err
	}
	tables := tablesFor(album)
	defer s.invalidateAlbums()
	err = s.mutate(ctx, op, func(ctx context.Context) error {
		for _, drop := range []func() error{
			func() error { return dropIndex(ctx, s.conn, tables.index) },
			func() error { return dropTable(ctx, s.conn, tables.pictures) },
			func() error { return dropTable(ctx, s.conn, tables.data) },
			func() error { return dropTable(ctx, s.conn, tables.typeInfo) },
		} {
			if err := drop(); err != nil {
				return err
			}
		}
		return catalogNotFound(op, s.catalog(ctx).Delete(album.Name))
	})
	if err != nil {
		return err
	}
	s.logger.Info("album removed", zap.String("album", album.Name))
	s.notifyRemoved(album.Name)
	return nil
}

// RenameAlbum renames the album and its physical tables. Listeners learn
// about the new name once the rename committed.
func (s *Session) RenameAlbum(ctx context.Context, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "rename album"
	album, err := s.findAlbum(ctx, op, oldName)
	if err != nil {
		return err
	}
	newName = strings.TrimSpace(newName)
	if !ValidAlbumName(newName) {
		return errorf(KindInvalidRename, op, "new album name is empty")
	}
	if newName == album.Name {
		return nil
	}
	available, err := s.nameAvailable(ctx, newName, album.Name)
	if err != nil {
		return newError(KindCleanState, op, err)
	}
	if !available {
		return errorf(KindNameInUse, op, "album name '%s' is already in use", newName)
	}

	sc, err := loadSchema(ctx, s.conn, album)
	if err != nil {
		return newError(KindCleanState, op, err)
	}
	renamed := album
	renamed.Name = newName
	renamed.TableName = TableName(newName)
	from, to := tablesFor(album), tablesFor(renamed)

	defer s.invalidateAlbums()
	err = s.mutate(ctx, op, func(ctx context.Context) error {
		if from.data != to.data {
			if err := dropIndex(ctx, s.conn, from.index); err != nil {
				return err
			}
			if err := renameTable(ctx, s.conn, from.typeInfo, to.typeInfo); err != nil {
				return err
			}
			if err := renameTable(ctx, s.conn, from.data, to.data); err != nil {
				return err
			}
			if err := renameTable(ctx, s.conn, from.pictures, to.pictures); err != nil {
				return err
			}
			if err := createQuickSearchIndex(ctx, s.conn, to, sc.fields); err != nil {
				return err
			}
		}
		return catalogNotFound(op, s.catalog(ctx).Rename(album.Name, renamed.Name, renamed.TableName))
	})
	if err != nil {
		return err
	}
	s.logger.Info("album renamed", zap.String("from", album.Name), zap.String("to", newName))
	s.notifyRenamed(album.Name, newName)
	return nil
}

// SetPictureFunctionality flips the album's picture flag. Disabling purges
// the picture rows; the table itself always stays.
func (s *Session) SetPictureFunctionality(ctx context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "set picture functionality"
	album, err := s.findAlbum(ctx, op, name)
	if err != nil {
		return err
	}
	tables := tablesFor(album)
	defer s.invalidateAlbums()
	return s.mutate(ctx, op, func(ctx context.Context) error {
		if !enabled {
			if _, err := deletePictures(ctx, s.conn, tables, nil); err != nil {
				return err
			}
		}
		return catalogNotFound(op, s.catalog(ctx).UpdatePictureFlag(album.Name, enabled))
	})
}

// SetSortField sets the field results are ordered by when a query names no
// order. An empty field clears it.
func (s *Session) SetSortField(ctx context.Context, name, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "set sort field"
	album, err := s.findAlbum(ctx, op, name)
	if err != nil {
		return err
	}
	var sortField *string
	if strings.TrimSpace(field) != "" {
		sc, err := loadSchema(ctx, s.conn, album)
		if err != nil {
			return newError(KindCleanState, op, err)
		}
		f, ok := sc.fieldOrID(field)
		if !ok {
			return errorf(KindNotFound, op, "album '%s' has no field '%s'", album.Name, field)
		}
		sortField = &f.Name
	}
	defer s.invalidateAlbums()
	return s.mutate(ctx, op, func(ctx context.Context) error {
		return catalogNotFound(op, s.catalog(ctx).UpdateSortField(album.Name, sortField))
	})
}
