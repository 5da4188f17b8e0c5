package database

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/camden-git/collectionstore/models"
)

// storageValues maps an item's fields onto the schema's columns. Values are
// checked against the declared column type; fields the item does not carry
// get the type's default.
func storageValues(op string, sc *albumSchema, item *models.AlbumItem) ([]any, error) {
	values := make([]any, len(sc.fields))
	for i, f := range sc.fields {
		v, err := f.Type.ToStorage(nil)
		if err != nil {
			return nil, newError(KindInvalidItem, op, err)
		}
		values[i] = v
	}
	for _, f := range item.Fields {
		name := strings.TrimSpace(f.Name)
		if strings.EqualFold(name, idColumn) || strings.EqualFold(name, contentVersionColumn) {
			continue
		}
		meta, idx, ok := sc.field(name)
		if !ok {
			return nil, errorf(KindInvalidItem, op, "album '%s' has no field '%s'", sc.album.Name, f.Name)
		}
		v, err := meta.Type.ToStorage(f.Value)
		if err != nil {
			return nil, newError(KindInvalidItem, op, err)
		}
		values[idx] = v
	}
	return values, nil
}

func (s *Session) itemSchema(ctx context.Context, op string, item *models.AlbumItem) (*albumSchema, error) {
	if item == nil {
		return nil, errorf(KindInvalidItem, op, "item is nil")
	}
	if strings.TrimSpace(item.AlbumName) == "" {
		return nil, errorf(KindInvalidItem, op, "item has no album name")
	}
	album, err := s.findAlbum(ctx, op, item.AlbumName)
	if err != nil {
		return nil, err
	}
	sc, err := loadSchema(ctx, s.conn, album)
	if err != nil {
		return nil, newError(KindCleanState, op, err)
	}
	return sc, nil
}

// AddItem inserts item and returns its id. An item that already carries an
// id keeps it. With updateContentVersion false the item's content version
// is mandatory and stored as is; otherwise a fresh one is generated. On
// success the item's id, content version and pictures are updated in place.
func (s *Session) AddItem(ctx context.Context, item *models.AlbumItem, addPictures, updateContentVersion bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "add item"
	sc, err := s.itemSchema(ctx, op, item)
	if err != nil {
		return models.ItemIDUndefined, err
	}
	if !updateContentVersion && item.ContentVersion == uuid.Nil {
		return models.ItemIDUndefined, errorf(KindMissingContentVersion, op, "item has no content version to carry over")
	}
	values, err := storageValues(op, sc, item)
	if err != nil {
		return models.ItemIDUndefined, err
	}
	version := item.ContentVersion
	if updateContentVersion {
		version = uuid.New()
	}

	var columns []string
	var args []any
	if item.IsPersisted() {
		columns = append(columns, quoteIdent(idColumn))
		args = append(args, item.ItemID)
	}
	for i, f := range sc.fields {
		columns = append(columns, quoteIdent(f.Name))
		args = append(args, values[i])
	}
	columns = append(columns, quoteIdent(typeInfoColumn), quoteIdent(contentVersionColumn))
	args = append(args, sc.typeInfoID, version.String())

	var id int64
	err = s.mutate(ctx, op, func(ctx context.Context) error {
		sqlStr, sqlArgs, err := psql.Insert(quoteIdent(sc.tables.data)).Columns(columns...).Values(args...).ToSql()
		if err != nil {
			return err
		}
		res, err := s.conn.ExecContext(ctx, sqlStr, sqlArgs...)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if addPictures {
			return insertPictures(ctx, s.conn, sc.tables, id, item.Pictures)
		}
		return nil
	})
	if err != nil {
		return models.ItemIDUndefined, err
	}

	item.ItemID = id
	item.ContentVersion = version
	item.AlbumName = sc.album.Name
	for i := range item.Pictures {
		item.Pictures[i].AlbumName = sc.album.Name
		item.Pictures[i].ItemID = id
	}
	return id, nil
}

// UpdateItem rewrites every field of a persisted item and gives it a fresh
// content version. Its pictures replace the stored ones.
func (s *Session) UpdateItem(ctx context.Context, item *models.AlbumItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "update item"
	sc, err := s.itemSchema(ctx, op, item)
	if err != nil {
		return err
	}
	if !item.IsPersisted() {
		return errorf(KindInvalidItem, op, "item has no id")
	}
	values, err := storageValues(op, sc, item)
	if err != nil {
		return err
	}
	version := uuid.New()

	queryBuilder := psql.Update(quoteIdent(sc.tables.data)).
		Set(quoteIdent(contentVersionColumn), version.String()).
		Where(sq.Eq{quoteIdent(idColumn): item.ItemID})
	for i, f := range sc.fields {
		queryBuilder = queryBuilder.Set(quoteIdent(f.Name), values[i])
	}

	err = s.mutate(ctx, op, func(ctx context.Context) error {
		sqlStr, args, err := queryBuilder.ToSql()
		if err != nil {
			return err
		}
		res, err := s.conn.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return errorf(KindNotFound, op, "album '%s' has no item %d", sc.album.Name, item.ItemID)
		}
		if _, err := deletePictures(ctx, s.conn, sc.tables, &item.ItemID); err != nil {
			return err
		}
		return insertPictures(ctx, s.conn, sc.tables, item.ItemID, item.Pictures)
	})
	if err != nil {
		return err
	}

	item.ContentVersion = version
	for i := range item.Pictures {
		item.Pictures[i].AlbumName = sc.album.Name
		item.Pictures[i].ItemID = item.ItemID
	}
	return nil
}

// DeleteItem removes the item's row. Its picture rows stay; callers that
// want them gone call RemovePictures.
func (s *Session) DeleteItem(ctx context.Context, item *models.AlbumItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "delete item"
	if item == nil || strings.TrimSpace(item.AlbumName) == "" {
		return errorf(KindInvalidItem, op, "item has no album name")
	}
	if !item.IsPersisted() {
		return errorf(KindInvalidItem, op, "item has no id")
	}
	album, err := s.findAlbum(ctx, op, item.AlbumName)
	if err != nil {
		return err
	}
	return s.mutate(ctx, op, func(ctx context.Context) error {
		sqlStr, args, err := psql.Delete(quoteIdent(album.TableName)).
			Where(sq.Eq{quoteIdent(idColumn): item.ItemID}).
			ToSql()
		if err != nil {
			return err
		}
		res, err := s.conn.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return errorf(KindNotFound, op, "album '%s' has no item %d", album.Name, item.ItemID)
		}
		return nil
	})
}

// GetItem reads one item including its pictures.
func (s *Session) GetItem(ctx context.Context, albumName string, id int64) (*models.AlbumItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "get item"
	album, err := s.findAlbum(ctx, op, albumName)
	if err != nil {
		return nil, err
	}
	sc, err := loadSchema(ctx, s.conn, album)
	if err != nil {
		return nil, newError(KindCleanState, op, err)
	}
	sqlStr, args, err := psql.Select("*").From(quoteIdent(sc.tables.data)).
		Where(sq.Eq{quoteIdent(idColumn): id}).
		ToSql()
	if err != nil {
		return nil, newError(KindCleanState, op, err)
	}
	rows, err := s.conn.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, newError(KindCleanState, op, err)
	}
	rs, err := newResultSet(rows, sc)
	if err != nil {
		closeRows(rows)
		return nil, newError(KindCleanState, op, err)
	}
	defer rs.Close()

	if !rs.MoveToNext() {
		if err := rs.Err(); err != nil {
			return nil, newError(KindCleanState, op, err)
		}
		return nil, errorf(KindNotFound, op, "album '%s' has no item %d", album.Name, id)
	}
	item, err := rs.Item()
	if err != nil {
		return nil, newError(KindCleanState, op, err)
	}
	// the row stream must be done before the connection runs another query
	if err := rs.Close(); err != nil {
		return nil, newError(KindCleanState, op, err)
	}
	if item.Pictures, err = selectPictures(ctx, s.conn, album, id); err != nil {
		return nil, newError(KindCleanState, op, err)
	}
	return item, nil
}

// CountItems returns the number of items of an album.
func (s *Session) CountItems(ctx context.Context, albumName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "count items"
	album, err := s.findAlbum(ctx, op, albumName)
	if err != nil {
		return 0, err
	}
	n, err := countRows(ctx, s.conn, album.TableName, nil)
	if err != nil {
		return 0, newError(KindCleanState, op, err)
	}
	return n, nil
}
