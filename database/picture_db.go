package database

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/camden-git/collectionstore/models"
)

const (
	pictureIDColumn        = "id"
	pictureOriginalColumn  = "original_path"
	pictureThumbnailColumn = "thumbnail_path"
	pictureItemColumn      = "item_id"
)

// insertPictures links pictures to itemID.
func insertPictures(ctx context.Context, q Querier, tables albumTables, itemID int64, pictures []models.AlbumItemPicture) error {
	if len(pictures) == 0 {
		return nil
	}
	queryBuilder := psql.Insert(quoteIdent(tables.pictures)).
		Columns(pictureOriginalColumn, pictureThumbnailColumn, pictureItemColumn)
	for _, p := range pictures {
		queryBuilder = queryBuilder.Values(p.OriginalPath, p.ThumbnailPath, itemID)
	}
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL for insertPictures: %w", err)
	}
	if _, err := q.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to insert pictures of item %d: %w", itemID, err)
	}
	return nil
}

// deletePictures deletes the picture rows of itemID, or of every item when
// itemID is nil, and returns how many went.
func deletePictures(ctx context.Context, q Querier, tables albumTables, itemID *int64) (int64, error) {
	queryBuilder := psql.Delete(quoteIdent(tables.pictures))
	if itemID != nil {
		queryBuilder = queryBuilder.Where(sq.Eq{pictureItemColumn: *itemID})
	}
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL for deletePictures: %w", err)
	}
	res, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete pictures from %s: %w", tables.pictures, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted pictures: %w", err)
	}
	return n, nil
}

// selectPictures returns the pictures of itemID in insertion order.
func selectPictures(ctx context.Context, q Querier, album models.Album, itemID int64) ([]models.AlbumItemPicture, error) {
	tables := tablesFor(album)
	sqlStr, args, err := psql.Select(pictureIDColumn, pictureOriginalColumn, pictureThumbnailColumn, pictureItemColumn).
		From(quoteIdent(tables.pictures)).
		Where(sq.Eq{pictureItemColumn: itemID}).
		OrderBy(pictureIDColumn + " ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for selectPictures: %w", err)
	}
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pictures of item %d: %w", itemID, err)
	}
	defer closeRows(rows)

	pictures := []models.AlbumItemPicture{}
	for rows.Next() {
		p := models.AlbumItemPicture{AlbumName: album.Name}
		if err := rows.Scan(&p.ID, &p.OriginalPath, &p.ThumbnailPath, &p.ItemID); err != nil {
			return nil, fmt.Errorf("failed to scan picture row: %w", err)
		}
		pictures = append(pictures, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating picture rows: %w", err)
	}
	return pictures, nil
}

// GetPictures returns the pictures linked to an item.
func (s *Session) GetPictures(ctx context.Context, albumName string, itemID int64) ([]models.AlbumItemPicture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "get pictures"
	album, err := s.findAlbum(ctx, op, albumName)
	if err != nil {
		return nil, err
	}
	pictures, err := selectPictures(ctx, s.conn, album, itemID)
	if err != nil {
		return nil, newError(KindCleanState, op, err)
	}
	return pictures, nil
}

// RemovePictures deletes the picture rows of an item and returns how many
// were removed. Deleting an item leaves its pictures alone; this is the call
// that removes them.
func (s *Session) RemovePictures(ctx context.Context, albumName string, itemID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "remove pictures"
	album, err := s.findAlbum(ctx, op, albumName)
	if err != nil {
		return 0, err
	}
	var removed int64
	err = s.mutate(ctx, op, func(ctx context.Context) error {
		n, err := deletePictures(ctx, s.conn, tablesFor(album), &itemID)
		removed = n
		return err
	})
	return removed, err
}

// CountPictures returns the number of picture rows of an album.
func (s *Session) CountPictures(ctx context.Context, albumName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "count pictures"
	album, err := s.findAlbum(ctx, op, albumName)
	if err != nil {
		return 0, err
	}
	n, err := countRows(ctx, s.conn, tablesFor(album).pictures, nil)
	if err != nil {
		return 0, newError(KindCleanState, op, err)
	}
	return n, nil
}
