package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/database"
	"github.com/camden-git/collectionstore/logging"
	"github.com/camden-git/collectionstore/media"
	"github.com/camden-git/collectionstore/models"
	"github.com/camden-git/collectionstore/realtime"
)

// maxPictureUpload bounds multipart picture uploads.
const maxPictureUpload = 32 << 20

type ItemHandler struct {
	Store    *database.Session
	Pictures *media.PictureStore
	Hub      *realtime.Hub
}

type searchResponse struct {
	Query string    `json:"query"`
	Items []itemDTO `json:"items"`
}

func itemIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "item"), 10, 64)
	if err != nil || id <= models.ItemIDUndefined {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "item id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (ih *ItemHandler) changed(album string) {
	if ih.Hub != nil {
		ih.Hub.Broadcast(realtime.Event{Type: realtime.EventItemsChanged, Album: album})
	}
}

// ListItems lists an album. ?q= runs a quick search over its whitespace
// separated terms, ?sort=field[:asc|desc] orders the listing.
func (ih *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	album := albumParam(r)

	var (
		q   database.Query
		err error
	)
	switch {
	case r.URL.Query().Get("q") != "":
		q, err = ih.Store.QuickSearch(ctx, album, strings.Fields(r.URL.Query().Get("q")))
	case r.URL.Query().Get("sort") != "":
		order, perr := database.ParseSortOrder(r.URL.Query().Get("sort"))
		if perr != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_sort", perr.Error())
			return
		}
		q, err = ih.Store.BuildQuery(ctx, album, nil, true, &order)
	default:
		q, err = ih.Store.SelectAll(ctx, album)
	}
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	ih.runQuery(w, r, q)
}

// SearchItems runs a structured search.
func (ih *ItemHandler) SearchItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Predicates []database.Predicate `json:"predicates"`
		MatchAny   bool                 `json:"match_any"`
		Sort       string               `json:"sort"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	for i, p := range req.Predicates {
		// JSON numbers decode as float64; hand them over as text so the
		// field's own parser decides between integer and decimal.
		if f, ok := p.Value.(float64); ok {
			req.Predicates[i].Value = strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	var order *database.SortOrder
	if req.Sort != "" {
		parsed, err := database.ParseSortOrder(req.Sort)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_sort", err.Error())
			return
		}
		order = &parsed
	}
	q, err := ih.Store.BuildQuery(r.Context(), albumParam(r), req.Predicates, !req.MatchAny, order)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	ih.runQuery(w, r, q)
}

func (ih *ItemHandler) runQuery(w http.ResponseWriter, r *http.Request, q database.Query) {
	rs, err := ih.Store.Search(r.Context(), q)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	defer rs.Close()

	resp := searchResponse{Query: q.Inline(), Items: []itemDTO{}}
	for rs.MoveToNext() {
		item, err := rs.Item()
		if err != nil {
			WriteAPIError(w, http.StatusInternalServerError, "corrupt_row", err.Error())
			return
		}
		resp.Items = append(resp.Items, itemToDTO(item, ih.Store.DateFormat()))
	}
	if err := rs.Err(); err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (ih *ItemHandler) decodeItem(w http.ResponseWriter, r *http.Request) (*models.AlbumItem, bool) {
	var req itemRequest
	if !decodeJSON(w, r, &req) {
		return nil, false
	}
	album := albumParam(r)
	fields, err := ih.Store.GetAlbumFields(r.Context(), album)
	if err != nil {
		WriteStoreError(w, err)
		return nil, false
	}
	item, err := req.toItem(album, fields, ih.Store.DateFormat())
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_item", err.Error())
		return nil, false
	}
	return item, true
}

// CreateItem adds an item. A request carrying a content version keeps it.
func (ih *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	item, ok := ih.decodeItem(w, r)
	if !ok {
		return
	}
	carryOver := r.URL.Query().Get("keep_version") == "true"
	if _, err := ih.Store.AddItem(r.Context(), item, false, !carryOver); err != nil {
		WriteStoreError(w, err)
		return
	}
	ih.changed(item.AlbumName)
	writeJSON(w, http.StatusCreated, itemToDTO(item, ih.Store.DateFormat()))
}

func (ih *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemIDParam(w, r)
	if !ok {
		return
	}
	item, err := ih.Store.GetItem(r.Context(), albumParam(r), id)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemToDTO(item, ih.Store.DateFormat()))
}

// UpdateItem rewrites an item's values and keeps its pictures.
func (ih *ItemHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemIDParam(w, r)
	if !ok {
		return
	}
	item, ok := ih.decodeItem(w, r)
	if !ok {
		return
	}
	item.ItemID = id
	pictures, err := ih.Store.GetPictures(r.Context(), item.AlbumName, id)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	item.Pictures = pictures
	if err := ih.Store.UpdateItem(r.Context(), item); err != nil {
		WriteStoreError(w, err)
		return
	}
	ih.changed(item.AlbumName)
	writeJSON(w, http.StatusOK, itemToDTO(item, ih.Store.DateFormat()))
}

// DeleteItem deletes an item. ?purge_pictures=true also removes its
// pictures and their files.
func (ih *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	album := albumParam(r)
	item := models.NewAlbumItem(album)
	item.ItemID = id

	var pictures []models.AlbumItemPicture
	purge := r.URL.Query().Get("purge_pictures") == "true"
	if purge {
		var err error
		if pictures, err = ih.Store.GetPictures(ctx, album, id); err != nil {
			WriteStoreError(w, err)
			return
		}
	}
	if err := ih.Store.DeleteItem(ctx, item); err != nil {
		WriteStoreError(w, err)
		return
	}
	if purge {
		if _, err := ih.Store.RemovePictures(ctx, album, id); err != nil {
			WriteStoreError(w, err)
			return
		}
		ih.deleteFiles(pictures)
	}
	ih.changed(album)
	w.WriteHeader(http.StatusNoContent)
}

func (ih *ItemHandler) deleteFiles(pictures []models.AlbumItemPicture) {
	if ih.Pictures == nil {
		return
	}
	for _, p := range pictures {
		if err := ih.Pictures.Delete(p); err != nil {
			logging.Log.Named("http").Warn("failed to delete picture files", zap.String("path", p.OriginalPath), zap.Error(err))
		}
	}
}

// UploadPicture imports the multipart "file" and links it to the item.
func (ih *ItemHandler) UploadPicture(w http.ResponseWriter, r *http.Request) {
	id, ok := itemIDParam(w, r)
	if !ok {
		return
	}
	if ih.Pictures == nil {
		WriteAPIError(w, http.StatusServiceUnavailable, "no_picture_store", "pictures are not configured")
		return
	}
	ctx := r.Context()
	albumName := albumParam(r)
	album, err := ih.Store.GetAlbum(ctx, albumName)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	if !album.HasPictures {
		WriteAPIError(w, http.StatusConflict, "pictures_disabled", "album '"+album.Name+"' has no pictures")
		return
	}

	if err := r.ParseMultipartForm(maxPictureUpload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	defer file.Close()

	item, err := ih.Store.GetItem(ctx, album.Name, id)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	picture, err := ih.Pictures.Import(album.Name, header.Filename, file)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_picture", err.Error())
		return
	}
	item.Pictures = append(item.Pictures, picture)
	if err := ih.Store.UpdateItem(ctx, item); err != nil {
		ih.deleteFiles([]models.AlbumItemPicture{picture})
		WriteStoreError(w, err)
		return
	}
	ih.changed(album.Name)
	writeJSON(w, http.StatusCreated, itemToDTO(item, ih.Store.DateFormat()))
}

// DeletePictures removes every picture of an item, files included.
func (ih *ItemHandler) DeletePictures(w http.ResponseWriter, r *http.Request) {
	id, ok := itemIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	album := albumParam(r)
	pictures, err := ih.Store.GetPictures(ctx, album, id)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	removed, err := ih.Store.RemovePictures(ctx, album, id)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	ih.deleteFiles(pictures)
	ih.changed(album)
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
