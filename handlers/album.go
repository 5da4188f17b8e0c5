package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/collectionstore/database"
	"github.com/camden-git/collectionstore/media"
	"github.com/camden-git/collectionstore/models"
)

type AlbumHandler struct {
	Store    *database.Session
	Pictures *media.PictureStore
}

type albumResponse struct {
	models.Album
	Fields       []fieldDTO `json:"fields"`
	ItemCount    int64      `json:"item_count"`
	PictureCount int64      `json:"picture_count"`
}

func albumParam(r *http.Request) string { return chi.URLParam(r, "album") }

func (ah *AlbumHandler) ListAlbums(w http.ResponseWriter, r *http.Request) {
	albums, err := ah.Store.ListAlbums(r.Context())
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, albums)
}

func (ah *AlbumHandler) CreateAlbum(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string     `json:"name" validate:"required"`
		Fields      []fieldDTO `json:"fields" validate:"dive"`
		HasPictures bool       `json:"has_pictures"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	fields := make([]models.MetaItemField, 0, len(req.Fields))
	for _, f := range req.Fields {
		meta, err := f.toMeta()
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_field", err.Error())
			return
		}
		fields = append(fields, meta)
	}
	if err := ah.Store.CreateAlbum(r.Context(), req.Name, fields, req.HasPictures); err != nil {
		WriteStoreError(w, err)
		return
	}
	if req.HasPictures && ah.Pictures != nil {
		if _, err := ah.Pictures.EnsureAlbumDir(req.Name); err != nil {
			WriteAPIError(w, http.StatusInternalServerError, "picture_dir", err.Error())
			return
		}
	}
	ah.writeAlbum(w, r, req.Name, http.StatusCreated)
}

func (ah *AlbumHandler) GetAlbum(w http.ResponseWriter, r *http.Request) {
	ah.writeAlbum(w, r, albumParam(r), http.StatusOK)
}

func (ah *AlbumHandler) writeAlbum(w http.ResponseWriter, r *http.Request, name string, status int) {
	ctx := r.Context()
	album, err := ah.Store.GetAlbum(ctx, name)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	fields, err := ah.Store.GetAlbumFields(ctx, album.Name)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	items, err := ah.Store.CountItems(ctx, album.Name)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	pictures, err := ah.Store.CountPictures(ctx, album.Name)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	writeJSON(w, status, albumResponse{
		Album:        album,
		Fields:       fieldsToDTO(fields),
		ItemCount:    items,
		PictureCount: pictures,
	})
}

func (ah *AlbumHandler) RenameAlbum(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ah.Store.RenameAlbum(r.Context(), albumParam(r), req.Name); err != nil {
		WriteStoreError(w, err)
		return
	}
	ah.writeAlbum(w, r, req.Name, http.StatusOK)
}

func (ah *AlbumHandler) DeleteAlbum(w http.ResponseWriter, r *http.Request) {
	if err := ah.Store.RemoveAlbum(r.Context(), albumParam(r)); err != nil {
		WriteStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ah *AlbumHandler) SetPictureFunctionality(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ah.Store.SetPictureFunctionality(r.Context(), albumParam(r), req.Enabled); err != nil {
		WriteStoreError(w, err)
		return
	}
	if req.Enabled && ah.Pictures != nil {
		if _, err := ah.Pictures.EnsureAlbumDir(albumParam(r)); err != nil {
			WriteAPIError(w, http.StatusInternalServerError, "picture_dir", err.Error())
			return
		}
	}
	ah.writeAlbum(w, r, albumParam(r), http.StatusOK)
}

func (ah *AlbumHandler) SetSortField(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Field string `json:"field"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ah.Store.SetSortField(r.Context(), albumParam(r), req.Field); err != nil {
		WriteStoreError(w, err)
		return
	}
	ah.writeAlbum(w, r, albumParam(r), http.StatusOK)
}

func (ah *AlbumHandler) AppendField(w http.ResponseWriter, r *http.Request) {
	var req fieldDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	meta, err := req.toMeta()
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_field", err.Error())
		return
	}
	if err := ah.Store.AppendField(r.Context(), albumParam(r), meta); err != nil {
		WriteStoreError(w, err)
		return
	}
	ah.writeAlbum(w, r, albumParam(r), http.StatusOK)
}

// lookupField resolves the {field} URL parameter against the album schema.
func (ah *AlbumHandler) lookupField(w http.ResponseWriter, r *http.Request) (models.MetaItemField, bool) {
	fields, err := ah.Store.GetAlbumFields(r.Context(), albumParam(r))
	if err != nil {
		WriteStoreError(w, err)
		return models.MetaItemField{}, false
	}
	name := chi.URLParam(r, "field")
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	WriteAPIError(w, http.StatusNotFound, "not_found", "no field '"+name+"'")
	return models.MetaItemField{}, false
}

func (ah *AlbumHandler) RenameField(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	field, ok := ah.lookupField(w, r)
	if !ok {
		return
	}
	renamed := field
	renamed.Name = req.Name
	if err := ah.Store.RenameField(r.Context(), albumParam(r), field, renamed); err != nil {
		WriteStoreError(w, err)
		return
	}
	ah.writeAlbum(w, r, albumParam(r), http.StatusOK)
}

func (ah *AlbumHandler) ReorderField(w http.ResponseWriter, r *http.Request) {
	var req struct {
		After string `json:"after"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ah.Store.ReorderField(r.Context(), albumParam(r), chi.URLParam(r, "field"), req.After); err != nil {
		WriteStoreError(w, err)
		return
	}
	ah.writeAlbum(w, r, albumParam(r), http.StatusOK)
}

func (ah *AlbumHandler) SetQuickSearchable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ah.Store.SetQuickSearchable(r.Context(), albumParam(r), chi.URLParam(r, "field"), req.Enabled); err != nil {
		WriteStoreError(w, err)
		return
	}
	ah.writeAlbum(w, r, albumParam(r), http.StatusOK)
}

func (ah *AlbumHandler) RemoveField(w http.ResponseWriter, r *http.Request) {
	if err := ah.Store.RemoveField(r.Context(), albumParam(r), chi.URLParam(r, "field")); err != nil {
		WriteStoreError(w, err)
		return
	}
	ah.writeAlbum(w, r, albumParam(r), http.StatusOK)
}
