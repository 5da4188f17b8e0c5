package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/collectionstore/backup"
	"github.com/camden-git/collectionstore/database"
	"github.com/camden-git/collectionstore/media"
	"github.com/camden-git/collectionstore/utils"
)

type testAPI struct {
	router   http.Handler
	store    *database.Session
	pictures *media.PictureStore
	backups  *backup.Manager
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	storeDir := t.TempDir()
	session, err := database.Open(context.Background(), database.Options{StorePath: storeDir})
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	pictures, err := media.NewPictureStore(filepath.Join(storeDir, "pictures"), 32)
	require.NoError(t, err)
	session.AddListener(pictures)
	backups := backup.NewManager(session, utils.LocalFileSystem{}, pictures, backup.Options{
		AutosavePath: filepath.Join(t.TempDir(), "autosaves"),
		Retention:    3,
		BuildID:      "test",
	})

	albums := &AlbumHandler{Store: session, Pictures: pictures}
	items := &ItemHandler{Store: session, Pictures: pictures}
	backupHandler := &BackupHandler{Backups: backups}

	r := chi.NewRouter()
	r.Route("/albums", func(r chi.Router) {
		r.Get("/", albums.ListAlbums)
		r.Post("/", albums.CreateAlbum)
		r.Route("/{album}", func(r chi.Router) {
			r.Get("/", albums.GetAlbum)
			r.Delete("/", albums.DeleteAlbum)
			r.Put("/name", albums.RenameAlbum)
			r.Put("/pictures", albums.SetPictureFunctionality)
			r.Put("/sort_field", albums.SetSortField)
			r.Post("/fields", albums.AppendField)
			r.Delete("/fields/{field}", albums.RemoveField)
			r.Put("/fields/{field}/name", albums.RenameField)
			r.Put("/fields/{field}/position", albums.ReorderField)
			r.Put("/fields/{field}/quick_search", albums.SetQuickSearchable)
			r.Get("/items", items.ListItems)
			r.Post("/items", items.CreateItem)
			r.Post("/items/search", items.SearchItems)
			r.Get("/items/{item}", items.GetItem)
			r.Put("/items/{item}", items.UpdateItem)
			r.Delete("/items/{item}", items.DeleteItem)
			r.Post("/items/{item}/pictures", items.UploadPicture)
			r.Delete("/items/{item}/pictures", items.DeletePictures)
			r.Get("/files/*", PictureServer(pictures))
		})
	})
	r.Post("/backup", backupHandler.CreateBackup)
	r.Post("/backup/restore", backupHandler.RestoreBackup)
	r.Get("/autosaves", backupHandler.ListAutoSaves)
	r.Post("/autosaves", backupHandler.CreateAutoSave)
	r.Post("/autosaves/restore_latest", backupHandler.RestoreLatestAutoSave)

	return &testAPI{router: r, store: session, pictures: pictures, backups: backups}
}

func (api *testAPI) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	resp := decode[APIErrorResponse](t, rec)
	require.Len(t, resp.Errors, 1)
	return resp.Errors[0].Code
}

var booksAlbum = map[string]any{
	"name":         "Books",
	"has_pictures": true,
	"fields": []map[string]any{
		{"name": "Title", "type": "TEXT", "quick_searchable": true},
		{"name": "Pages", "type": "INTEGER"},
		{"name": "Published", "type": "DATE"},
	},
}

func createBook(t *testing.T, api *testAPI, values map[string]any) itemDTO {
	t.Helper()
	rec := api.do(t, http.MethodPost, "/albums/Books/items", map[string]any{"values": values})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[itemDTO](t, rec)
}

func TestCreateAlbumEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/albums", booksAlbum)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	album := decode[albumResponse](t, rec)
	assert.Equal(t, "Books", album.Name)
	assert.Equal(t, "books", album.TableName)
	assert.True(t, album.HasPictures)
	require.Len(t, album.Fields, 4)
	assert.Equal(t, fieldDTO{Name: "id", Type: "ID"}, album.Fields[0])
	assert.Equal(t, fieldDTO{Name: "Title", Type: "TEXT", QuickSearchable: true}, album.Fields[1])
	assert.DirExists(t, api.pictures.AlbumDir("Books"))

	rec = api.do(t, http.MethodPost, "/albums", map[string]any{"name": "books"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "name_in_use", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/albums", map[string]any{"fields": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/albums", map[string]any{
		"name":   "CDs",
		"fields": []map[string]any{{"name": "Artist"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/albums", map[string]any{
		"name":   "CDs",
		"fields": []map[string]any{{"name": "Artist", "type": "BLOB"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_field", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/albums", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/albums", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = api.do(t, http.MethodGet, "/albums/Movies", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
}

func TestItemEndpoints(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/albums", booksAlbum).Code)

	dune := createBook(t, api, map[string]any{"Title": "Dune", "Pages": 412, "Published": "1965-08-01"})
	assert.Positive(t, dune.ID)
	assert.NotEmpty(t, dune.ContentVersion)
	createBook(t, api, map[string]any{"Title": "Dune Messiah", "Pages": "256"})
	createBook(t, api, map[string]any{"Title": "Emma", "Pages": 474})

	rec := api.do(t, http.MethodGet, "/albums/Books/items/"+itoa(dune.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[itemDTO](t, rec)
	assert.Equal(t, map[string]string{"Title": "Dune", "Pages": "412", "Published": "1965-08-01"}, got.Values)

	rec = api.do(t, http.MethodGet, "/albums/Books/items?q=dune", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[searchResponse](t, rec)
	assert.Len(t, found.Items, 2)
	assert.Contains(t, found.Query, "'%dune%'")

	rec = api.do(t, http.MethodGet, "/albums/Books/items?sort=Pages:desc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sorted := decode[searchResponse](t, rec)
	require.Len(t, sorted.Items, 3)
	assert.Equal(t, "Emma", sorted.Items[0].Values["Title"])

	rec = api.do(t, http.MethodGet, "/albums/Books/items?sort=Pages:sideways", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_sort", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/albums/Books/items/search", map[string]any{
		"predicates": []map[string]any{
			{"field": "Pages", "operator": "greater", "value": 400},
			{"field": "Title", "operator": "like", "value": "emm"},
		},
		"match_any": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	matched := decode[searchResponse](t, rec)
	require.Len(t, matched.Items, 1)
	assert.Equal(t, "Emma", matched.Items[0].Values["Title"])

	rec = api.do(t, http.MethodPost, "/albums/Books/items/search", map[string]any{
		"predicates": []map[string]any{{"field": "Author", "operator": "equals", "value": "x"}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPut, "/albums/Books/items/"+itoa(dune.ID), map[string]any{
		"values": map[string]any{"Title": "Dune", "Pages": 500, "Published": "1965-08-01"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[itemDTO](t, rec)
	assert.Equal(t, "500", updated.Values["Pages"])
	assert.NotEqual(t, dune.ContentVersion, updated.ContentVersion)

	rec = api.do(t, http.MethodPost, "/albums/Books/items", map[string]any{"values": map[string]any{"Author": "Austen"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_item", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/albums/Books/items?keep_version=true", map[string]any{"values": map[string]any{"Title": "X"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_content_version", errorCode(t, rec))

	rec = api.do(t, http.MethodGet, "/albums/Books/items/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", errorCode(t, rec))

	rec = api.do(t, http.MethodDelete, "/albums/Books/items/"+itoa(dune.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, http.MethodGet, "/albums/Books/items/"+itoa(dune.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFieldEndpoints(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/albums", booksAlbum).Code)
	createBook(t, api, map[string]any{"Title": "Dune", "Pages": 412})

	rec := api.do(t, http.MethodPost, "/albums/Books/fields", map[string]any{"name": "Rating", "type": "STAR_RATING"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[albumResponse](t, rec).Fields, 5)

	rec = api.do(t, http.MethodPut, "/albums/Books/fields/Pages/name", map[string]any{"name": "Length"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPut, "/albums/Books/fields/Rating/position", map[string]any{"after": ""})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	album := decode[albumResponse](t, rec)
	names := make([]string, len(album.Fields))
	for i, f := range album.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"id", "Rating", "Title", "Length", "Published"}, names)
	assert.Equal(t, int64(1), album.ItemCount)

	rec = api.do(t, http.MethodPut, "/albums/Books/fields/Length/quick_search", map[string]any{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[albumResponse](t, rec).Fields[3].QuickSearchable)

	rec = api.do(t, http.MethodPut, "/albums/Books/sort_field", map[string]any{"field": "Length"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Length", decode[albumResponse](t, rec).SortField)

	rec = api.do(t, http.MethodPut, "/albums/Books/fields/Missing/name", map[string]any{"name": "Other"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPut, "/albums/Books/fields/Title/name", map[string]any{"name": "length"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_rename", errorCode(t, rec))

	rec = api.do(t, http.MethodDelete, "/albums/Books/fields/Length", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	album = decode[albumResponse](t, rec)
	assert.Len(t, album.Fields, 4)
	assert.Empty(t, album.SortField)

	rec = api.do(t, http.MethodDelete, "/albums/Books/fields/id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "rejected", errorCode(t, rec))
}

func TestAlbumRenameAndDeleteEndpoints(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/albums", booksAlbum).Code)

	rec := api.do(t, http.MethodPut, "/albums/Books/name", map[string]any{"name": "Paper Books"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paper_books", decode[albumResponse](t, rec).TableName)
	assert.DirExists(t, api.pictures.AlbumDir("Paper Books"))
	assert.NoDirExists(t, api.pictures.AlbumDir("Books"))

	rec = api.do(t, http.MethodPut, "/albums/Paper%20Books/pictures", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[albumResponse](t, rec).HasPictures)

	rec = api.do(t, http.MethodDelete, "/albums/Paper%20Books", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoDirExists(t, api.pictures.AlbumDir("Paper Books"))

	rec = api.do(t, http.MethodDelete, "/albums/Paper%20Books", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPictureEndpoints(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/albums", booksAlbum).Code)
	dune := createBook(t, api, map[string]any{"Title": "Dune"})

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 40, 20))))
	upload := func(album string, id int64) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", "cover.png")
		require.NoError(t, err)
		_, err = part.Write(img.Bytes())
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/albums/"+album+"/items/"+itoa(id)+"/pictures", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		return rec
	}

	rec := upload("Books", dune.ID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	withPicture := decode[itemDTO](t, rec)
	require.Len(t, withPicture.Pictures, 1)
	pic := withPicture.Pictures[0]
	assert.Equal(t, dune.ID, pic.ItemID)
	// the item's values and version survive the upload
	assert.Equal(t, "Dune", withPicture.Values["Title"])

	rec = api.do(t, http.MethodGet, "/albums/Books/files/"+pic.OriginalPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, img.Bytes(), rec.Body.Bytes())
	assert.Contains(t, rec.Header().Get("Cache-Control"), "max-age=")

	rec = api.do(t, http.MethodGet, "/albums/Books/files/originals/missing.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(t, http.MethodGet, "/albums/Books/files/originals", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(t, http.MethodGet, "/albums/Books/files/../../settings.yaml", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodDelete, "/albums/Books/items/"+itoa(dune.ID)+"/pictures", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int64{"removed": 1}, decode[map[string]int64](t, rec))
	assert.NoFileExists(t, filepath.Join(api.pictures.AlbumDir("Books"), filepath.FromSlash(pic.OriginalPath)))

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPut, "/albums/Books/pictures", map[string]any{"enabled": false}).Code)
	rec = upload("Books", dune.ID)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "pictures_disabled", errorCode(t, rec))
}

func TestDeleteItemPurgesPictures(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/albums", booksAlbum).Code)
	dune := createBook(t, api, map[string]any{"Title": "Dune"})

	ctx := context.Background()
	item, err := api.store.GetItem(ctx, "Books", dune.ID)
	require.NoError(t, err)
	pic, err := api.pictures.Import("Books", "a.png", pngReader(t))
	require.NoError(t, err)
	item.Pictures = append(item.Pictures, pic)
	require.NoError(t, api.store.UpdateItem(ctx, item))

	rec := api.do(t, http.MethodDelete, "/albums/Books/items/"+itoa(dune.ID)+"?purge_pictures=true", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	count, err := api.store.CountPictures(ctx, "Books")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.NoFileExists(t, filepath.Join(api.pictures.AlbumDir("Books"), filepath.FromSlash(pic.ThumbnailPath)))
}

func TestBackupEndpoints(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/albums", booksAlbum).Code)

	archive := filepath.Join(t.TempDir(), "store.zip")
	rec := api.do(t, http.MethodPost, "/backup", map[string]any{"path": archive})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.FileExists(t, archive)

	rec = api.do(t, http.MethodPost, "/backup", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", errorCode(t, rec))

	require.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/albums/Books", nil).Code)

	rec = api.do(t, http.MethodPost, "/backup/restore", map[string]any{"path": archive})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/albums/Books", nil).Code)
	assert.DirExists(t, api.pictures.AlbumDir("Books"))

	rec = api.do(t, http.MethodPost, "/backup/restore", map[string]any{"path": archive + ".missing"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "rejected", errorCode(t, rec))
}

func TestAutosaveEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/autosaves/restore_latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/albums", booksAlbum).Code)
	rec = api.do(t, http.MethodPost, "/autosaves", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	written := decode[map[string]string](t, rec)["path"]
	assert.True(t, strings.HasSuffix(written, backup.AutosaveExtension), written)

	rec = api.do(t, http.MethodGet, "/autosaves", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	saves := decode[[]autosaveDTO](t, rec)
	require.Len(t, saves, 1)
	assert.Equal(t, written, saves[0].Path)
	assert.Equal(t, api.store.LastChange(), saves[0].Timestamp)

	rec = api.do(t, http.MethodPost, "/autosaves/restore_latest", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, written, decode[map[string]string](t, rec)["restored"])
}

func TestWriteStoreErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{database.NewStoreError(database.KindNotFound, "get", nil), http.StatusNotFound, "not_found"},
		{database.NewStoreError(database.KindNameInUse, "create", nil), http.StatusConflict, "name_in_use"},
		{database.NewStoreError(database.KindInvalidRename, "rename field", nil), http.StatusBadRequest, "invalid_rename"},
		{database.NewStoreError(database.KindInvalidItem, "add item", nil), http.StatusBadRequest, "invalid_item"},
		{database.NewStoreError(database.KindMissingContentVersion, "add item", nil), http.StatusBadRequest, "missing_content_version"},
		{database.NewStoreError(database.KindCleanState, "reorder", nil), http.StatusBadRequest, "rejected"},
		{database.NewStoreError(database.KindDirtyState, "update", nil), http.StatusInternalServerError, "dirty_state"},
		{&database.StoreError{Kind: database.KindDirtyState, RollbackFailed: true}, http.StatusInternalServerError, "untrustworthy_store"},
		{context.Canceled, http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		WriteStoreError(rec, tt.err)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
		assert.Equal(t, tt.code, errorCode(t, rec))
	}
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func pngReader(t *testing.T) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return bytes.NewReader(buf.Bytes())
}
