package utils

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestZipRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "settings.yaml"), "last_change: 5\n")
	writeFile(t, filepath.Join(src, "pictures", "books", "originals", "a.jpg"), "jpeg bytes")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "empty"), 0755))

	archive := filepath.Join(t.TempDir(), "nested", "store.zip")
	require.NoError(t, ZipDir(ctx, src, archive))
	require.FileExists(t, archive)

	dest := t.TempDir()
	require.NoError(t, Unzip(ctx, archive, dest))
	assert.Equal(t, "last_change: 5\n", readFile(t, filepath.Join(dest, "settings.yaml")))
	assert.Equal(t, "jpeg bytes", readFile(t, filepath.Join(dest, "pictures", "books", "originals", "a.jpg")))
}

func TestUnzipMissingArchive(t *testing.T) {
	err := Unzip(context.Background(), filepath.Join(t.TempDir(), "missing.zip"), t.TempDir())
	assert.Error(t, err)
}

func TestCopyDirSkips(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "keep.txt"), "k")
	writeFile(t, filepath.Join(src, "store.lock"), "1")
	writeFile(t, filepath.Join(src, "autosaves", "a_1.autosave"), "zip")
	writeFile(t, filepath.Join(src, "pictures", "x.png"), "png")

	var seen []string
	err := LocalFileSystem{}.CopyDir(src, dst, func(rel string, d fs.DirEntry) bool {
		seen = append(seen, rel)
		return rel == "store.lock" || rel == "autosaves"
	})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dst, "keep.txt"))
	assert.FileExists(t, filepath.Join(dst, "pictures", "x.png"))
	assert.NoFileExists(t, filepath.Join(dst, "store.lock"))
	assert.NoDirExists(t, filepath.Join(dst, "autosaves"))
	assert.Contains(t, seen, "pictures/x.png")
	assert.NotContains(t, seen, "autosaves/a_1.autosave")
}

func TestClearDirKeeps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "collection.db"), "db")
	writeFile(t, filepath.Join(dir, "settings.yaml"), "s")
	writeFile(t, filepath.Join(dir, "pictures", "x.png"), "png")

	fsys := LocalFileSystem{}
	require.NoError(t, fsys.ClearDir(dir, func(name string) bool { return name == "collection.db" }))

	entries, err := fsys.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "collection.db", entries[0].Name())

	assert.NoError(t, fsys.ClearDir(filepath.Join(dir, "missing"), nil))
}

func TestIsRasterImage(t *testing.T) {
	for name, want := range map[string]bool{
		"cover.JPG":  true,
		"scan.tiff":  true,
		"clip.png":   true,
		"notes.txt":  false,
		"archive":    false,
		"vector.svg": false,
	} {
		assert.Equal(t, want, IsRasterImage(name), name)
	}
}

func TestGenerateThumbnailFitsBounds(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "wide.png")
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for x := 0; x < 400; x++ {
		img.Set(x, x%200, color.RGBA{R: 200, A: 255})
	}
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	thumb, err := GenerateThumbnail(src, filepath.Join(dir, "thumbs"), 100, 100)
	require.NoError(t, err)
	assert.Equal(t, ".jpg", filepath.Ext(thumb))

	out, err := os.Open(thumb)
	require.NoError(t, err)
	defer out.Close()
	cfg, _, err := image.DecodeConfig(out)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestGenerateThumbnailFlattensTransparency(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "clear.png")
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewNRGBA(image.Rect(0, 0, 20, 20))))
	require.NoError(t, f.Close())

	thumb, err := GenerateThumbnail(src, dir, 10, 10)
	require.NoError(t, err)

	out, err := os.Open(thumb)
	require.NoError(t, err)
	defer out.Close()
	img, _, err := image.Decode(out)
	require.NoError(t, err)
	r, g, b, _ := img.At(5, 5).RGBA()
	assert.Greater(t, r, uint32(0xf000))
	assert.Greater(t, g, uint32(0xf000))
	assert.Greater(t, b, uint32(0xf000))

	_, err = GenerateThumbnail(src, dir, 0, 10)
	assert.Error(t, err)
}
