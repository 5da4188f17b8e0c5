package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORE_PATH", filepath.Join(dir, "store"))
	t.Setenv("AUTOSAVE_PATH", filepath.Join(dir, "autosaves"))
	for _, key := range []string{"DATABASE_FILENAME", "AUTOSAVE_RETENTION", "AUTOSAVE_INTERVAL", "BUILD_ID", "DATE_FORMAT", "THUMBNAIL_MAX_SIZE", "LISTEN_ADDR", "CORS_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "store"), cfg.StorePath)
	assert.Equal(t, DefaultDatabaseFilename, cfg.DatabaseFilename)
	assert.Equal(t, filepath.Join(dir, "store", DefaultDatabaseFilename), cfg.DatabasePath())
	assert.Equal(t, filepath.Join(dir, "store", DefaultPicturesSubDir), cfg.PicturesPath())
	assert.Equal(t, defaultAutosaveRetention, cfg.AutosaveRetention)
	assert.Equal(t, defaultAutosaveInterval, cfg.AutosaveInterval)
	assert.Equal(t, DefaultDateFormat, cfg.DateFormat)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
}

func TestLoadConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORE_PATH", dir)
	t.Setenv("AUTOSAVE_PATH", filepath.Join(dir, "..", "saves"))
	t.Setenv("AUTOSAVE_RETENTION", "0")
	t.Setenv("AUTOSAVE_INTERVAL", "90s")
	t.Setenv("DATE_FORMAT", "02.01.2006")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.AutosaveRetention)
	assert.Equal(t, 90*time.Second, cfg.AutosaveInterval)
	assert.Equal(t, "02.01.2006", cfg.DateFormat)
	assert.Equal(t, filepath.Clean(filepath.Join(dir, "..", "saves")), cfg.AutosavePath)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestInvalidEnvValuesFallBack(t *testing.T) {
	t.Setenv("X_INT", "-3")
	assert.Equal(t, 7, getEnvIntOrDefault("X_INT", 7))
	t.Setenv("X_INT", "many")
	assert.Equal(t, 7, getEnvIntOrDefault("X_INT", 7))

	t.Setenv("X_DURATION", "soon")
	assert.Equal(t, time.Minute, getEnvDurationOrDefault("X_DURATION", time.Minute))
	t.Setenv("X_DURATION", "-1m")
	assert.Equal(t, time.Minute, getEnvDurationOrDefault("X_DURATION", time.Minute))
	t.Setenv("X_DURATION", "0")
	assert.Equal(t, time.Duration(0), getEnvDurationOrDefault("X_DURATION", time.Minute))
}

func TestValidate(t *testing.T) {
	valid := Config{
		StorePath:        "/store",
		DatabaseFilename: "collection.db",
		AutosavePath:     "/saves",
		BuildID:          "b",
		DateFormat:       DefaultDateFormat,
		ThumbnailMaxSize: 300,
		ListenAddr:       ":8080",
	}
	require.NoError(t, valid.Validate())

	broken := map[string]func(c *Config){
		"no store":          func(c *Config) { c.StorePath = "" },
		"nested db file":    func(c *Config) { c.DatabaseFilename = "sub/collection.db" },
		"negative interval": func(c *Config) { c.AutosaveInterval = -time.Second },
		"zero thumbnails":   func(c *Config) { c.ThumbnailMaxSize = 0 },
		"no date format":    func(c *Config) { c.DateFormat = "" },
	}
	for name, mutate := range broken {
		c := valid
		mutate(&c)
		assert.Error(t, c.Validate(), name)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadSettings(dir)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	want := StoreSettings{LastChange: 1700000000123, DateFormat: "02.01.2006"}
	require.NoError(t, WriteSettings(dir, want))
	assert.NoFileExists(t, filepath.Join(dir, SettingsFilename+".tmp"))

	got, err := ReadSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, os.WriteFile(filepath.Join(dir, SettingsFilename), []byte("last_change: [oops"), 0644))
	_, err = ReadSettings(dir)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, fs.ErrNotExist))
}
