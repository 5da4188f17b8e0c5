package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/logging"
)

const (
	DefaultDatabaseFilename = "collection.db"
	DefaultPicturesSubDir   = "pictures"
	DefaultDateFormat       = "2006-01-02"
)

const (
	defaultAutosaveRetention = 5
	defaultThumbnailMaxSize  = 300
	defaultListenAddr        = ":8080"
	defaultBuildID           = "collectionstore"
	defaultAutosaveInterval  = 10 * time.Minute
)

type Config struct {
	// store directory holding the database file, settings and picture folders
	StorePath string `validate:"required"`

	// database file name, relative to StorePath
	DatabaseFilename string `validate:"required,excludesall=/\\"`

	// directory receiving rotating autosaves (kept outside StorePath)
	AutosavePath string `validate:"required"`

	// number of autosaves kept; below 1 disables autosaving
	AutosaveRetention int `validate:"gte=0"`

	// period of the serve-time autosave scheduler; 0 disables it
	AutosaveInterval time.Duration `validate:"gte=0"`

	// build identifier embedded in autosave filenames
	BuildID string `validate:"required"`

	// Go time layout used to parse and format date values
	DateFormat string `validate:"required"`

	// longest side of generated picture thumbnails
	ThumbnailMaxSize int `validate:"gt=0"`

	// http surface
	ListenAddr  string `validate:"required"`
	CORSOrigins []string
}

// DatabasePath returns the absolute path of the live database file.
func (c Config) DatabasePath() string {
	return filepath.Join(c.StorePath, c.DatabaseFilename)
}

// PicturesPath returns the root of the per-album picture directories.
func (c Config) PicturesPath() string {
	return filepath.Join(c.StorePath, DefaultPicturesSubDir)
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val < 0 {
		logging.Log.Warn("invalid integer environment value, using default",
			zap.String("var", envVar),
			zap.String("value", valStr),
			zap.Int("default", defaultVal),
			zap.Error(err))
		return defaultVal
	}
	return val
}

func getEnvDurationOrDefault(envVar string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil || val < 0 {
		logging.Log.Warn("invalid duration environment value, using default",
			zap.String("var", envVar),
			zap.String("value", valStr),
			zap.Duration("default", defaultVal),
			zap.Error(err))
		return defaultVal
	}
	return val
}

var validate = validator.New()

// Validate checks the configuration for missing or out-of-range values.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func LoadConfig() (Config, error) {
	store := getEnvOrDefault("STORE_PATH", filepath.Join(".", "collection"))
	absStore, err := filepath.Abs(store)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for store directory '%s': %w", store, err)
	}

	autosaves := getEnvOrDefault("AUTOSAVE_PATH", filepath.Join(".", "autosaves"))
	absAutosaves, err := filepath.Abs(autosaves)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for autosave directory '%s': %w", autosaves, err)
	}

	var origins []string
	for _, o := range strings.Split(getEnvOrDefault("CORS_ORIGINS", "http://localhost:5173"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	cfg := Config{
		StorePath:         absStore,
		DatabaseFilename:  getEnvOrDefault("DATABASE_FILENAME", DefaultDatabaseFilename),
		AutosavePath:      absAutosaves,
		AutosaveRetention: getEnvIntOrDefault("AUTOSAVE_RETENTION", defaultAutosaveRetention),
		AutosaveInterval:  getEnvDurationOrDefault("AUTOSAVE_INTERVAL", defaultAutosaveInterval),
		BuildID:           getEnvOrDefault("BUILD_ID", defaultBuildID),
		DateFormat:        getEnvOrDefault("DATE_FORMAT", DefaultDateFormat),
		ThumbnailMaxSize:  getEnvIntOrDefault("THUMBNAIL_MAX_SIZE", defaultThumbnailMaxSize),
		ListenAddr:        getEnvOrDefault("LISTEN_ADDR", defaultListenAddr),
		CORSOrigins:       origins,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
