package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SettingsFilename is the settings file kept at the root of the store
// directory. It travels inside every backup archive.
const SettingsFilename = "settings.yaml"

// StoreSettings is the persisted, per-store state that must survive a
// backup/restore cycle.
type StoreSettings struct {
	// LastChange is the millisecond epoch of the last content or schema
	// mutation, zero when nothing was ever changed.
	LastChange int64  `yaml:"last_change"`
	DateFormat string `yaml:"date_format,omitempty"`
}

// ReadSettings loads the settings file from dir. A missing file yields
// zero-valued settings and fs.ErrNotExist.
func ReadSettings(dir string) (StoreSettings, error) {
	var s StoreSettings
	data, err := os.ReadFile(filepath.Join(dir, SettingsFilename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, err
		}
		return s, fmt.Errorf("failed to read store settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return StoreSettings{}, fmt.Errorf("failed to parse store settings: %w", err)
	}
	return s, nil
}

// WriteSettings atomically replaces the settings file in dir.
func WriteSettings(dir string, s StoreSettings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode store settings: %w", err)
	}
	tmp := filepath.Join(dir, SettingsFilename+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write store settings: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, SettingsFilename)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace store settings: %w", err)
	}
	return nil
}
