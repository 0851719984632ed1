package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Record is the flat persisted settings record. Every mutation rewrites all keys.
type Record struct {
	OffsetPitch float64 `yaml:"offsetPitch"`
	OffsetRoll  float64 `yaml:"offsetRoll"`
	Tolerance   float64 `yaml:"tolerance"`
	DarkTheme   bool    `yaml:"darkTheme"`
	Sound       bool    `yaml:"sound"`
	InvertX     bool    `yaml:"invertX"`
	InvertY     bool    `yaml:"invertY"`
	SwapXY      bool    `yaml:"swapXY"`
}

const DefaultTolerance = 1.0

// Defaults returns the record used when nothing has been persisted yet.
func Defaults() Record {
	return Record{Tolerance: DefaultTolerance}
}

// Store persists the settings record.
type Store interface {
	Load() (Record, error)
	Save(Record) error
}

// FileStore keeps the record as YAML at Path.
type FileStore struct {
	Path string
}

// Load returns the persisted record, falling back to defaults for a missing
// file and for any key the file does not set.
func (s FileStore) Load() (Record, error) {
	rec := Defaults()
	if strings.TrimSpace(s.Path) == "" {
		return rec, errors.New("settings: path is empty")
	}
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rec, nil
		}
		return rec, fmt.Errorf("settings: read %s: %w", s.Path, err)
	}
	if err := yaml.Unmarshal(b, &rec); err != nil {
		return Defaults(), fmt.Errorf("settings: parse %s: %w", s.Path, err)
	}
	return rec, nil
}

// Save writes the record atomically (temp file in the same dir + rename).
func (s FileStore) Save(rec Record) error {
	if strings.TrimSpace(s.Path) == "" {
		return errors.New("settings: path is empty")
	}
	b, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings: sync: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("settings: rename: %w", err)
	}
	return nil
}
