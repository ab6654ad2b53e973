package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gridlink-labs/gridlink/internal/constants"
)

// Dir returns ~/.gridlink, creating it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	dir := filepath.Join(home, constants.ConfigDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// JobCacheDir returns the local job cache directory, creating it if
// needed.
func JobCacheDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	cacheDir := filepath.Join(dir, "jobs")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job cache directory: %w", err)
	}
	return cacheDir, nil
}

// TemplateDir returns the local template directory, creating it if
// needed. A template with id "t1" is the file <dir>/t1.
func TemplateDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	tmplDir := filepath.Join(dir, "templates")
	if err := os.MkdirAll(tmplDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create template directory: %w", err)
	}
	return tmplDir, nil
}
