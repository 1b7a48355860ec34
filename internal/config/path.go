package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const appName = "livescribe"

// ResolvePath applies CLI/XDG/home fallback rules for the config.jsonc location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	dir, err := userDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}
	return filepath.Join(dir, appName, "config.jsonc"), nil
}

// DefaultArchiveDir is where committed transcripts are saved when
// output.archive_dir is unset.
func DefaultArchiveDir() (string, error) {
	dir, err := userDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName, "transcripts"), nil
}

func userDir(env string, homeFallback string) (string, error) {
	if xdg := strings.TrimSpace(os.Getenv(env)); xdg != "" {
		return xdg, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, homeFallback), nil
}
