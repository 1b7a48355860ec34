package config

import (
	"errors"
	"fmt"
	"os"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	EnvFile  string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, and parses the JSONC file, overlays the environment
// (after an optional .env beside the file), and validates the result.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: resolvedPath, Config: Default()}

	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	default:
		loaded.Exists = true
		cfg, _, err := Parse(string(content), loaded.Config)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
		loaded.Config = cfg
	}

	if loaded.EnvFile, err = loadDotEnv(resolvedPath); err != nil {
		return Loaded{}, err
	}
	if err := applyEnv(&loaded.Config); err != nil {
		return Loaded{}, err
	}
	if loaded.Config.Output.ArchiveDir == "" {
		if dir, err := DefaultArchiveDir(); err == nil {
			loaded.Config.Output.ArchiveDir = dir
		}
	}

	warnings, err := Validate(loaded.Config)
	if err != nil {
		return Loaded{}, fmt.Errorf("config %q: %w", resolvedPath, err)
	}
	loaded.Warnings = append(loaded.Warnings, warnings...)
	return loaded, nil
}
