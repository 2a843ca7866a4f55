package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - NDR_CONFIG_PATH: config file location (default: ~/.config/ndr.toml)
//   - NDR_HOME: base directory for ndr data (default: ~/.local/share/ndr)
//
// The archive index, vault and keys live under the base directory unless
// the config file points elsewhere.
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking NDR_CONFIG_PATH env var first,
// then falling back to the default ~/.config/ndr.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("NDR_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "ndr.toml"), nil
}

// getBaseDir returns the base directory for ndr data, checking NDR_HOME env var first,
// then falling back to the XDG default ~/.local/share/ndr.
func getBaseDir() (string, error) {
	if path := os.Getenv("NDR_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "ndr"), nil
}
