package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds the platform-specific file locations for hubcast
type Paths struct {
	ConfigDir  string // ~/.config/hubcast or equivalent
	ConfigFile string // ~/.config/hubcast/config.toml
	EnvFile    string // ~/.config/hubcast/.env
	LogFile    string // ~/.config/hubcast/hubcast.log
}

// GetPaths returns platform-specific paths for hubcast
func GetPaths() (*Paths, error) {
	var configDir string

	// Allow override via environment variable (useful for testing multiple instances)
	if envConfigDir := os.Getenv("HUBCAST_CONFIG_DIR"); envConfigDir != "" {
		configDir = envConfigDir
	} else {
		switch runtime.GOOS {
		case "windows":
			appData := os.Getenv("APPDATA")
			if appData == "" {
				return nil, fmt.Errorf("APPDATA environment variable not set")
			}
			configDir = filepath.Join(appData, "hubcast")
		default:
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "hubcast")
		}
	}

	return &Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, "config.toml"),
		EnvFile:    filepath.Join(configDir, ".env"),
		LogFile:    filepath.Join(configDir, "hubcast.log"),
	}, nil
}

// EnsureDirectories creates the config directory with owner-only permissions
func (p *Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.ConfigDir, 0700); err != nil {
		return fmt.Errorf("create directory %s: %w", p.ConfigDir, err)
	}
	return nil
}
