// Package config provides configuration management for csvup.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "csvup"

// ConfigDirectory returns the per-user configuration directory.
//
// Locations:
//   - Windows: %APPDATA%\csvup
//   - Unix: $XDG_CONFIG_HOME/csvup or ~/.config/csvup
func ConfigDirectory() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appDirName)
		}
		return filepath.Join(homeDir, ".config", appDirName)
	}
	return filepath.Join(configDir, appDirName)
}

// DefaultConfigPath returns the default path of the INI config file.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDirectory(), "config.ini")
}

// LogDirectory returns the directory used for rotated log files.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\csvup\logs
//   - Unix: ~/.config/csvup/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "csvup-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, appDirName, "logs")
	}
	return filepath.Join(ConfigDirectory(), "logs")
}

// DefaultResumeDirectory returns where upload resume records are stored.
func DefaultResumeDirectory() string {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(ConfigDirectory(), "resume")
	}
	return filepath.Join(cacheDir, appDirName, "resume")
}

// EnsureDirectory creates dir with owner-only permissions if it doesn't exist.
func EnsureDirectory(dir string) error {
	return os.MkdirAll(dir, 0700)
}
