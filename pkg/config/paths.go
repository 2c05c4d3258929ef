package config

import (
	"os"
	"path/filepath"
)

// UserConfigPath returns the path of the user's configuration file, which is
// merged before [FileName]. It is "$XDG_CONFIG_HOME/watchdo/watchdo.yaml",
// falling back to "~/.config/watchdo/watchdo.yaml". It returns an empty
// string when no home directory is known.
func UserConfigPath() string {
	if xdgHome, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdgHome != "" {
		return filepath.Join(xdgHome, DefaultPrefix, FileName)
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}

	return filepath.Join(home, ".config", DefaultPrefix, FileName)
}
