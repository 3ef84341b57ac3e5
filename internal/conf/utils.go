package conf

import (
	"os"
	"path/filepath"

	"github.com/gridlens/gridlens/internal/errors"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// When one of them already holds a config.yaml, only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	configPaths := []string{
		".",
		filepath.Join(homeDir, ".config", "gridlens"),
		"/etc/gridlens",
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

// FindConfigFile locates the configuration file in use.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}
	return "", errors.Newf("config file not found").
		Category(errors.CategoryFileIO).
		Context("operation", "find-config-file").
		Build()
}

// ResolvePath makes a relative path relative to the data directory.
func (s *Settings) ResolvePath(path string) string {
	path = os.ExpandEnv(path)
	if path == "" || filepath.IsAbs(path) || s.Main.DataDir == "" {
		return path
	}
	return filepath.Join(s.Main.DataDir, path)
}
