package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths stores resolved runtime file locations for config, history and logs.
type Paths struct {
	RootDir    string
	ConfigFile string
	DBFile     string
	LogFile    string
}

// ResolvePaths places everything under the user config dir.
func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}

	return pathsUnder(filepath.Join(cfgRoot, Name))
}

// ResolvePathsForConfig keeps history and logs next to an explicit config file.
func ResolvePathsForConfig(configFile string) (Paths, error) {
	configFile = strings.TrimSpace(configFile)
	if configFile == "" {
		return ResolvePaths()
	}

	abs, err := filepath.Abs(configFile)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config path: %w", err)
	}
	paths, err := pathsUnder(filepath.Dir(abs))
	if err != nil {
		return Paths{}, err
	}
	paths.ConfigFile = abs

	return paths, nil
}

func pathsUnder(root string) (Paths, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	return Paths{
		RootDir:    root,
		ConfigFile: filepath.Join(root, ConfigFilename),
		DBFile:     filepath.Join(root, DBFilename),
		LogFile:    filepath.Join(root, LogFilename),
	}, nil
}
