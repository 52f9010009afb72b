package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePaths_UsesUserConfigDirectory(t *testing.T) {
	configHome := filepath.Join(t.TempDir(), "cfg")
	t.Setenv("XDG_CONFIG_HOME", configHome)

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}

	root := filepath.Join(configHome, Name)
	if paths.RootDir != root {
		t.Fatalf("unexpected root dir: %q", paths.RootDir)
	}
	if paths.ConfigFile != filepath.Join(root, ConfigFilename) {
		t.Fatalf("unexpected config file: %q", paths.ConfigFile)
	}
	if paths.DBFile != filepath.Join(root, DBFilename) {
		t.Fatalf("unexpected db file: %q", paths.DBFile)
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("expected root directory to exist: %v", err)
	}
}

func TestResolvePathsForConfig_KeepsFilesBesideConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rover-a")
	configFile := filepath.Join(dir, "garage.json")

	paths, err := ResolvePathsForConfig(configFile)
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}

	if paths.ConfigFile != configFile {
		t.Fatalf("unexpected config file: %q", paths.ConfigFile)
	}
	if paths.DBFile != filepath.Join(dir, DBFilename) {
		t.Fatalf("unexpected db file: %q", paths.DBFile)
	}
	if paths.LogFile != filepath.Join(dir, LogFilename) {
		t.Fatalf("unexpected log file: %q", paths.LogFile)
	}
}

func TestResolvePathsForConfig_EmptyFallsBack(t *testing.T) {
	configHome := filepath.Join(t.TempDir(), "cfg")
	t.Setenv("XDG_CONFIG_HOME", configHome)

	paths, err := ResolvePathsForConfig("  ")
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}
	if paths.RootDir != filepath.Join(configHome, Name) {
		t.Fatalf("unexpected root dir: %q", paths.RootDir)
	}
}
