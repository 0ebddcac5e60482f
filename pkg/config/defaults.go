package config

import (
	"os"
	"path/filepath"
)

// DefaultsManager picks defaults that depend on the working directory
type DefaultsManager struct {
	workingDir string
}

// NewDefaultsManager creates a new defaults manager
func NewDefaultsManager() *DefaultsManager {
	wd, _ := os.Getwd()
	return &DefaultsManager{
		workingDir: wd,
	}
}

// NewDefaultsManagerAt creates a defaults manager rooted at dir
func NewDefaultsManagerAt(dir string) *DefaultsManager {
	return &DefaultsManager{workingDir: dir}
}

// GetRecommendedBaseDir returns a project-local .rankwatch directory when
// the working directory looks like a rankwatch project, else ~/.rankwatch.
func (dm *DefaultsManager) GetRecommendedBaseDir() string {
	projectMarkers := []string{".rankwatch", "sources.yaml", "config.yaml", ".git"}

	for _, marker := range projectMarkers {
		if _, err := os.Stat(filepath.Join(dm.workingDir, marker)); err == nil {
			return filepath.Join(dm.workingDir, ".rankwatch")
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.rankwatch"
	}

	return filepath.Join(homeDir, ".rankwatch")
}
