package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Storage reads definition files from type-specific subdirectories of the
// configuration directory.
type Storage struct {
	mu         sync.RWMutex
	configPath string
}

// NewStorageWithPath creates a Storage rooted at configPath.
func NewStorageWithPath(configPath string) *Storage {
	return &Storage{
		configPath: configPath,
	}
}

// EntityDir returns the directory of an entity type.
func (ds *Storage) EntityDir(entityType string) string {
	return filepath.Join(ds.configPath, entityType)
}

// Path returns the file an entity is read from, preferring .yaml over .yml.
func (ds *Storage) Path(entityType, name string) string {
	base := filepath.Join(ds.EntityDir(entityType), name)
	if _, err := os.Stat(base + ".yaml"); err == nil {
		return base + ".yaml"
	}
	if _, err := os.Stat(base + ".yml"); err == nil {
		return base + ".yml"
	}
	return base + ".yaml"
}

// Load retrieves data for the given entity type and name
// Returns the file content, or an error if not found
func (ds *Storage) Load(entityType string, name string) ([]byte, error) {
	if entityType == "" {
		return nil, fmt.Errorf("entityType cannot be empty")
	}
	if name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	filePath := ds.Path(entityType, name)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("entity %s/%s not found", entityType, name)
		}
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}
	return data, nil
}

// List returns all available names for the given entity type, sorted. A
// missing directory has no entities.
func (ds *Storage) List(entityType string) ([]string, error) {
	if entityType == "" {
		return nil, fmt.Errorf("entityType cannot be empty")
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	entityPath := ds.EntityDir(entityType)
	if _, err := os.Stat(entityPath); os.IsNotExist(err) {
		return []string{}, nil
	}

	var names []string
	seen := make(map[string]bool)
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		files, err := filepath.Glob(filepath.Join(entityPath, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to glob %s files: %w", pattern, err)
		}
		for _, filePath := range files {
			basename := filepath.Base(filePath)
			name := strings.TrimSuffix(basename, filepath.Ext(basename))
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}
