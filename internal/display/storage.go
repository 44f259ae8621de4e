package display

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store defines the interface for persisting rendered images.
type Store interface {
	// Save writes an image and returns the full path it landed at.
	Save(name string, data []byte) (string, error)

	// Get reads a previously saved image.
	Get(name string) ([]byte, error)
}

// DirStore implements Store on a local directory.
type DirStore struct {
	basePath string
}

// NewDirStore creates the directory if needed.
func NewDirStore(basePath string) (*DirStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &DirStore{basePath: basePath}, nil
}

// Save writes an image file.
func (d *DirStore) Save(name string, data []byte) (string, error) {
	path := filepath.Join(d.basePath, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return path, nil
}

// Get reads an image file.
func (d *DirStore) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.basePath, name))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}
