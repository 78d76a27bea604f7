package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileSource is a FallbackSource backed by a flat YAML file of name/value
// pairs. The file is read once on first use; fallback secrets are static by
// definition, a changed file needs a restart.
type FileSource struct {
	path string

	once    sync.Once
	loadErr error
	values  map[string]string
}

// NewFileSource creates a file-backed fallback source.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Get returns the named secret from the file.
func (f *FileSource) Get(_ context.Context, name string) (string, error) {
	f.once.Do(func() {
		raw, err := os.ReadFile(f.path)
		if err != nil {
			f.loadErr = fmt.Errorf("secrets: read fallback file: %w", err)
			return
		}
		if err := yaml.Unmarshal(raw, &f.values); err != nil {
			f.loadErr = fmt.Errorf("secrets: parse fallback file %s: %w", f.path, err)
		}
	})
	if f.loadErr != nil {
		return "", f.loadErr
	}

	value, ok := f.values[name]
	if !ok {
		return "", fmt.Errorf("secrets: %q not present in fallback file", name)
	}
	return value, nil
}
