// Package memory stores artifact content in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// ArtifactStore stores artifacts in-memory and returns pseudo URIs.
type ArtifactStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewArtifactStore creates a new in-memory artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		data: make(map[string][]byte),
	}
}

// WriteArtifact persists the content under <repository>/<filename> and
// returns a memory:// URI.
func (s *ArtifactStore) WriteArtifact(_ context.Context, repo, filename, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(repo) == "" {
		return "", fmt.Errorf("repository is required")
	}
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("filename is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	path := repo + "/" + filename
	s.mu.Lock()
	s.data[path] = append([]byte(nil), byteData...)
	s.mu.Unlock()
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns the stored content for a repository artifact.
func (s *ArtifactStore) Get(repo, filename string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[repo+"/"+filename]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// List returns the stored artifact paths in sorted order.
func (s *ArtifactStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.data))
	for p := range s.data {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
