package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory repository store for tests and development.
type MemoryStore struct {
	mu        sync.RWMutex
	repos     map[string]Repository
	manifests map[string]map[string]string
	artifacts map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		repos:     make(map[string]Repository),
		manifests: make(map[string]map[string]string),
		artifacts: make(map[string][]string),
	}
}

// Create registers the repository under its name.
func (s *MemoryStore) Create(_ context.Context, repo Repository) (Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[repo.Name]; ok {
		return Repository{}, fmt.Errorf("%w: %q", ErrAlreadyExists, repo.Name)
	}
	now := time.Now().UTC()
	repo.CreatedAt = now
	repo.UpdatedAt = now
	if repo.Status == "" {
		repo.Status = StatusIncomplete
	}
	if repo.Source == "" {
		repo.Source = SourceCrawler
	}
	s.repos[repo.Name] = repo
	s.manifests[repo.Name] = make(map[string]string)
	return repo, nil
}

// Get returns a copy of the named repository.
func (s *MemoryStore) Get(_ context.Context, name string) (Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repo, ok := s.repos[name]
	if !ok {
		return Repository{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return repo, nil
}

// GetAll returns every repository sorted by name.
func (s *MemoryStore) GetAll(_ context.Context) ([]Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Repository, 0, len(s.repos))
	for _, repo := range s.repos {
		out = append(out, repo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Update replaces the stored repository.
func (s *MemoryStore) Update(_ context.Context, repo Repository) (Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.repos[repo.Name]
	if !ok {
		return Repository{}, fmt.Errorf("%w: %q", ErrNotFound, repo.Name)
	}
	repo.CreatedAt = current.CreatedAt
	repo.UpdatedAt = time.Now().UTC()
	s.repos[repo.Name] = repo
	return repo, nil
}

// Delete removes the repository and its manifest.
func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(s.repos, name)
	delete(s.manifests, name)
	delete(s.artifacts, name)
	return nil
}

// UpdateStatus flips the repository status.
func (s *MemoryStore) UpdateStatus(_ context.Context, name string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	repo.Status = status
	repo.UpdatedAt = time.Now().UTC()
	s.repos[name] = repo
	return nil
}

// UpdateSeedURLs replaces the stored seed list.
func (s *MemoryStore) UpdateSeedURLs(_ context.Context, name string, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	repo.URLs = append([]string(nil), urls...)
	repo.UpdatedAt = time.Now().UTC()
	s.repos[name] = repo
	return nil
}

// SetAutoUpdate configures scheduled re-crawls.
func (s *MemoryStore) SetAutoUpdate(_ context.Context, name string, enabled bool, freq Frequency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if repo.Source != SourceCrawler {
		return fmt.Errorf("%w: %q", ErrNotCrawler, name)
	}
	if enabled && !freq.Valid() {
		return fmt.Errorf("invalid update frequency %q", freq)
	}
	repo.AutoUpdate = enabled
	if enabled {
		repo.UpdateFrequency = freq
	}
	repo.UpdatedAt = time.Now().UTC()
	s.repos[name] = repo
	return nil
}

// StampAutoUpdate records the scheduler refresh time.
func (s *MemoryStore) StampAutoUpdate(_ context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	t := at.UTC()
	repo.LastAutoUpdate = &t
	s.repos[name] = repo
	return nil
}

// ListArtifacts returns recorded artifact names filtered by extension.
func (s *MemoryStore) ListArtifacts(_ context.Context, name string, exts []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.repos[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	var out []string
	for _, f := range s.artifacts[name] {
		if len(allowed) > 0 {
			idx := strings.LastIndex(f, ".")
			if idx < 0 {
				continue
			}
			if _, ok := allowed[strings.ToLower(f[idx:])]; !ok {
				continue
			}
		}
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

// RecordArtifact registers a filename for ListArtifacts. Tests use this to
// simulate pre-existing crawl output.
func (s *MemoryStore) RecordArtifact(name, filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[name] = append(s.artifacts[name], filename)
}

// LoadManifest returns a copy of the repository's manifest.
func (s *MemoryStore) LoadManifest(_ context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.repos[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	out := make(map[string]string, len(s.manifests[name]))
	for k, v := range s.manifests[name] {
		out[k] = v
	}
	return out, nil
}

// AppendManifest records that pageURL was persisted under filename.
func (s *MemoryStore) AppendManifest(_ context.Context, name, pageURL, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if s.manifests[name] == nil {
		s.manifests[name] = make(map[string]string)
	}
	s.manifests[name][pageURL] = filename
	return nil
}
