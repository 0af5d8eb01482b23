package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	metadataFile = "repository.json"
	manifestFile = "manifest.json"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ -]*$`)

// FSStore keeps one directory per repository under a base directory.
type FSStore struct {
	baseDir string
	logger  *zap.Logger

	// mu serializes read-modify-write cycles on metadata and manifest files.
	mu sync.Mutex
}

// NewFSStore validates the base directory and returns a filesystem store.
func NewFSStore(baseDir string, logger *zap.Logger) (*FSStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &FSStore{baseDir: baseDir, logger: logger}, nil
}

// Dir returns the directory backing the named repository.
func (s *FSStore) Dir(name string) (string, error) {
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	full := filepath.Join(s.baseDir, name)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(full), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return full, nil
}

// Create makes the repository directory and writes initial metadata. The
// status starts as incomplete until a crawl finishes.
func (s *FSStore) Create(ctx context.Context, repo Repository) (Repository, error) {
	if err := ctx.Err(); err != nil {
		return Repository{}, err
	}
	dir, err := s.Dir(repo.Name)
	if err != nil {
		return Repository{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err == nil {
		return Repository{}, fmt.Errorf("%w: %q", ErrAlreadyExists, repo.Name)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Repository{}, fmt.Errorf("failed to create repository directory: %w", err)
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
	if err := s.writeMetadata(dir, repo); err != nil {
		return Repository{}, err
	}
	s.logger.Info("repository created",
		zap.String("name", repo.Name),
		zap.String("source", string(repo.Source)),
	)
	return repo, nil
}

// Get loads a repository's metadata.
func (s *FSStore) Get(ctx context.Context, name string) (Repository, error) {
	if err := ctx.Err(); err != nil {
		return Repository{}, err
	}
	dir, err := s.Dir(name)
	if err != nil {
		return Repository{}, err
	}
	return s.readMetadata(dir, name)
}

// GetAll lists every repository with readable metadata, sorted by name.
func (s *FSStore) GetAll(ctx context.Context) ([]Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read base directory: %w", err)
	}
	repos := make([]Repository, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		repo, err := s.readMetadata(filepath.Join(s.baseDir, entry.Name()), entry.Name())
		if err != nil {
			// Directories without metadata are not repositories.
			s.logger.Debug("skipping directory without metadata", zap.String("dir", entry.Name()))
			continue
		}
		repos = append(repos, repo)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos, nil
}

// Update replaces the mutable metadata fields and bumps updated_at.
func (s *FSStore) Update(ctx context.Context, repo Repository) (Repository, error) {
	if err := ctx.Err(); err != nil {
		return Repository{}, err
	}
	dir, err := s.Dir(repo.Name)
	if err != nil {
		return Repository{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readMetadata(dir, repo.Name)
	if err != nil {
		return Repository{}, err
	}
	repo.CreatedAt = current.CreatedAt
	repo.UpdatedAt = time.Now().UTC()
	if err := s.writeMetadata(dir, repo); err != nil {
		return Repository{}, err
	}
	return repo, nil
}

// Delete removes the repository directory and everything in it.
func (s *FSStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.Dir(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err != nil {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	s.logger.Info("repository deleted", zap.String("name", name))
	return nil
}

// UpdateStatus flips the repository status.
func (s *FSStore) UpdateStatus(ctx context.Context, name string, status Status) error {
	return s.mutate(ctx, name, func(repo *Repository) error {
		repo.Status = status
		return nil
	})
}

// UpdateSeedURLs replaces the stored seed list used by incremental and
// scheduled re-crawls.
func (s *FSStore) UpdateSeedURLs(ctx context.Context, name string, urls []string) error {
	return s.mutate(ctx, name, func(repo *Repository) error {
		repo.URLs = append([]string(nil), urls...)
		return nil
	})
}

// SetAutoUpdate configures scheduled re-crawls. Only crawler-sourced
// repositories can auto-update.
func (s *FSStore) SetAutoUpdate(ctx context.Context, name string, enabled bool, freq Frequency) error {
	return s.mutate(ctx, name, func(repo *Repository) error {
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
		return nil
	})
}

// StampAutoUpdate records when the scheduler last refreshed the repository.
func (s *FSStore) StampAutoUpdate(ctx context.Context, name string, at time.Time) error {
	return s.mutate(ctx, name, func(repo *Repository) error {
		t := at.UTC()
		repo.LastAutoUpdate = &t
		return nil
	})
}

// ListArtifacts returns artifact filenames (not paths) with one of the given
// extensions. Metadata and manifest sidecars are never listed.
func (s *FSStore) ListArtifacts(ctx context.Context, name string, exts []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.Dir(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read repository directory: %w", err)
	}

	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if entry.Name() == metadataFile || entry.Name() == manifestFile {
			continue
		}
		if len(allowed) > 0 {
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if _, ok := allowed[ext]; !ok {
				continue
			}
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

// LoadManifest returns the URL to filename map for the repository. A missing
// manifest is an empty map, not an error; repositories created before the
// manifest existed resume via filename decoding instead.
func (s *FSStore) LoadManifest(ctx context.Context, name string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.Dir(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	manifest := make(map[string]string)
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return manifest, nil
}

// AppendManifest records that pageURL was persisted under filename.
func (s *FSStore) AppendManifest(ctx context.Context, name, pageURL, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.Dir(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	manifest := make(map[string]string)
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err == nil {
		if err := json.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("failed to parse manifest: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	manifest[pageURL] = filename
	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), out, 0o600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (s *FSStore) mutate(ctx context.Context, name string, fn func(*Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.Dir(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.readMetadata(dir, name)
	if err != nil {
		return err
	}
	if err := fn(&repo); err != nil {
		return err
	}
	repo.UpdatedAt = time.Now().UTC()
	return s.writeMetadata(dir, repo)
}

func (s *FSStore) readMetadata(dir, name string) (Repository, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Repository{}, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return Repository{}, fmt.Errorf("failed to read repository metadata: %w", err)
	}
	var repo Repository
	if err := json.Unmarshal(data, &repo); err != nil {
		return Repository{}, fmt.Errorf("failed to parse repository metadata: %w", err)
	}
	return repo, nil
}

func (s *FSStore) writeMetadata(dir string, repo Repository) error {
	data, err := json.MarshalIndent(repo, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode repository metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0o600); err != nil {
		return fmt.Errorf("failed to write repository metadata: %w", err)
	}
	return nil
}
