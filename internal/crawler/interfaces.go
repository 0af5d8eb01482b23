package crawler

import (
	"context"
	"io"
	"time"

	"github.com/truesight/crawld/internal/repository"
)

// RepositoryStore is the slice of the repository layer the engine needs:
// resolving the target repository, flipping its status when a task ends, and
// the sidecar manifest that makes incremental resume exact.
type RepositoryStore interface {
	Get(ctx context.Context, name string) (repository.Repository, error)
	Create(ctx context.Context, repo repository.Repository) (repository.Repository, error)
	UpdateStatus(ctx context.Context, name string, status repository.Status) error
	UpdateSeedURLs(ctx context.Context, name string, urls []string) error
	LoadManifest(ctx context.Context, name string) (map[string]string, error)
	AppendManifest(ctx context.Context, name, pageURL, filename string) error
	ListArtifacts(ctx context.Context, name string, exts []string) ([]string, error)
}

// ArtifactStore persists one artifact per accepted URL and returns a URI.
type ArtifactStore interface {
	WriteArtifact(ctx context.Context, repo, filename, contentType string, r io.Reader) (string, error)
}

// PageFetcher retrieves an HTML page, converts it to text, and extracts its
// outbound links.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) (Page, error)
}

// BinaryResult exposes a streamed binary download. The caller owns Body.
type BinaryResult struct {
	Body        io.ReadCloser
	StatusCode  int
	ContentType string
}

// BinaryFetcher streams binary artifacts such as PDFs.
type BinaryFetcher interface {
	FetchBinary(ctx context.Context, fileURL string) (BinaryResult, error)
}

// FetchLog records the outcome of every processed URL.
type FetchLog interface {
	Record(ctx context.Context, rec FetchRecord) error
}

// NoopFetchLog discards records. Used when no fetch log is configured.
type NoopFetchLog struct{}

// Record implements FetchLog.
func (NoopFetchLog) Record(context.Context, FetchRecord) error { return nil }

// Publisher pushes task completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, event TaskEvent) error
}

// Hasher hashes artifact content for the fetch log.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints unique identifiers for fetch log records.
type IDGenerator interface {
	NewID() (string, error)
}
