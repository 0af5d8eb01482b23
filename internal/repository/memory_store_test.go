package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, Repository{Name: "docs", URLs: []string{"http://a.com"}})
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, created.Status)
	assert.Equal(t, SourceCrawler, created.Source)

	_, err = store.Create(ctx, Repository{Name: "docs"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, err := store.Get(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.com"}, got.URLs)

	got.URLs = []string{"http://b.com"}
	updated, err := store.Update(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	require.NoError(t, store.Delete(ctx, "docs"))
	_, err = store.Get(ctx, "docs")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "docs"), ErrNotFound)
}

func TestMemoryStoreGetAllSorted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, name := range []string{"c", "a", "b"} {
		_, err := store.Create(ctx, Repository{Name: name})
		require.NoError(t, err)
	}
	repos, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 3)
	assert.Equal(t, "a", repos[0].Name)
	assert.Equal(t, "c", repos[2].Name)
}

func TestMemoryStoreAutoUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, Repository{Name: "up", Source: SourceUpload})
	require.NoError(t, err)
	assert.ErrorIs(t, store.SetAutoUpdate(ctx, "up", true, FrequencyDaily), ErrNotCrawler)

	_, err = store.Create(ctx, Repository{Name: "cr", Source: SourceCrawler})
	require.NoError(t, err)
	require.NoError(t, store.SetAutoUpdate(ctx, "cr", true, FrequencyMonthly))
	got, err := store.Get(ctx, "cr")
	require.NoError(t, err)
	assert.True(t, got.AutoUpdate)
	assert.Equal(t, FrequencyMonthly, got.UpdateFrequency)
}

func TestMemoryStoreManifestAndArtifacts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, Repository{Name: "docs"})
	require.NoError(t, err)

	require.NoError(t, store.AppendManifest(ctx, "docs", "http://a.com", "a_com.txt"))
	manifest, err := store.LoadManifest(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"http://a.com": "a_com.txt"}, manifest)

	// The returned map is a copy.
	manifest["http://b.com"] = "b_com.txt"
	again, err := store.LoadManifest(ctx, "docs")
	require.NoError(t, err)
	assert.Len(t, again, 1)

	store.RecordArtifact("docs", "a_com.txt")
	store.RecordArtifact("docs", "report.pdf")
	files, err := store.ListArtifacts(ctx, "docs", []string{".txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a_com.txt"}, files)

	_, err = store.ListArtifacts(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.AppendManifest(ctx, "missing", "u", "f"), ErrNotFound)
}

func TestFrequencyValid(t *testing.T) {
	for _, f := range []Frequency{FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly} {
		assert.True(t, f.Valid(), string(f))
	}
	assert.False(t, Frequency("hourly").Valid())
	assert.False(t, Frequency("").Valid())
}
