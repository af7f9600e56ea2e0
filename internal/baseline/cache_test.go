package baseline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethpandaops/visual-metrics/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, dir string, maxSize int64) (*artifactCache, metrics.Collector) {
	t.Helper()

	collector := metrics.NewCollector(quietLogger())
	require.NoError(t, collector.Start(context.Background()))

	c, ok := NewCache(quietLogger(), dir, maxSize, collector).(*artifactCache)
	require.True(t, ok)
	c.backoff = time.Millisecond

	return c, collector
}

func countingServer(t *testing.T, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

func TestCache_DownloadThenHit(t *testing.T) {
	t.Parallel()

	srv, hits := countingServer(t, "bundle-bytes")
	c, collector := newTestCache(t, t.TempDir(), 1<<20)
	require.NoError(t, c.Start(context.Background()))

	ctx := context.Background()

	first, err := c.Get(ctx, srv.URL+"/a.tgz", "last_run/t1")
	require.NoError(t, err)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "bundle-bytes", string(data))

	second, err := c.Get(ctx, srv.URL+"/a.tgz", "last_run/t1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())

	loads := collector.GetBaselineMetrics()
	require.Len(t, loads, 2)
	assert.Equal(t, metrics.SourceDownload, loads[0].Source)
	assert.Equal(t, metrics.SourceCache, loads[1].Source)
	assert.Equal(t, int64(len("bundle-bytes")), loads[0].SizeBytes)

	require.NoError(t, c.Stop())
}

func TestCache_ManifestSurvivesRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	srv, hits := countingServer(t, "payload")
	ctx := context.Background()

	c1, _ := newTestCache(t, dir, 1<<20)
	require.NoError(t, c1.Start(ctx))
	_, err := c1.Get(ctx, srv.URL, "live/t1")
	require.NoError(t, err)
	require.NoError(t, c1.Stop())

	c2, _ := newTestCache(t, dir, 1<<20)
	require.NoError(t, c2.Start(ctx))
	require.Len(t, c2.manifest.Entries, 1)

	for _, entry := range c2.manifest.Entries {
		assert.Equal(t, srv.URL, entry.URL)
		assert.Equal(t, int64(len("payload")), entry.Size)
		assert.Len(t, entry.SHA256, 64)
	}

	_, err = c2.Get(ctx, srv.URL, "live/t1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	require.NoError(t, c2.Stop())
}

func TestCache_MissingFileRedownloads(t *testing.T) {
	t.Parallel()

	srv, hits := countingServer(t, "x")
	c, _ := newTestCache(t, t.TempDir(), 1<<20)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	path, err := c.Get(ctx, srv.URL, "n")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = c.Get(ctx, srv.URL, "n")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	require.NoError(t, c.Stop())
}

func TestCache_CorruptFileRedownloads(t *testing.T) {
	t.Parallel()

	srv, hits := countingServer(t, "bundle-bytes")
	c, collector := newTestCache(t, t.TempDir(), 1<<20)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	path, err := c.Get(ctx, srv.URL, "n")
	require.NoError(t, err)

	_, err = c.verify(path, "deadbeef")
	require.ErrorIs(t, err, ErrChecksumMismatch)

	require.NoError(t, os.WriteFile(path, []byte("truncated"), 0o600))

	again, err := c.Get(ctx, srv.URL, "n")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(2), hits.Load())

	data, err := os.ReadFile(again)
	require.NoError(t, err)
	assert.Equal(t, "bundle-bytes", string(data))

	loads := collector.GetBaselineMetrics()
	require.Len(t, loads, 2)
	assert.Equal(t, metrics.SourceDownload, loads[1].Source)

	require.NoError(t, c.Stop())
}

func TestCache_ConcurrentGetDownloadsOnce(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		_, _ = io.WriteString(w, "shared")
	}))
	t.Cleanup(srv.Close)

	c, _ := newTestCache(t, t.TempDir(), 1<<20)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	var wg sync.WaitGroup

	paths := make([]string, 4)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.Get(ctx, srv.URL, "shared")
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}
	assert.Equal(t, int32(1), hits.Load())
	require.NoError(t, c.Stop())
}

func TestCache_DownloadErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		code, _ := strconv.Atoi(r.URL.Query().Get("code"))
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	c, _ := newTestCache(t, dir, 1<<20)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	_, err := c.Get(ctx, srv.URL+"?code=404", "n")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())

	_, err = c.Get(ctx, srv.URL+"?code=503", "n")
	require.Error(t, err)
	assert.Equal(t, int32(1+1+downloadAttempts), hits.Load())

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
	require.NoError(t, c.Stop())
}

func TestCache_CleanupEvictsOldest(t *testing.T) {
	t.Parallel()

	srv, _ := countingServer(t, "0123456789")
	dir := t.TempDir()
	c, _ := newTestCache(t, dir, 15)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	old, err := c.Get(ctx, srv.URL+"/old", "old")
	require.NoError(t, err)
	recent, err := c.Get(ctx, srv.URL+"/recent", "recent")
	require.NoError(t, err)

	c.manifest.Entries[hashURL(srv.URL+"/old")].LastUsed = time.Now().Add(-time.Hour)

	require.NoError(t, c.Cleanup())

	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
	assert.Len(t, c.manifest.Entries, 1)
	require.NoError(t, c.Stop())
}

func TestCache_Lock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	holder, _ := newTestCache(t, dir, 1)
	require.NoError(t, holder.Start(ctx))

	contender, _ := newTestCache(t, dir, 1)
	require.ErrorIs(t, contender.Start(ctx), ErrCacheLocked)

	require.NoError(t, holder.Stop())

	next, _ := newTestCache(t, dir, 1)
	require.NoError(t, next.Start(ctx))
	require.NoError(t, next.Stop())
}

func TestDirLock_LeftoverLockFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, lockFilename)

	// A lock file from a process that exited holds no lock.
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o600))

	lock := newDirLock(dir)
	require.NoError(t, lock.Acquire())
	require.ErrorIs(t, newDirLock(dir).Acquire(), ErrCacheLocked)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())

	next := newDirLock(dir)
	require.NoError(t, next.Acquire())
	require.NoError(t, next.Release())
}

func TestManager_Evict(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now()

	manifest := &CacheManifest{Entries: map[string]*CacheEntry{
		"a": {Name: "a", Size: 10, LastUsed: now.Add(-3 * time.Hour)},
		"b": {Name: "b", Size: 10, LastUsed: now.Add(-2 * time.Hour)},
		"c": {Name: "c", Size: 10, LastUsed: now},
	}}
	for key := range manifest.Entries {
		require.NoError(t, os.WriteFile(filepath.Join(dir, key), []byte("0123456789"), 0o600))
	}

	m := NewManager(dir, quietLogger())
	assert.Equal(t, int64(30), m.CurrentSize(manifest))

	deleted, err := m.Evict(manifest, 15)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, deleted)
	assert.Contains(t, manifest.Entries, "c")
	assert.NoFileExists(t, filepath.Join(dir, "a"))

	deleted, err = m.Evict(manifest, 15)
	require.NoError(t, err)
	assert.Empty(t, deleted)

	deleted, err = m.Evict(manifest, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, deleted)
	assert.Empty(t, manifest.Entries)
}
