package baseline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethpandaops/visual-metrics/internal/metrics"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// Cache keeps downloaded baseline bundles on local disk keyed by URL.
type Cache interface {
	Start(ctx context.Context) error
	Stop() error
	Get(ctx context.Context, url, name string) (string, error)
	Cleanup() error
}

// ErrChecksumMismatch is returned when a cached bundle no longer matches the
// digest recorded in the manifest.
var ErrChecksumMismatch = errors.New("cached bundle checksum mismatch")

// CacheEntry is the manifest record for one cached bundle.
type CacheEntry struct {
	URL        string    `json:"url"`
	SHA256     string    `json:"sha256"`
	Size       int64     `json:"size"`
	Downloaded time.Time `json:"downloaded"`
	LastUsed   time.Time `json:"last_used"`
	Name       string    `json:"name"`
}

// CacheManifest tracks every cached bundle, keyed by the URL hash.
type CacheManifest struct {
	Entries map[string]*CacheEntry `json:"entries"`
}

type artifactCache struct {
	cacheDir     string
	maxSizeBytes int64
	httpClient   *http.Client
	log          logrus.FieldLogger
	metrics      metrics.Collector
	lock         *dirLock
	backoff      time.Duration

	mu       sync.RWMutex
	manifest *CacheManifest

	downloading sync.Map // URL → chan struct{}
}

const (
	manifestFilename   = "manifest.json"
	defaultHTTPTimeout = 10 * time.Minute
	downloadAttempts   = 3
	downloadBackoff    = time.Second
)

// NewCache creates a disk cache rooted at cacheDir. Cleanup evicts the least
// recently used bundles once the total size exceeds maxSizeBytes.
func NewCache(log logrus.FieldLogger, cacheDir string, maxSizeBytes int64, collector metrics.Collector) Cache {
	return &artifactCache{
		cacheDir:     cacheDir,
		maxSizeBytes: maxSizeBytes,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		log:      log.WithField("component", "baseline_cache"),
		metrics:  collector,
		lock:     newDirLock(cacheDir),
		backoff:  downloadBackoff,
		manifest: &CacheManifest{Entries: make(map[string]*CacheEntry)},
	}
}

// Start creates the cache directory, takes the directory lock and loads the
// manifest.
func (c *artifactCache) Start(_ context.Context) error {
	c.log.WithField("cache_dir", c.cacheDir).Debug("starting baseline cache")

	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	if err := c.lock.Acquire(); err != nil {
		return fmt.Errorf("locking cache directory: %w", err)
	}

	if err := c.loadManifest(); err != nil {
		c.log.WithError(err).Warn("failed to load manifest, starting with empty cache")
		c.manifest = &CacheManifest{Entries: make(map[string]*CacheEntry)}
	}

	c.log.WithField("entries", len(c.manifest.Entries)).Info("baseline cache started")

	return nil
}

// Stop saves the manifest and releases the directory lock.
func (c *artifactCache) Stop() error {
	c.log.Debug("stopping baseline cache")

	c.mu.RLock()
	err := c.saveManifest()
	c.mu.RUnlock()

	if releaseErr := c.lock.Release(); releaseErr != nil {
		c.log.WithError(releaseErr).Warn("failed to release cache lock")
	}

	if err != nil {
		return fmt.Errorf("saving manifest: %w", err)
	}

	return nil
}

// Get returns the local path of the bundle at url, downloading it on a miss.
func (c *artifactCache) Get(ctx context.Context, url, name string) (string, error) {
	startTime := time.Now()
	urlHash := hashURL(url)

	c.mu.RLock()
	entry, exists := c.manifest.Entries[urlHash]
	c.mu.RUnlock()

	if exists {
		filePath := filepath.Join(c.cacheDir, urlHash)

		fileInfo, err := c.verify(filePath, entry.SHA256)
		if err == nil {
			if err := c.updateLastUsed(urlHash); err != nil {
				c.log.WithError(err).Warn("failed to update last used time")
			}

			c.log.WithField("path", filePath).Debug("cache hit")

			c.metrics.RecordBaselineLoad(metrics.BaselineLoadMetric{
				Name:      name,
				Source:    metrics.SourceCache,
				SizeBytes: fileInfo.Size(),
				Duration:  time.Since(startTime),
				Timestamp: time.Now(),
			})

			return filePath, nil
		}

		c.log.WithError(err).WithField("path", filePath).Warn("discarding cached bundle")

		_ = os.Remove(filePath)

		c.mu.Lock()
		delete(c.manifest.Entries, urlHash)
		c.mu.Unlock()
	}

	c.log.WithField("url", url).Debug("cache miss, downloading")

	return c.download(ctx, url, urlHash, name)
}

// Cleanup evicts old entries if the cache exceeds its size limit.
func (c *artifactCache) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	manager := NewManager(c.cacheDir, c.log)

	if current := manager.CurrentSize(c.manifest); current > c.maxSizeBytes {
		c.log.WithFields(logrus.Fields{
			"current_size": current,
			"max_size":     c.maxSizeBytes,
		}).Info("cache size exceeded, evicting old entries")

		if _, err := manager.Evict(c.manifest, c.maxSizeBytes); err != nil {
			return fmt.Errorf("evicting cache entries: %w", err)
		}
	}

	return c.saveManifest()
}

func (c *artifactCache) download(ctx context.Context, url, urlHash, name string) (string, error) {
	downloadCh := make(chan struct{})
	actual, loaded := c.downloading.LoadOrStore(url, downloadCh)
	if loaded {
		c.log.WithField("url", url).Debug("waiting for concurrent download")
		select {
		case <-actual.(chan struct{}):
			return c.Get(ctx, url, name)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	defer func() {
		c.downloading.Delete(url)
		close(downloadCh)
	}()

	c.log.WithField("url", url).Info("downloading baseline bundle")
	start := time.Now()

	backoff := retry.WithMaxRetries(downloadAttempts, retry.NewExponential(c.backoff))

	var (
		written int64
		digest  string
	)

	tmpPath := filepath.Join(c.cacheDir, urlHash+".tmp")

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var fetchErr error
		written, digest, fetchErr = c.fetch(ctx, url, tmpPath)

		return fetchErr
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	finalPath := filepath.Join(c.cacheDir, urlHash)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("moving file to cache: %w", err)
	}

	now := time.Now()

	c.mu.Lock()
	c.manifest.Entries[urlHash] = &CacheEntry{
		URL:        url,
		SHA256:     digest,
		Size:       written,
		Downloaded: now,
		LastUsed:   now,
		Name:       name,
	}

	if err := c.saveManifest(); err != nil {
		c.log.WithError(err).Warn("failed to save manifest after download")
	}
	c.mu.Unlock()

	duration := time.Since(start)

	c.log.WithFields(logrus.Fields{
		"url":      url,
		"size":     written,
		"duration": duration,
		"path":     finalPath,
	}).Info("downloaded baseline bundle")

	c.metrics.RecordBaselineLoad(metrics.BaselineLoadMetric{
		Name:      name,
		Source:    metrics.SourceDownload,
		SizeBytes: written,
		Duration:  duration,
		Timestamp: time.Now(),
	})

	return finalPath, nil
}

// verify checks that the file at path still hashes to the digest recorded
// when it was downloaded.
func (c *artifactCache) verify(path, want string) (os.FileInfo, error) {
	f, err := os.Open(path) //nolint:gosec // path is derived from a hash inside the cache dir
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return nil, fmt.Errorf("hashing cached file: %w", err)
	}

	if got := hex.EncodeToString(hasher.Sum(nil)); got != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, want)
	}

	return info, nil
}

// fetch streams url into path and returns the size and SHA256 of the body.
// Transport failures and 5xx responses are retryable.
func (c *artifactCache) fetch(ctx context.Context, url, path string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", retry.RetryableError(fmt.Errorf("downloading file: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return 0, "", retry.RetryableError(fmt.Errorf("unexpected status code: %d", resp.StatusCode)) //nolint:err113 // status for debugging
	}
	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("unexpected status code: %d", resp.StatusCode) //nolint:err113 // status for debugging
	}

	f, err := os.Create(path) //nolint:gosec // path is derived from a hash inside the cache dir
	if err != nil {
		return 0, "", fmt.Errorf("creating temp file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()

	written, err := io.Copy(io.MultiWriter(f, hasher), resp.Body)
	if err != nil {
		return 0, "", retry.RetryableError(fmt.Errorf("writing file: %w", err))
	}

	if err := f.Close(); err != nil {
		return 0, "", fmt.Errorf("closing temp file: %w", err)
	}

	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (c *artifactCache) updateLastUsed(urlHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.manifest.Entries[urlHash]; ok {
		entry.LastUsed = time.Now()
	}

	return c.saveManifest()
}

func (c *artifactCache) loadManifest() error {
	data, err := os.ReadFile(filepath.Join(c.cacheDir, manifestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading manifest: %w", err)
	}

	var manifest CacheManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}

	if manifest.Entries == nil {
		manifest.Entries = make(map[string]*CacheEntry)
	}

	c.manifest = &manifest

	return nil
}

// saveManifest writes the manifest to disk.
// Caller must hold at least a read lock.
func (c *artifactCache) saveManifest() error {
	data, err := json.MarshalIndent(c.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(c.cacheDir, manifestFilename), data, 0o600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	return nil
}

func hashURL(url string) string {
	hash := sha256.Sum256([]byte(url))
	return hex.EncodeToString(hash[:])
}

// Compile-time interface compliance check
var _ Cache = (*artifactCache)(nil)
