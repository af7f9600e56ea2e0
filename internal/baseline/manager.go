package baseline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// Manager applies the cache eviction policy.
type Manager interface {
	Evict(manifest *CacheManifest, maxSizeBytes int64) ([]string, error)
	CurrentSize(manifest *CacheManifest) int64
}

type manager struct {
	cacheDir string
	log      logrus.FieldLogger
}

type keyedEntry struct {
	key   string
	entry *CacheEntry
}

// NewManager creates an LRU eviction manager for cacheDir.
func NewManager(cacheDir string, log logrus.FieldLogger) Manager {
	return &manager{
		cacheDir: cacheDir,
		log:      log.WithField("component", "cache_manager"),
	}
}

// CurrentSize sums the recorded size of every cached bundle.
func (m *manager) CurrentSize(manifest *CacheManifest) int64 {
	var total int64
	for _, entry := range manifest.Entries {
		total += entry.Size
	}

	return total
}

// Evict removes the least recently used bundles until the cache fits in
// maxSizeBytes and returns the evicted keys.
func (m *manager) Evict(manifest *CacheManifest, maxSizeBytes int64) ([]string, error) {
	currentSize := m.CurrentSize(manifest)
	if currentSize <= maxSizeBytes {
		return nil, nil
	}

	entries := make([]keyedEntry, 0, len(manifest.Entries))
	for key, entry := range manifest.Entries {
		entries = append(entries, keyedEntry{key: key, entry: entry})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].entry.LastUsed.Before(entries[j].entry.LastUsed)
	})

	var (
		deleted   []string
		sizeFreed int64
	)

	for _, item := range entries {
		if currentSize-sizeFreed <= maxSizeBytes {
			break
		}

		filePath := filepath.Join(m.cacheDir, item.key)
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			m.log.WithError(err).WithField("file", filePath).Warn("failed to delete cache file")
		} else {
			m.log.WithFields(logrus.Fields{
				"name": item.entry.Name,
				"size": item.entry.Size,
				"age":  item.entry.LastUsed,
			}).Debug("evicted cache entry")
		}

		delete(manifest.Entries, item.key)
		deleted = append(deleted, item.key)
		sizeFreed += item.entry.Size
	}

	newSize := currentSize - sizeFreed
	m.log.WithFields(logrus.Fields{
		"evicted":  len(deleted),
		"freed":    sizeFreed,
		"new_size": newSize,
	}).Info("cache eviction complete")

	if newSize > maxSizeBytes {
		return deleted, fmt.Errorf("unable to free enough space: current=%d, max=%d", newSize, maxSizeBytes) //nolint:err113 // include sizes for debugging
	}

	return deleted, nil
}

// Compile-time interface compliance check
var _ Manager = (*manager)(nil)
