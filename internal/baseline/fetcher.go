package baseline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/visual-metrics/internal/archive"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

const videoExt = ".mp4"

// Fetcher resolves a baseline kind and task label to local video files.
type Fetcher struct {
	locator Locator
	cache   Cache
	workDir string
	log     logrus.FieldLogger
}

// NewFetcher creates a Fetcher that unpacks bundles under workDir/<kind>.
func NewFetcher(log logrus.FieldLogger, locator Locator, cache Cache, workDir string) *Fetcher {
	return &Fetcher{
		locator: locator,
		cache:   cache,
		workDir: workDir,
		log:     log.WithField("component", "baseline_fetcher"),
	}
}

// Start prepares the underlying cache.
func (f *Fetcher) Start(ctx context.Context) error {
	return f.cache.Start(ctx)
}

// Stop trims the cache to its size limit and persists it.
func (f *Fetcher) Stop() error {
	var result *multierror.Error

	if err := f.cache.Cleanup(); err != nil {
		result = multierror.Append(result, fmt.Errorf("cleaning cache: %w", err))
	}

	if err := f.cache.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stopping cache: %w", err))
	}

	return result.ErrorOrNil()
}

// Videos returns the sorted .mp4 paths of the newest baseline bundle of the
// given kind. ErrBaselineUnavailable is returned when none can be found.
func (f *Fetcher) Videos(ctx context.Context, kind Kind, label string) ([]string, error) {
	art, err := f.locator.Locate(ctx, kind, label)
	if err != nil {
		return nil, err
	}

	bundle, err := f.cache.Get(ctx, art.URL, fmt.Sprintf("%s/%s", kind, art.TaskID))
	if err != nil {
		return nil, fmt.Errorf("fetching bundle for task %s: %w", art.TaskID, err)
	}

	dst := filepath.Join(f.workDir, string(kind))
	if err := os.RemoveAll(dst); err != nil {
		return nil, fmt.Errorf("clearing %s: %w", dst, err)
	}

	n, err := archive.ExtractTarGz(ctx, bundle, dst)
	if err != nil {
		return nil, fmt.Errorf("extracting bundle for task %s: %w", art.TaskID, err)
	}

	videos, err := archive.FindFiles(dst, videoExt)
	if err != nil {
		return nil, fmt.Errorf("listing baseline videos: %w", err)
	}

	f.log.WithFields(logrus.Fields{
		"kind":   kind,
		"task":   art.TaskID,
		"files":  n,
		"videos": len(videos),
	}).Info("unpacked baseline bundle")

	if len(videos) == 0 {
		return nil, fmt.Errorf("%w: bundle for task %s has no videos", ErrBaselineUnavailable, art.TaskID)
	}

	return videos, nil
}
