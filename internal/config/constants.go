package config

import "time"

const (
	// DefaultOutputDir is where perfherder-data.json and summary.json are written.
	DefaultOutputDir = "/builds/worker/artifacts"
	// DefaultSchemaPath is the location of the performance artifact schema.
	DefaultSchemaPath = "/builds/worker/performance-artifact-schema.json"
	// DefaultMaxTime is the wall-clock budget for a single tool invocation.
	DefaultMaxTime = 300 * time.Second
	// DefaultToolCommand runs visualmetrics.py from the fetch directory.
	DefaultToolCommand = `python3 {fetch_dir}/visualmetrics.py -vvv --logformat "[%(levelname)s] - %(message)s"`
	// DefaultActiveDataURL is the task query endpoint used to locate baselines.
	DefaultActiveDataURL = "http://activedata.allizom.org/query"
	// DefaultSimilarityThreshold is the score at or below which the worst pair is kept.
	DefaultSimilarityThreshold = 0.7
	// DefaultBaselineCacheDir holds downloaded baseline bundles.
	DefaultBaselineCacheDir = ".baseline_cache"
	// DefaultBaselineCacheMaxSize is 5 GiB.
	DefaultBaselineCacheMaxSize int64 = 5 * 1024 * 1024 * 1024
	// DefaultConfigFile is read when present and no --config flag is given.
	DefaultConfigFile = "visual-metrics.yaml"

	// ResultsArchiveFile is the browsertime bundle fetched into the fetch directory.
	ResultsArchiveFile = "browsertime-results.tgz"
	// ResultsDir is the directory the bundle extracts to.
	ResultsDir = "browsertime-results"
	// JobsManifestFile lists the tests inside ResultsDir.
	JobsManifestFile = "jobs.json"
)
