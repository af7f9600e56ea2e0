// Package config handles configuration loading and management
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"
)

var (
	errFetchDirRequired  = errors.New("fetch directory is required (set MOZ_FETCHES_DIR)")
	errInvalidMaxTime    = errors.New("max time must be positive")
	errInvalidWorkers    = errors.New("workers must not be negative")
	errInvalidThreshold  = errors.New("similarity threshold must be within [-1, 1]")
	errEmptyToolCommand  = errors.New("tool command is empty")
	errInvalidCacheLimit = errors.New("baseline cache max size must be positive")
)

// Config holds the application configuration
type Config struct {
	FetchDir   string        `yaml:"fetch_dir"`
	OutputDir  string        `yaml:"output_dir"`
	SchemaPath string        `yaml:"schema_path"`
	MaxTime    time.Duration `yaml:"max_time"`
	Workers    int           `yaml:"workers"`
	// Tool is the command line used to run the metrics tool. {fetch_dir}
	// is replaced with FetchDir.
	Tool string `yaml:"tool"`

	Similarity SimilarityConfig `yaml:"similarity"`

	ClickhouseURL  string `yaml:"clickhouse_url"`
	PushgatewayURL string `yaml:"pushgateway_url"`
}

// SimilarityConfig configures baseline discovery and the similarity scorer.
type SimilarityConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Label           string  `yaml:"label"`
	GroupID         string  `yaml:"group_id"`
	ActiveDataURL   string  `yaml:"activedata_url"`
	Threshold       float64 `yaml:"threshold"`
	CacheDir        string  `yaml:"cache_dir"`
	CacheMaxSize    int64   `yaml:"cache_max_size"`
	FFmpegPath      string  `yaml:"ffmpeg_path"`
	FFprobePath     string  `yaml:"ffprobe_path"`
	DecodeWorkers   int     `yaml:"decode_workers"`
	BaselineWorkDir string  `yaml:"baseline_work_dir"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		OutputDir:  DefaultOutputDir,
		SchemaPath: DefaultSchemaPath,
		MaxTime:    DefaultMaxTime,
		Tool:       DefaultToolCommand,
		Similarity: SimilarityConfig{
			ActiveDataURL: DefaultActiveDataURL,
			Threshold:     DefaultSimilarityThreshold,
			CacheDir:      DefaultBaselineCacheDir,
			CacheMaxSize:  DefaultBaselineCacheMaxSize,
			FFmpegPath:    "ffmpeg",
			FFprobePath:   "ffprobe",
			DecodeWorkers: 4,
		},
	}
}

// Load reads configuration from defaults, an optional YAML file, the .env
// file and environment variables, in that order. An empty path or a missing
// file is not an error.
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// It's okay if the file doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return nil
}

func (c *Config) applyEnv() error {
	c.FetchDir = getEnv("MOZ_FETCHES_DIR", c.FetchDir)
	c.OutputDir = getEnv("VISMET_OUTPUT_DIR", c.OutputDir)
	c.SchemaPath = getEnv("PERFHERDER_SCHEMA", c.SchemaPath)
	c.Tool = getEnv("VISMET_TOOL", c.Tool)
	c.ClickhouseURL = getEnv("CLICKHOUSE_URL", c.ClickhouseURL)
	c.PushgatewayURL = getEnv("PUSHGATEWAY_URL", c.PushgatewayURL)

	c.Similarity.Label = getEnv("TC_LABEL", c.Similarity.Label)
	c.Similarity.GroupID = getEnv("TC_GROUP_ID", c.Similarity.GroupID)
	c.Similarity.ActiveDataURL = getEnv("ACTIVEDATA_URL", c.Similarity.ActiveDataURL)
	c.Similarity.CacheDir = getEnv("BASELINE_CACHE_DIR", c.Similarity.CacheDir)

	if v := os.Getenv("MAX_TIME"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_TIME: %w", err)
		}
		c.MaxTime = time.Duration(seconds) * time.Second
	}

	if v := os.Getenv("VISMET_WORKERS"); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid VISMET_WORKERS: %w", err)
		}
		c.Workers = workers
	}

	if v := os.Getenv("VISMET_SIMILARITY"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid VISMET_SIMILARITY: %w", err)
		}
		c.Similarity.Enabled = enabled
	}

	if v := os.Getenv("SIMILARITY_THRESHOLD"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid SIMILARITY_THRESHOLD: %w", err)
		}
		c.Similarity.Threshold = threshold
	}

	if v := os.Getenv("BASELINE_CACHE_MAX_SIZE"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid BASELINE_CACHE_MAX_SIZE: %w", err)
		}
		c.Similarity.CacheMaxSize = size
	}

	return nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.FetchDir == "" {
		return errFetchDirRequired
	}

	if c.MaxTime <= 0 {
		return errInvalidMaxTime
	}

	if c.Workers < 0 {
		return errInvalidWorkers
	}

	if c.Similarity.Threshold < -1 || c.Similarity.Threshold > 1 {
		return errInvalidThreshold
	}

	if c.Similarity.CacheMaxSize <= 0 {
		return errInvalidCacheLimit
	}

	if _, err := c.ToolCommand(); err != nil {
		return err
	}

	return nil
}

// ToolCommand splits the configured tool command line into an argv with
// {fetch_dir} expanded.
func (c *Config) ToolCommand() ([]string, error) {
	expanded := strings.ReplaceAll(c.Tool, "{fetch_dir}", c.FetchDir)

	argv, err := shellquote.Split(expanded)
	if err != nil {
		return nil, fmt.Errorf("parsing tool command %q: %w", c.Tool, err)
	}

	if len(argv) == 0 {
		return nil, errEmptyToolCommand
	}

	return argv, nil
}

// JobsManifestPath returns the location of jobs.json inside the fetch directory.
func (c *Config) JobsManifestPath() string {
	return filepath.Join(c.FetchDir, ResultsDir, JobsManifestFile)
}

// ResultsArchivePath returns the location of the browsertime results archive.
func (c *Config) ResultsArchivePath() string {
	return filepath.Join(c.FetchDir, ResultsArchiveFile)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) String() string {
	fetchDisplay := c.FetchDir
	if fetchDisplay == "" {
		fetchDisplay = "(not set)"
	}

	workersDisplay := strconv.Itoa(c.Workers)
	if c.Workers == 0 {
		workersDisplay = "(cpu count)"
	}

	labelDisplay := c.Similarity.Label
	if labelDisplay == "" {
		labelDisplay = "(not set)"
	}

	groupDisplay := c.Similarity.GroupID
	if groupDisplay == "" {
		groupDisplay = "(mozilla-central, last week)"
	}

	clickhouseDisplay := "(disabled)"
	if c.ClickhouseURL != "" {
		clickhouseDisplay = maskURL(c.ClickhouseURL)
	}

	pushDisplay := c.PushgatewayURL
	if pushDisplay == "" {
		pushDisplay = "(disabled)"
	}

	return fmt.Sprintf(`Current Configuration:
======================
Fetch Dir:                %s
Output Dir:               %s
Perfherder Schema:        %s
Max Time:                 %s
Workers:                  %s
Tool:                     %s
Similarity Enabled:       %t
Similarity Threshold:     %.2f
Task Label:               %s
Task Group:               %s
ActiveData URL:           %s
Baseline Cache Dir:       %s
Baseline Cache Max Size:  %d
ClickHouse URL:           %s
Pushgateway URL:          %s`,
		fetchDisplay,
		c.OutputDir,
		c.SchemaPath,
		c.MaxTime,
		workersDisplay,
		c.Tool,
		c.Similarity.Enabled,
		c.Similarity.Threshold,
		labelDisplay,
		groupDisplay,
		c.Similarity.ActiveDataURL,
		c.Similarity.CacheDir,
		c.Similarity.CacheMaxSize,
		clickhouseDisplay,
		pushDisplay,
	)
}

// maskURL hides the password component of a connection URL.
func maskURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}

	creds := raw[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon] + ":********"
	}

	return raw[:scheme+3] + creds + raw[at:]
}
