// Package catalog expands the browsertime jobs manifest into per-video jobs.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var (
	// ErrManifestInvalid is returned when jobs.json or a browsertime.json
	// does not conform to its schema.
	ErrManifestInvalid = errors.New("manifest invalid")
	// ErrMissingArtifact is returned when a descriptor or video cannot be opened.
	ErrMissingArtifact = errors.New("missing artifact")

	errTestNameRequired  = errors.New("test name is required")
	errVideoPathRequired = errors.New("video path is required")
	errSequenceInvalid   = errors.New("sequence number must be positive")
)

// Application identifies the browser under test.
type Application struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Job is one metrics-tool invocation: a single video of a single test.
type Job struct {
	TestName         string
	Seq              int
	ExtraOptions     []string
	AcceptZeroMetric bool
	ManifestPath     string
	VideoPath        string
}

// NewJob builds a Job, enforcing the fields every job needs.
func NewJob(testName string, seq int, extraOptions []string, acceptZero bool, manifestPath, videoPath string) (Job, error) {
	switch {
	case testName == "":
		return Job{}, errTestNameRequired
	case videoPath == "":
		return Job{}, errVideoPathRequired
	case seq <= 0:
		return Job{}, errSequenceInvalid
	}

	opts := make([]string, len(extraOptions))
	copy(opts, extraOptions)

	return Job{
		TestName:         testName,
		Seq:              seq,
		ExtraOptions:     opts,
		AcceptZeroMetric: acceptZero,
		ManifestPath:     manifestPath,
		VideoPath:        videoPath,
	}, nil
}

// Catalog is the flattened job list for one run.
type Catalog struct {
	Application  Application
	ExtraOptions []string
	Jobs         []Job
}

// VideoPaths returns the distinct video paths in job order.
func (c *Catalog) VideoPaths() []string {
	seen := make(map[string]struct{}, len(c.Jobs))
	paths := make([]string, 0, len(c.Jobs))

	for _, job := range c.Jobs {
		if _, ok := seen[job.VideoPath]; ok {
			continue
		}
		seen[job.VideoPath] = struct{}{}
		paths = append(paths, job.VideoPath)
	}

	return paths
}

// HasOption reports whether the manifest-level extra options contain opt.
func (c *Catalog) HasOption(opt string) bool {
	for _, o := range c.ExtraOptions {
		if o == opt {
			return true
		}
	}
	return false
}

type manifest struct {
	Jobs         []manifestJob `json:"jobs"`
	Application  Application   `json:"application"`
	ExtraOptions []string      `json:"extra_options"`
}

type manifestJob struct {
	TestName            string   `json:"test_name"`
	BrowsertimeJSONPath string   `json:"browsertime_json_path"`
	ExtraOptions        []string `json:"extra_options"`
	AcceptZeroVismet    bool     `json:"accept_zero_vismet"`
}

type site struct {
	Files struct {
		Video []string `json:"video"`
	} `json:"files"`
}

// Builder reads a jobs manifest and expands it into a Catalog.
type Builder interface {
	Build(manifestPath string) (*Catalog, error)
}

type builder struct {
	baseDir     string
	log         logrus.FieldLogger
	jobs        *schemaValidator
	browsertime *schemaValidator
}

// NewBuilder creates a catalog builder. Descriptor paths in the manifest are
// resolved against baseDir.
func NewBuilder(log logrus.FieldLogger, baseDir string) (Builder, error) {
	jobs, err := newSchemaValidator("jobs.json", jobsSchema)
	if err != nil {
		return nil, err
	}

	browsertime, err := newSchemaValidator("browsertime.json", browsertimeSchema)
	if err != nil {
		return nil, err
	}

	return &builder{
		baseDir:     baseDir,
		log:         log.WithField("component", "catalog"),
		jobs:        jobs,
		browsertime: browsertime,
	}, nil
}

// Build validates the manifest and every descriptor it references, and
// returns one job per (test, video) pair in manifest order.
func (b *builder) Build(manifestPath string) (*Catalog, error) {
	var m manifest
	if err := b.readJSON(manifestPath, b.jobs, &m); err != nil {
		return nil, err
	}

	catalog := &Catalog{
		Application:  m.Application,
		ExtraOptions: m.ExtraOptions,
		Jobs:         make([]Job, 0, len(m.Jobs)),
	}

	seq := 0

	for _, mj := range m.Jobs {
		descriptorPath := filepath.Join(b.baseDir, mj.BrowsertimeJSONPath)

		var sites []site
		if err := b.readJSON(descriptorPath, b.browsertime, &sites); err != nil {
			return nil, err
		}

		// An empty per-test list inherits the manifest-wide options.
		options := mj.ExtraOptions
		if len(options) == 0 {
			options = m.ExtraOptions
		}

		for _, s := range sites {
			for _, video := range s.Files.Video {
				videoPath := filepath.Join(filepath.Dir(descriptorPath), video)
				if _, err := os.Stat(videoPath); err != nil {
					return nil, fmt.Errorf("%w: video %s: %w", ErrMissingArtifact, videoPath, err)
				}

				seq++

				job, err := NewJob(mj.TestName, seq, options, mj.AcceptZeroVismet, descriptorPath, videoPath)
				if err != nil {
					return nil, fmt.Errorf("%w: %s: %w", ErrManifestInvalid, descriptorPath, err)
				}

				catalog.Jobs = append(catalog.Jobs, job)
			}
		}
	}

	b.log.WithFields(logrus.Fields{
		"tests":       len(m.Jobs),
		"jobs":        len(catalog.Jobs),
		"application": catalog.Application.Name,
	}).Info("built job catalog")

	return catalog, nil
}

func (b *builder) readJSON(path string, validator *schemaValidator, out interface{}) error {
	data, err := os.ReadFile(path) //nolint:gosec // manifest paths come from the fetched bundle
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMissingArtifact, path, err)
	}

	if err := validator.validate(data); err != nil {
		b.log.WithError(err).WithField("path", path).Error("JSON failed to validate")
		return fmt.Errorf("%w: %w", ErrManifestInvalid, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrManifestInvalid, path, err)
	}

	b.log.WithField("path", path).Debug("loaded JSON from file")

	return nil
}
