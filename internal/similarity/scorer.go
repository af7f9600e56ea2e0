// Package similarity scores how closely a batch of recordings resembles a
// baseline batch by correlating greyscale intensity histograms.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrNoVideos is returned when either side of a comparison is empty.
var ErrNoVideos = errors.New("no videos to compare")

// decimals is the precision scores are reported with.
const decimals = 5

// Histograms holds the full-video ("3D") and final-frame ("2D") histograms
// of one video.
type Histograms struct {
	Full      []float64
	LastFrame []float64
}

// Score is the outcome of comparing two video sets.
type Score struct {
	Full      float64
	LastFrame float64
	// WorstOld and WorstNew are the least similar pair by full-video correlation.
	WorstOld string
	WorstNew string
	// Preserved is true when the worst pair was copied to the output directory.
	Preserved bool
}

// ScorerConfig configures a Scorer.
type ScorerConfig struct {
	// Threshold is the rounded score at or below which the worst pair is kept.
	Threshold float64
	// OutputDir receives <prefix>old_video.mp4 and <prefix>new_video.mp4.
	OutputDir string
	// Workers bounds concurrent video decodes.
	Workers int
}

// Scorer computes similarity between video sets. Histograms are cached by
// path so the new batch is decoded once even when compared against several
// baselines.
type Scorer struct {
	reader FrameReader
	cfg    ScorerConfig
	log    logrus.FieldLogger

	mu    sync.Mutex
	cache map[string]*Histograms
}

// NewScorer creates a Scorer.
func NewScorer(log logrus.FieldLogger, reader FrameReader, cfg ScorerConfig) *Scorer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Scorer{
		reader: reader,
		cfg:    cfg,
		log:    log.WithField("component", "similarity_scorer"),
		cache:  make(map[string]*Histograms),
	}
}

// Compare scores the first N videos of each set against each other, where N
// is the size of the smaller set. Every (old, new) pair is correlated and the
// mean over the N x N matrix is the score.
func (s *Scorer) Compare(ctx context.Context, oldVideos, newVideos []string, prefix string) (*Score, error) {
	n := min(len(oldVideos), len(newVideos))
	if n == 0 {
		return nil, fmt.Errorf("%w: %d old, %d new", ErrNoVideos, len(oldVideos), len(newVideos))
	}

	oldHists, err := s.histograms(ctx, oldVideos[:n])
	if err != nil {
		return nil, err
	}

	newHists, err := s.histograms(ctx, newVideos[:n])
	if err != nil {
		return nil, err
	}

	var (
		sumFull, sumLast float64
		worst            = math.Inf(1)
		worstI, worstJ   int
	)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			rho := Spearman(newHists[j].Full, oldHists[i].Full)
			rho2d := Spearman(newHists[j].LastFrame, oldHists[i].LastFrame)

			sumFull += rho
			sumLast += rho2d

			if rho < worst {
				worst, worstI, worstJ = rho, i, j
			}
		}
	}

	cells := float64(n * n)
	score := &Score{
		Full:      Round(sumFull/cells, decimals),
		LastFrame: Round(sumLast/cells, decimals),
		WorstOld:  oldVideos[worstI],
		WorstNew:  newVideos[worstJ],
	}

	s.log.WithFields(logrus.Fields{
		"prefix": prefix,
		"videos": n,
	}).Infof("Average 3D similarity: %v", score.Full)
	s.log.WithField("prefix", prefix).Infof("Average 2D similarity: %v", score.LastFrame)

	if isLow(score, s.cfg.Threshold) && s.cfg.OutputDir != "" {
		if err := s.preserve(score, prefix); err != nil {
			s.log.WithError(err).Warn("failed to copy least similar videos")
		} else {
			score.Preserved = true
		}
	}

	return score, nil
}

// histograms decodes the given videos concurrently, reusing cached results.
func (s *Scorer) histograms(ctx context.Context, paths []string) ([]*Histograms, error) {
	out := make([]*Histograms, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			h, err := s.histogram(ctx, path)
			if err != nil {
				return err
			}
			out[i] = h
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Scorer) histogram(ctx context.Context, path string) (*Histograms, error) {
	s.mu.Lock()
	cached, ok := s.cache[path]
	s.mu.Unlock()

	if ok {
		return cached, nil
	}

	var (
		full IntensityCounts
		last []byte
	)

	err := s.reader.ReadFrames(ctx, path, func(frame []byte) error {
		full.Add(frame)
		if cap(last) < len(frame) {
			last = make([]byte, len(frame))
		}
		last = last[:len(frame)]
		copy(last, frame)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading frames from %s: %w", path, err)
	}

	if last == nil {
		return nil, fmt.Errorf("%w: %s", errNoFrames, path)
	}

	var final IntensityCounts
	final.Add(last)

	h := &Histograms{
		Full:      full.Histogram(Bins),
		LastFrame: final.Histogram(Bins),
	}

	s.mu.Lock()
	s.cache[path] = h
	s.mu.Unlock()

	return h, nil
}

// preserve copies the least similar pair into the output directory.
func (s *Scorer) preserve(score *Score, prefix string) error {
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	oldDst := filepath.Join(s.cfg.OutputDir, prefix+"old_video.mp4")
	if err := copyFile(score.WorstOld, oldDst); err != nil {
		return err
	}

	newDst := filepath.Join(s.cfg.OutputDir, prefix+"new_video.mp4")
	if err := copyFile(score.WorstNew, newDst); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"old": score.WorstOld,
		"new": score.WorstNew,
	}).Info("low similarity, kept least similar videos")

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // paths come from the catalog and baseline bundle
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst) //nolint:gosec // destination is inside the output directory
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying to %s: %w", dst, err)
	}

	return out.Close()
}

// isLow reports whether either score, rounded to one decimal, is at or below
// threshold.
func isLow(score *Score, threshold float64) bool {
	return Round(score.Full, 1) <= threshold || Round(score.LastFrame, 1) <= threshold
}
