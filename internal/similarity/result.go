package similarity

import (
	"context"
	"errors"

	"github.com/ethpandaops/visual-metrics/internal/aggregate"
	"github.com/ethpandaops/visual-metrics/internal/baseline"
	"github.com/sirupsen/logrus"
)

const (
	unitArbitrary = "a.u."
	livePrefix    = "live_"
)

// Baselines supplies the local video paths of a baseline recording set.
type Baselines interface {
	Videos(ctx context.Context, kind baseline.Kind, label string) ([]string, error)
}

// Result holds the four similarity scores. A nil field means no baseline
// was available for that axis, which is distinct from a low score.
type Result struct {
	PlaybackSimilarity   *float64 `json:"PlaybackSimilarity"`
	PlaybackSimilarity2D *float64 `json:"PlaybackSimilarity2D"`
	Similarity           *float64 `json:"Similarity"`
	Similarity2D         *float64 `json:"Similarity2D"`
}

// Available reports whether any score was computed.
func (r Result) Available() bool {
	return r.PlaybackSimilarity != nil || r.PlaybackSimilarity2D != nil ||
		r.Similarity != nil || r.Similarity2D != nil
}

// Subtests converts the available scores into report subtests.
func (r Result) Subtests() []*aggregate.Subtest {
	named := []struct {
		name  string
		value *float64
	}{
		{"PlaybackSimilarity", r.PlaybackSimilarity},
		{"PlaybackSimilarity2D", r.PlaybackSimilarity2D},
		{"Similarity", r.Similarity},
		{"Similarity2D", r.Similarity2D},
	}

	subtests := make([]*aggregate.Subtest, 0, len(named))
	for _, n := range named {
		if n.value == nil {
			continue
		}
		subtests = append(subtests, &aggregate.Subtest{
			Name:          n.name,
			Replicates:    []float64{*n.value},
			Value:         *n.value,
			LowerIsBetter: false,
			Unit:          unitArbitrary,
		})
	}

	return subtests
}

// Request describes one similarity evaluation.
type Request struct {
	// Label is the CI task label used to locate baselines.
	Label     string
	NewVideos []string
	// SkipLive disables the live-site comparison, used when the run itself
	// recorded live sites.
	SkipLive bool
}

// Evaluate compares the new videos against the previous run and, unless
// skipped, the live-site recording. It never fails: any error on an axis is
// logged and leaves that axis empty.
func (s *Scorer) Evaluate(ctx context.Context, baselines Baselines, req Request) Result {
	var res Result

	if req.Label == "" {
		s.log.Info("TC_LABEL is undefined, cannot calculate similarity metrics")
		return res
	}

	s.log.WithField("videos", len(req.NewVideos)).Info("calculating similarity")

	if score, ok := s.against(ctx, baselines, baseline.KindLastRun, req, ""); ok {
		full, last := score.Full, score.LastFrame
		res.Similarity, res.Similarity2D = &full, &last
	}

	if req.SkipLive {
		s.log.Debug("skipping live site comparison for live run")
		return res
	}

	if score, ok := s.against(ctx, baselines, baseline.KindLive, req, livePrefix); ok {
		full, last := score.Full, score.LastFrame
		res.PlaybackSimilarity, res.PlaybackSimilarity2D = &full, &last
	}

	return res
}

func (s *Scorer) against(
	ctx context.Context,
	baselines Baselines,
	kind baseline.Kind,
	req Request,
	prefix string,
) (*Score, bool) {
	log := s.log.WithFields(logrus.Fields{
		"baseline": kind,
		"label":    req.Label,
	})

	videos, err := baselines.Videos(ctx, kind, req.Label)
	if err != nil {
		if errors.Is(err, baseline.ErrBaselineUnavailable) {
			log.WithError(err).Info("no baseline found")
		} else {
			log.WithError(err).Warn("failed to fetch baseline")
		}
		return nil, false
	}

	log.WithField("videos", len(videos)).Info("found baseline videos")

	score, err := s.Compare(ctx, videos, req.NewVideos, prefix)
	if err != nil {
		log.WithError(err).Warn("failed to compute similarity")
		return nil, false
	}

	return score, true
}
