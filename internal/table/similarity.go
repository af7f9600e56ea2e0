package table

import (
	"github.com/ethpandaops/visual-metrics/internal/similarity"
	"github.com/sirupsen/logrus"
)

// SimilarityFormatter formats similarity scores as a table.
type SimilarityFormatter struct {
	log       logrus.FieldLogger
	renderer  Renderer
	colors    *ColorHelper
	threshold float64
}

// NewSimilarityFormatter creates a formatter that flags scores at or below
// threshold.
func NewSimilarityFormatter(log logrus.FieldLogger, renderer Renderer, threshold float64) *SimilarityFormatter {
	return &SimilarityFormatter{
		log:       log.WithField("component", "table.similarity_formatter"),
		renderer:  renderer,
		colors:    NewColorHelper(),
		threshold: threshold,
	}
}

// Format renders the four scores, one row per baseline.
func (f *SimilarityFormatter) Format(res similarity.Result) string {
	if !res.Available() {
		return "No similarity baseline available"
	}

	headers := []string{"Baseline", "3D (full video)", "2D (last frame)"}
	rows := [][]string{
		{"Previous run", f.colors.FormatScore(res.Similarity, f.threshold), f.colors.FormatScore(res.Similarity2D, f.threshold)},
		{"Live site", f.colors.FormatScore(res.PlaybackSimilarity, f.threshold), f.colors.FormatScore(res.PlaybackSimilarity2D, f.threshold)},
	}

	return "\n" + f.colors.Header("▸ Similarity") + "\n\n" + f.renderer.RenderToString(headers, rows, WithAutoFormatHeaders(false))
}
