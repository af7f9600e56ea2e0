package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/visual-metrics/internal/archive"
	"github.com/ethpandaops/visual-metrics/internal/config"
	"github.com/ethpandaops/visual-metrics/internal/similarity"
	"github.com/spf13/cobra"
)

var (
	// Similarity command flags
	similarityLiveDir   string
	similarityOutputDir string
	similarityThreshold float64
	similarityWorkers   int
)

var similarityCmd = &cobra.Command{
	Use:   "similarity <old-dir> <new-dir>",
	Short: "Score the similarity of two local video sets",
	Long: `Compare the .mp4 recordings found under two directories with the same
histogram correlation used by run --similarity, without looking up baselines.

With --live, the new videos are also compared against a live-site recording
set. The scores are printed as JSON.

Example:
  visual-metrics similarity ./previous ./current
  visual-metrics similarity ./previous ./current --live ./live --output-dir ./out`,
	Args: cobra.ExactArgs(2),
	RunE: runSimilarityCmd,
}

func init() {
	rootCmd.AddCommand(similarityCmd)

	similarityCmd.Flags().StringVar(&similarityLiveDir, "live", "", "Directory with live-site recordings")
	similarityCmd.Flags().StringVar(&similarityOutputDir, "output-dir", "", "Directory to copy the least similar pair into when the score is low")
	similarityCmd.Flags().Float64Var(&similarityThreshold, "threshold", config.DefaultSimilarityThreshold, "Score at or below which the least similar pair is kept")
	similarityCmd.Flags().IntVar(&similarityWorkers, "workers", 4, "Number of concurrent video decodes")
}

func runSimilarityCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := Logger

	scorer := similarity.NewScorer(
		log,
		similarity.NewFFmpegReader(log, cfg.Similarity.FFmpegPath, cfg.Similarity.FFprobePath),
		similarity.ScorerConfig{
			Threshold: similarityThreshold,
			OutputDir: similarityOutputDir,
			Workers:   similarityWorkers,
		},
	)

	newVideos, err := archive.FindFiles(args[1], ".mp4")
	if err != nil {
		return fmt.Errorf("listing new videos: %w", err)
	}

	var res similarity.Result

	score, err := compareDir(ctx, scorer, args[0], newVideos, "")
	if err != nil {
		return err
	}
	res.Similarity, res.Similarity2D = &score.Full, &score.LastFrame

	if similarityLiveDir != "" {
		live, err := compareDir(ctx, scorer, similarityLiveDir, newVideos, "live_")
		if err != nil {
			return err
		}
		res.PlaybackSimilarity, res.PlaybackSimilarity2D = &live.Full, &live.LastFrame
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encoding scores: %w", err)
	}

	return nil
}

func compareDir(ctx context.Context, scorer *similarity.Scorer, dir string, newVideos []string, prefix string) (*similarity.Score, error) {
	videos, err := archive.FindFiles(dir, ".mp4")
	if err != nil {
		return nil, fmt.Errorf("listing videos in %s: %w", dir, err)
	}

	score, err := scorer.Compare(ctx, videos, newVideos, prefix)
	if err != nil {
		return nil, fmt.Errorf("comparing %s: %w", dir, err)
	}

	return score, nil
}
