package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethpandaops/visual-metrics/internal/aggregate"
	"github.com/ethpandaops/visual-metrics/internal/baseline"
	"github.com/ethpandaops/visual-metrics/internal/catalog"
	"github.com/ethpandaops/visual-metrics/internal/config"
	"github.com/ethpandaops/visual-metrics/internal/history"
	"github.com/ethpandaops/visual-metrics/internal/metrics"
	"github.com/ethpandaops/visual-metrics/internal/perfherder"
	"github.com/ethpandaops/visual-metrics/internal/pipeline"
	"github.com/ethpandaops/visual-metrics/internal/runner"
	"github.com/ethpandaops/visual-metrics/internal/similarity"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Run command flags
	runWorkers    int
	runMaxTime    time.Duration
	runSimilarity bool
	runOutputDir  string
	runProgress   bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [VISUAL-METRICS-OPTIONS...]",
	Short: "Compute visual metrics for a browsertime run",
	Long: `Run the metrics tool over every video listed in the jobs manifest and
write perfherder-data.json and summary.json to the output directory.

Positional arguments are passed to every tool invocation. Use -- to pass
options that start with a dash.

The exit code is the number of failed jobs (capped at 125), or 1 when the
manifest or the report is invalid.

Example:
  MOZ_FETCHES_DIR=/builds/worker/fetches visual-metrics run
  visual-metrics run --similarity --workers 4 -- --orange --perceptual`,
	Args: cobra.ArbitraryArgs,
	RunE: runVisualMetrics,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Number of concurrent tool invocations (0 = CPU count)")
	runCmd.Flags().DurationVar(&runMaxTime, "max-time", config.DefaultMaxTime, "Time limit for a single tool invocation")
	runCmd.Flags().BoolVar(&runSimilarity, "similarity", false, "Score similarity against baseline recordings")
	runCmd.Flags().StringVar(&runOutputDir, "output-dir", config.DefaultOutputDir, "Directory for perfherder-data.json and summary.json")
	runCmd.Flags().BoolVar(&runProgress, "progress", false, "Show a progress bar on stderr")
}

// applyRunFlags overrides configuration with flags given on the command line.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("workers") {
		cfg.Workers = runWorkers
	}
	if flags.Changed("max-time") {
		cfg.MaxTime = runMaxTime
	}
	if flags.Changed("similarity") {
		cfg.Similarity.Enabled = runSimilarity
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = runOutputDir
	}
}

func runVisualMetrics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	applyRunFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bar *progressbar.ProgressBar
	if runProgress {
		bar = newProgressBar(cmd.ErrOrStderr())
	}

	orchestrator, err := setupOrchestrator(cmd, cfg, args, bar)
	if err != nil {
		return fmt.Errorf("setting up orchestrator: %w", err)
	}

	if err := orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	defer func() {
		if err := orchestrator.Stop(); err != nil {
			Logger.WithError(err).Warn("failed to stop orchestrator")
		}
	}()

	out, err := orchestrator.Run(ctx)

	if bar != nil {
		_ = bar.Finish()
	}

	if err != nil {
		return err
	}

	if code := pipeline.ExitCode(out, nil); code != 0 {
		return &exitCodeError{
			code: code,
			err:  fmt.Errorf("%d of %d visual metrics jobs failed", out.Failed(), out.Result.TotalJobs), //nolint:err113 // counts are only known at runtime
		}
	}

	return nil
}

func setupOrchestrator(
	cmd *cobra.Command,
	cfg *config.Config,
	toolOptions []string,
	bar *progressbar.ProgressBar,
) (*pipeline.Orchestrator, error) {
	log := Logger

	tool, err := cfg.ToolCommand()
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(log)

	executor := runner.NewExecutor(log, runner.ExecutorConfig{
		Command: tool,
		Options: toolOptions,
		MaxTime: cfg.MaxTime,
	})

	poolOpts := []runner.PoolOption{runner.WithWorkers(cfg.Workers)}
	if bar != nil {
		poolOpts = append(poolOpts, runner.WithResultHook(func(runner.Result) {
			_ = bar.Add(1)
		}))
	}

	builder, err := catalog.NewBuilder(log, cfg.FetchDir)
	if err != nil {
		return nil, fmt.Errorf("creating catalog builder: %w", err)
	}

	validator, err := perfherder.NewValidator(cfg.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("loading perfherder schema: %w", err)
	}

	log.WithFields(logrus.Fields{
		"fetch_dir":  cfg.FetchDir,
		"output_dir": cfg.OutputDir,
		"schema":     validator.Source(),
		"similarity": cfg.Similarity.Enabled,
	}).Debug("configured run")

	orchestratorCfg := &pipeline.OrchestratorConfig{
		Logger:              log,
		Writer:              cmd.OutOrStdout(),
		Marker:              cmd.OutOrStdout(),
		MetricsCollector:    collector,
		Catalog:             builder,
		Pool:                runner.NewPool(log, executor, poolOpts...),
		Aggregator:          aggregate.NewAggregator(log),
		Report:              perfherder.NewWriter(log, cfg.OutputDir, validator),
		FetchDir:            cfg.FetchDir,
		ManifestPath:        cfg.JobsManifestPath(),
		ArchivePath:         cfg.ResultsArchivePath(),
		SimilarityThreshold: cfg.Similarity.Threshold,
		Label:               cfg.Similarity.Label,
		PushgatewayURL:      cfg.PushgatewayURL,
	}

	if cfg.Similarity.Enabled {
		sim := cfg.Similarity

		reader := similarity.NewFFmpegReader(log, sim.FFmpegPath, sim.FFprobePath)
		orchestratorCfg.Similarity = similarity.NewScorer(log, reader, similarity.ScorerConfig{
			Threshold: sim.Threshold,
			OutputDir: cfg.OutputDir,
			Workers:   sim.DecodeWorkers,
		})

		workDir := sim.BaselineWorkDir
		if workDir == "" {
			workDir = filepath.Join(cfg.FetchDir, "baselines")
		}

		orchestratorCfg.Baselines = baseline.NewFetcher(
			log,
			baseline.NewLocator(log, sim.ActiveDataURL, sim.GroupID),
			baseline.NewCache(log, sim.CacheDir, sim.CacheMaxSize, collector),
			workDir,
		)
	}

	if cfg.ClickhouseURL != "" {
		orchestratorCfg.History = history.NewPublisher(log, cfg.ClickhouseURL)
	}

	return pipeline.NewOrchestrator(orchestratorCfg), nil
}

// newProgressBar returns a counter of finished jobs. The total is unknown
// until the catalog is built, so it renders as a spinner.
func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("visual metrics jobs"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
