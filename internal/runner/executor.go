// Package runner supervises metrics-tool invocations and fans them out over
// a bounded worker pool.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ethpandaops/visual-metrics/internal/catalog"
	"github.com/sirupsen/logrus"
)

var (
	// ErrJobTimeout is returned when the tool did not exit within its deadline.
	ErrJobTimeout = errors.New("timed out")
	// ErrToolFailure is returned for a non-zero exit or an error-level log line.
	ErrToolFailure = errors.New("tool failure")
	// ErrMalformedOutput is returned when no JSON metrics object was printed.
	ErrMalformedOutput = errors.New("malformed tool output")
	// ErrZeroMetric is returned when a monitored metric is zero and the test
	// does not accept it.
	ErrZeroMetric = fmt.Errorf("%w: visual metrics have an erroneous value of 0", ErrToolFailure)
)

// waitDelay bounds how long Wait blocks on output pipes after the tool was
// killed, in case a grandchild escaped the process group.
const waitDelay = 5 * time.Second

// Result is the outcome of one job.
type Result struct {
	Job      catalog.Job
	OK       bool
	Metrics  []MetricReading
	Err      error
	Duration time.Duration
}

// Executor runs the metrics tool for a single job.
type Executor interface {
	Execute(ctx context.Context, job catalog.Job) Result
}

// ExecutorConfig configures the tool invocation.
type ExecutorConfig struct {
	// Command is the tool argv; --video <path> and Options are appended.
	Command []string
	Options []string
	MaxTime time.Duration
}

type toolExecutor struct {
	cfg ExecutorConfig
	log logrus.FieldLogger
}

// NewExecutor creates an Executor that shells out to the metrics tool.
func NewExecutor(log logrus.FieldLogger, cfg ExecutorConfig) Executor {
	return &toolExecutor{
		cfg: cfg,
		log: log.WithField("component", "executor"),
	}
}

func (e *toolExecutor) Execute(ctx context.Context, job catalog.Job) Result {
	start := time.Now()
	result := Result{Job: job}

	lines, err := e.run(ctx, job)
	result.Duration = time.Since(start)

	if err != nil {
		result.Err = err
		return result
	}

	readings, err := ParseMetrics(lines)
	if err != nil {
		result.Err = err
		return result
	}

	if !job.AcceptZeroMetric {
		if zero := ZeroMetrics(readings); len(zero) > 0 {
			e.log.WithField("job", job.Seq).Error("TEST-UNEXPECTED-FAIL | Some visual metrics have an erroneous value of 0.")
			e.log.WithField("job", job.Seq).Infof("Tests which failed: %s", strings.Join(zero, ", "))
			result.Err = fmt.Errorf("%w: %s", ErrZeroMetric, strings.Join(zero, ", "))
			return result
		}
	}

	result.OK = true
	result.Metrics = readings

	return result
}

// run launches the tool and returns its combined output. Output collected
// before a timeout is still classified and logged.
func (e *toolExecutor) run(ctx context.Context, job catalog.Job) ([]string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.MaxTime)
	defer cancel()

	args := make([]string, 0, len(e.cfg.Command)+len(e.cfg.Options)+1)
	args = append(args, e.cfg.Command[1:]...)
	args = append(args, "--video", job.VideoPath)
	args = append(args, e.cfg.Options...)

	log := e.log.WithFields(logrus.Fields{
		"job":   job.Seq,
		"test":  job.TestName,
		"video": job.VideoPath,
	})
	log.WithField("cmd", append([]string{e.cfg.Command[0]}, args...)).Debug("running command")

	//nolint:gosec // G204: tool command is operator configured
	cmd := exec.CommandContext(runCtx, e.cfg.Command[0], args...)
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	var (
		prefix   = fmt.Sprintf("[JOB-%d] ", job.Seq)
		lines    []string
		errLines int
	)

	out := &lineWriter{fn: func(line string) {
		lines = append(lines, line)

		level, msg := ClassifyLine(line)
		switch {
		case level.IsFailure():
			errLines++
			log.Error("TEST-UNEXPECTED-FAIL | " + prefix + msg)
		case level == LevelWarning:
			log.Warn(prefix + msg)
		default:
			log.Info(prefix + msg)
		}
	}}
	cmd.Stdout = out
	cmd.Stderr = out

	runErr := cmd.Run()
	out.Flush()

	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		log.Error("TEST-UNEXPECTED-FAIL | Timed out waiting for response from command")
		return lines, fmt.Errorf("%w after %s", ErrJobTimeout, e.cfg.MaxTime)
	}

	if ctx.Err() != nil {
		return lines, fmt.Errorf("%w: %w", ErrToolFailure, ctx.Err())
	}

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) && !errors.Is(runErr, exec.ErrWaitDelay) {
		return lines, fmt.Errorf("%w: %w", ErrToolFailure, runErr)
	}

	if exitErr != nil {
		return lines, fmt.Errorf("%w: exit code %d", ErrToolFailure, exitErr.ExitCode())
	}

	if errLines > 0 {
		return lines, fmt.Errorf("%w: %d error lines in output", ErrToolFailure, errLines)
	}

	return lines, nil
}

// Compile-time interface compliance check
var _ Executor = (*toolExecutor)(nil)
