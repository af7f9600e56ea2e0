package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethpandaops/visual-metrics/internal/catalog"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeTool = `#!/bin/sh
video="$2"
case "$video" in
  *ok*)
    echo "[INFO] - processing $video"
    echo "frame=  120 fps=0.0 q=-0.0 size=N/A"
    echo '{"SpeedIndex": 1200, "lastVisualChange": 1500, "VisualProgress": "0=0%"}'
    ;;
  *error*)
    echo "[ERROR] - could not decode frames"
    echo '{"SpeedIndex": 1}'
    ;;
  *exit*)
    echo "[WARNING] - giving up"
    exit 3
    ;;
  *slow*)
    echo "[INFO] - about to hang"
    sleep 30
    ;;
  *garbage*)
    echo "no metrics here"
    ;;
  *zero*)
    echo '{"speedIndex": 0, "FirstVisualChange": 0}'
    ;;
esac
`

func newTestLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newFakeExecutor(t *testing.T, maxTime time.Duration) Executor {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake tool requires /bin/sh")
	}

	script := filepath.Join(t.TempDir(), "visualmetrics.sh")
	require.NoError(t, os.WriteFile(script, []byte(fakeTool), 0o600))

	return NewExecutor(newTestLogger(), ExecutorConfig{
		Command: []string{"/bin/sh", script},
		MaxTime: maxTime,
	})
}

func job(seq int, video string, acceptZero bool) catalog.Job {
	return catalog.Job{
		TestName:         "amazon",
		Seq:              seq,
		AcceptZeroMetric: acceptZero,
		VideoPath:        "/videos/" + video + ".mp4",
	}
}

func TestExecutor_Execute(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor(t, 10*time.Second)

	tests := []struct {
		name      string
		job       catalog.Job
		wantOK    bool
		wantErr   error
		wantNames []string
	}{
		{
			name:      "success",
			job:       job(1, "ok", false),
			wantOK:    true,
			wantNames: []string{"SpeedIndex", "lastVisualChange", "VisualProgress"},
		},
		{
			name:    "error line with zero exit code",
			job:     job(2, "error", false),
			wantErr: ErrToolFailure,
		},
		{
			name:    "non-zero exit",
			job:     job(3, "exit", false),
			wantErr: ErrToolFailure,
		},
		{
			name:    "no json object",
			job:     job(4, "garbage", false),
			wantErr: ErrMalformedOutput,
		},
		{
			name:    "zero monitored metric",
			job:     job(5, "zero", false),
			wantErr: ErrZeroMetric,
		},
		{
			name:      "zero accepted",
			job:       job(6, "zero", true),
			wantOK:    true,
			wantNames: []string{"speedIndex", "FirstVisualChange"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := exec.Execute(context.Background(), tt.job)
			assert.Equal(t, tt.wantOK, res.OK)
			assert.Equal(t, tt.job, res.Job)

			if tt.wantErr != nil {
				require.ErrorIs(t, res.Err, tt.wantErr)
				assert.Empty(t, res.Metrics)
				return
			}

			require.NoError(t, res.Err)
			names := make([]string, 0, len(res.Metrics))
			for _, m := range res.Metrics {
				names = append(names, m.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestExecutor_ZeroMetricIsToolFailure(t *testing.T) {
	t.Parallel()

	res := newFakeExecutor(t, 10*time.Second).Execute(context.Background(), job(1, "zero", false))
	require.ErrorIs(t, res.Err, ErrToolFailure)
	assert.Contains(t, res.Err.Error(), "speedIndex")
	assert.NotContains(t, res.Err.Error(), "FirstVisualChange", "only monitored metrics are checked")
}

func TestExecutor_Timeout(t *testing.T) {
	t.Parallel()

	start := time.Now()
	res := newFakeExecutor(t, 300*time.Millisecond).Execute(context.Background(), job(1, "slow", false))

	assert.False(t, res.OK)
	require.ErrorIs(t, res.Err, ErrJobTimeout)
	assert.Less(t, time.Since(start), 10*time.Second, "hung tool must be killed")
}

func TestExecutor_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newFakeExecutor(t, 10*time.Second).Execute(ctx, job(1, "ok", false))
	assert.False(t, res.OK)
	require.ErrorIs(t, res.Err, ErrToolFailure)
	assert.NotErrorIs(t, res.Err, ErrJobTimeout)
}

func TestPool_Run(t *testing.T) {
	t.Parallel()

	var hooked atomic.Int32

	pool := NewPool(newTestLogger(), newFakeExecutor(t, 5*time.Second),
		WithWorkers(2),
		WithResultHook(func(Result) { hooked.Add(1) }),
	)
	assert.Equal(t, 2, pool.Workers())

	jobs := []catalog.Job{
		job(1, "ok-1", false),
		job(2, "exit", false),
		job(3, "ok-2", false),
		job(4, "garbage", false),
	}

	results := pool.Run(context.Background(), jobs)
	require.Len(t, results, len(jobs))
	assert.Equal(t, int32(len(jobs)), hooked.Load())

	bySeq := make(map[int]Result, len(results))
	for _, r := range results {
		bySeq[r.Job.Seq] = r
	}

	assert.True(t, bySeq[1].OK)
	assert.False(t, bySeq[2].OK)
	assert.True(t, bySeq[3].OK)
	assert.False(t, bySeq[4].OK)
}

func TestPool_RunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewPool(newTestLogger(), newFakeExecutor(t, 5*time.Second), WithWorkers(1))
	results := pool.Run(ctx, []catalog.Job{job(1, "ok", false), job(2, "ok", false)})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.OK)
	}
}

func TestDefaultWorkers(t *testing.T) {
	t.Parallel()

	assert.GreaterOrEqual(t, DefaultWorkers(), 1)
}

func TestClassifyLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line      string
		wantLevel Level
		wantMsg   string
	}{
		{line: "[INFO] - Processing video", wantLevel: LevelInfo, wantMsg: "Processing video"},
		{line: "[WARNING] - low fps - retrying", wantLevel: LevelWarning, wantMsg: "low fps - retrying"},
		{line: "[ERROR] - bad frame", wantLevel: LevelError, wantMsg: "bad frame"},
		{line: "[CRITICAL] - crashed", wantLevel: LevelCritical, wantMsg: "crashed"},
		{line: "frame=  10 fps=0.0", wantLevel: LevelInfo, wantMsg: "frame=  10 fps=0.0"},
		{line: `{"SpeedIndex": 10}`, wantLevel: LevelInfo, wantMsg: `{"SpeedIndex": 10}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()

			level, msg := ClassifyLine(tt.line)
			assert.Equal(t, tt.wantLevel, level)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}

	assert.True(t, LevelError.IsFailure())
	assert.True(t, LevelCritical.IsFailure())
	assert.False(t, LevelWarning.IsFailure())
}

func TestParseMetrics(t *testing.T) {
	t.Parallel()

	t.Run("last object wins", func(t *testing.T) {
		t.Parallel()

		readings, err := ParseMetrics([]string{
			`{"SpeedIndex": 1}`,
			"[INFO] - done",
			`{"SpeedIndex": 2, "FirstVisualChange": "300"}`,
			"[INFO] - trailing chatter",
		})
		require.NoError(t, err)
		require.Len(t, readings, 2)
		assert.Equal(t, "SpeedIndex", readings[0].Name)
		assert.Equal(t, json.Number("2"), readings[0].Value)
		assert.Equal(t, "300", readings[1].Value)
	})

	t.Run("skips truncated object", func(t *testing.T) {
		t.Parallel()

		readings, err := ParseMetrics([]string{`{"SpeedIndex": 7}`, `{"SpeedIndex": `})
		require.NoError(t, err)
		assert.Equal(t, json.Number("7"), readings[0].Value)
	})

	t.Run("array is not metrics", func(t *testing.T) {
		t.Parallel()

		_, err := ParseMetrics([]string{`[1, 2]`})
		require.ErrorIs(t, err, ErrMalformedOutput)
	})

	t.Run("trailing data rejected", func(t *testing.T) {
		t.Parallel()

		_, err := ParseMetrics([]string{`{"a": 1} {"b": 2}`})
		require.ErrorIs(t, err, ErrMalformedOutput)
	})

	t.Run("empty output", func(t *testing.T) {
		t.Parallel()

		_, err := ParseMetrics(nil)
		require.ErrorIs(t, err, ErrMalformedOutput)
	})
}

func TestZeroMetrics(t *testing.T) {
	t.Parallel()

	readings := []MetricReading{
		{Name: "SpeedIndex", Value: json.Number("0")},
		{Name: "ContentfulSpeedIndex", Value: json.Number("0.0")},
		{Name: "LastVisualChange", Value: json.Number("10")},
		{Name: "perceptualSpeedIndex", Value: "0"},
		{Name: "FirstVisualChange", Value: json.Number("0")},
	}

	assert.Equal(t, []string{"SpeedIndex", "ContentfulSpeedIndex"}, ZeroMetrics(readings))
}

func TestLineWriter(t *testing.T) {
	t.Parallel()

	var lines []string
	w := &lineWriter{fn: func(l string) { lines = append(lines, l) }}

	_, _ = w.Write([]byte("[INFO] - one\n[INF"))
	_, _ = w.Write([]byte("O] - two\r\n\n"))
	_, _ = w.Write([]byte("tail"))
	w.Flush()

	assert.Equal(t, []string{"[INFO] - one", "[INFO] - two", "tail"}, lines)
}
