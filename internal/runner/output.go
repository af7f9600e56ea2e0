package runner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Level is the severity tag the metrics tool prefixes its log lines with.
type Level string

// Levels emitted by the metrics tool.
const (
	LevelInfo     Level = "[INFO]"
	LevelWarning  Level = "[WARNING]"
	LevelError    Level = "[ERROR]"
	LevelCritical Level = "[CRITICAL]"
)

var errNotObject = errors.New("not a JSON object")

// IsFailure reports whether a line at this level fails the job.
func (l Level) IsFailure() bool {
	return l == LevelError || l == LevelCritical
}

// ClassifyLine splits a tool output line into its level and message. Lines
// without a recognised tag (ffmpeg chatter, the metrics JSON) are INFO.
func ClassifyLine(line string) (Level, string) {
	for _, lvl := range []Level{LevelInfo, LevelWarning, LevelError, LevelCritical} {
		if !strings.HasPrefix(line, string(lvl)) {
			continue
		}

		parts := strings.Split(line, " - ")

		return Level(strings.TrimSpace(parts[0])), strings.Join(parts[1:], " - ")
	}

	return LevelInfo, line
}

// MetricReading is one named value reported by the tool. Value holds the
// decoded JSON value, numbers as json.Number.
type MetricReading struct {
	Name  string
	Value interface{}
}

// ParseMetrics returns the readings from the last line of output that is a
// well-formed JSON object, keeping the tool's key order.
func ParseMetrics(lines []string) ([]MetricReading, error) {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}

		readings, err := decodeObject(line)
		if err == nil {
			return readings, nil
		}
	}

	return nil, ErrMalformedOutput
}

func decodeObject(line string) ([]MetricReading, error) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotObject
	}

	readings := make([]MetricReading, 0, 16)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", tok) //nolint:err113 // includes the token
		}

		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}

		readings = append(readings, MetricReading{Name: name, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errNotObject
	}

	return readings, nil
}

// monitoredMetrics may not be zero unless the test accepts it.
var monitoredMetrics = map[string]struct{}{
	"contentfulspeedindex": {},
	"lastvisualchange":     {},
	"perceptualspeedindex": {},
	"speedindex":           {},
}

// ZeroMetrics returns the names of monitored metrics that are exactly zero.
func ZeroMetrics(readings []MetricReading) []string {
	var zero []string

	for _, r := range readings {
		if _, ok := monitoredMetrics[strings.ToLower(r.Name)]; !ok {
			continue
		}

		num, ok := r.Value.(json.Number)
		if !ok {
			continue
		}

		if f, err := num.Float64(); err == nil && f == 0 {
			zero = append(zero, r.Name)
		}
	}

	return zero
}

// lineWriter splits written bytes into lines and hands each to fn. exec.Cmd
// serialises writes when Stdout and Stderr share one writer.
type lineWriter struct {
	buf bytes.Buffer
	fn  func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)

	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}

		line := w.buf.Next(idx + 1)
		w.emit(line[:idx])
	}

	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(raw []byte) {
	line := strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
	if line != "" {
		w.fn(line)
	}
}
