package metrics

import "time"

// JobResultMetric captures metrics about one metrics-tool invocation
type JobResultMetric struct {
	Seq          int
	Test         string
	Video        string
	Passed       bool
	Duration     time.Duration
	ErrorMessage string // empty if passed
	Timestamp    time.Time
}
