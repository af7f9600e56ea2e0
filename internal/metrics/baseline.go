package metrics

import "time"

// LoadSource indicates where a baseline bundle was loaded from
type LoadSource string

const (
	// SourceCache defines if the bundle was served from the local cache.
	SourceCache LoadSource = "cache"
	// SourceDownload defines if the bundle was downloaded.
	SourceDownload LoadSource = "download"
)

// BaselineLoadMetric captures metrics about loading a baseline bundle
type BaselineLoadMetric struct {
	Name      string
	Source    LoadSource
	SizeBytes int64
	Duration  time.Duration
	Timestamp time.Time
}
