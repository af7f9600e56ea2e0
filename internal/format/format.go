// Package format provides shared formatting utilities for human-readable output.
package format

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// Duration formats a duration for human-readable output.
func Duration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.0fµs", float64(d.Microseconds()))
	}
	if d < time.Second {
		return fmt.Sprintf("%.0fms", float64(d.Milliseconds()))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}

	return fmt.Sprintf("%.1fm", d.Minutes())
}

// Bytes converts bytes to human-readable format (KiB, MiB, GiB, etc.)
func Bytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// Number prints a metric value without a trailing ".0" for whole numbers.
func Number(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ShortPath keeps the last two elements of a path.
func ShortPath(p string) string {
	dir, file := filepath.Split(filepath.Clean(p))
	if dir == "" {
		return file
	}

	return filepath.Join(filepath.Base(dir), file)
}

// Truncate cuts s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}

	return string(r[:n-3]) + "..."
}
