// Package baseline locates, downloads and unpacks prior browsertime result
// bundles to compare new recordings against.
package baseline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// ErrBaselineUnavailable is returned when no usable baseline bundle exists.
var ErrBaselineUnavailable = errors.New("baseline unavailable")

// Kind selects which prior recording set to compare against.
type Kind string

const (
	// KindLastRun is the most recent completed run of the same task.
	KindLastRun Kind = "last_run"
	// KindLive is the most recent live-site recording of the same page.
	KindLive Kind = "live"
)

const (
	queryTimeout   = 120 * time.Second
	queryLimit     = 1000
	artifactMarker = "browsertime-results"
	recentWindow   = "today-week-week"
	centralBranch  = "mozilla-central"
	retryBase      = 500 * time.Millisecond
	retryAttempts  = 3
)

// Artifact is a located baseline bundle.
type Artifact struct {
	URL       string
	TaskID    string
	GroupID   string
	StartTime float64
}

// Locator finds the newest baseline bundle for a task label.
type Locator interface {
	Locate(ctx context.Context, kind Kind, label string) (*Artifact, error)
}

type query struct {
	From   string                 `json:"from"`
	Limit  int                    `json:"limit"`
	Where  map[string]interface{} `json:"where"`
	Select []string               `json:"select"`
}

type clause map[string]interface{}

type queryResponse struct {
	Data struct {
		StartTime []json.Number `json:"action.start_time"`
		Artifacts [][]struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"task.artifacts"`
		GroupID []string `json:"task.group.id"`
		TaskID  []string `json:"task.id"`
	} `json:"data"`
}

type activeDataLocator struct {
	url     string
	groupID string
	client  *http.Client
	backoff time.Duration
	log     logrus.FieldLogger
}

// NewLocator creates a Locator backed by an ActiveData query endpoint. When
// groupID is set, last-run lookups are restricted to that task group.
func NewLocator(log logrus.FieldLogger, url, groupID string) Locator {
	return &activeDataLocator{
		url:     url,
		groupID: groupID,
		client:  &http.Client{Timeout: queryTimeout},
		backoff: retryBase,
		log:     log.WithField("component", "baseline_locator"),
	}
}

// LastRunLabels returns the opt and pgo variants of a label.
func LastRunLabels(label string) (string, string) {
	return strings.ReplaceAll(label, "/pgo", "/opt"), strings.ReplaceAll(label, "/opt", "/pgo")
}

// LiveLabel returns the live-site variant of a label.
func LiveLabel(label string) string {
	return strings.ReplaceAll(strings.ReplaceAll(label, "/opt", "/pgo"), "tp6m", "tp6m-live")
}

func (l *activeDataLocator) buildQuery(kind Kind, label string) *query {
	q := &query{
		From:  "task",
		Limit: queryLimit,
		Select: []string{
			"action.start_time",
			"run.name",
			"task.artifacts",
			"task.group.id",
			"task.id",
		},
	}

	recent := []clause{
		{"in": clause{"repo.branch.name": []string{centralBranch}}},
		{"gte": clause{"action.start_time": clause{"date": recentWindow}}},
	}
	completed := clause{"in": clause{"task.run.state": []string{"completed"}}}

	var and []clause

	switch kind {
	case KindLive:
		and = append(and, recent...)
		and = append(and, completed, clause{"eq": clause{"run.name": LiveLabel(label)}})
	default:
		opt, pgo := LastRunLabels(label)
		and = append(and, completed, clause{"or": []clause{
			{"eq": clause{"run.name": pgo}},
			{"eq": clause{"run.name": opt}},
		}})

		if l.groupID != "" {
			and = append(and, clause{"eq": clause{"task.group.id": l.groupID}})
		} else {
			and = append(and, recent...)
		}
	}

	q.Where = map[string]interface{}{"and": and}

	return q
}

func (l *activeDataLocator) Locate(ctx context.Context, kind Kind, label string) (*Artifact, error) {
	q := l.buildQuery(kind, label)

	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	backoff := retry.WithMaxRetries(retryAttempts, retry.NewExponential(l.backoff))

	var resp queryResponse

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return l.post(ctx, body, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", l.url, err)
	}

	return l.newest(&resp)
}

func (l *activeDataLocator) post(ctx context.Context, body []byte, out *queryResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	l.log.Info("Querying Active-data...")

	resp, err := l.client.Do(req)
	if err != nil {
		return retry.RetryableError(fmt.Errorf("sending query: %w", err))
	}
	defer resp.Body.Close()

	l.log.WithField("status", resp.StatusCode).Debug("query response")

	if resp.StatusCode >= http.StatusInternalServerError {
		return retry.RetryableError(fmt.Errorf("unexpected status code: %d", resp.StatusCode)) //nolint:err113 // status for debugging
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode) //nolint:err113 // status for debugging
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.RetryableError(fmt.Errorf("reading response: %w", err))
	}

	*out = queryResponse{}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// newest picks the row with the latest start time and returns its results
// bundle.
func (l *activeDataLocator) newest(resp *queryResponse) (*Artifact, error) {
	rows := len(resp.Data.StartTime)
	if rows == 0 {
		return nil, fmt.Errorf("%w: query returned no tasks", ErrBaselineUnavailable)
	}

	l.log.WithField("datums", rows).Info("found baseline candidates")

	best, bestTime := -1, 0.0
	for i, raw := range resp.Data.StartTime {
		t, err := raw.Float64()
		if err != nil {
			continue
		}
		if best < 0 || t > bestTime {
			best, bestTime = i, t
		}
	}

	if best < 0 || best >= len(resp.Data.Artifacts) {
		return nil, fmt.Errorf("%w: no task with a valid start time", ErrBaselineUnavailable)
	}

	art := &Artifact{StartTime: bestTime}
	if best < len(resp.Data.TaskID) {
		art.TaskID = resp.Data.TaskID[best]
	}
	if best < len(resp.Data.GroupID) {
		art.GroupID = resp.Data.GroupID[best]
	}

	for _, a := range resp.Data.Artifacts[best] {
		if strings.Contains(a.Name, artifactMarker) {
			art.URL = a.URL
			break
		}
	}

	if art.URL == "" {
		return nil, fmt.Errorf("%w: task %s has no %s artifact", ErrBaselineUnavailable, art.TaskID, artifactMarker)
	}

	l.log.WithFields(logrus.Fields{
		"task_group": art.GroupID,
		"task_id":    art.TaskID,
	}).Info("comparing videos to baseline task")

	return art, nil
}

// Compile-time interface compliance check
var _ Locator = (*activeDataLocator)(nil)
