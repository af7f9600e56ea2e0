package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// fixture lays out a fetch dir with two tests and returns the manifest path.
func fixture(t *testing.T, manifest string) (string, string) {
	t.Helper()

	base := t.TempDir()
	writeFile(t, filepath.Join(base, "browsertime-results", "amazon", "browsertime.json"), `[
		{"info": {"url": "https://amazon.com"}, "files": {"video": ["video/1.mp4", "video/2.mp4"]}}
	]`)
	writeFile(t, filepath.Join(base, "browsertime-results", "amazon", "video", "1.mp4"), "a")
	writeFile(t, filepath.Join(base, "browsertime-results", "amazon", "video", "2.mp4"), "b")
	writeFile(t, filepath.Join(base, "browsertime-results", "google", "browsertime.json"), `[
		{"files": {"video": ["video/1.mp4"]}}
	]`)
	writeFile(t, filepath.Join(base, "browsertime-results", "google", "video", "1.mp4"), "c")

	manifestPath := filepath.Join(base, "browsertime-results", "jobs.json")
	writeFile(t, manifestPath, manifest)

	return base, manifestPath
}

const validManifest = `{
	"jobs": [
		{"test_name": "amazon", "browsertime_json_path": "browsertime-results/amazon/browsertime.json", "extra_options": [], "accept_zero_vismet": false},
		{"test_name": "google", "browsertime_json_path": "browsertime-results/google/browsertime.json", "extra_options": ["cold"], "accept_zero_vismet": true}
	],
	"application": {"name": "firefox", "version": "120.0"},
	"extra_options": ["fission", "webrender"]
}`

func TestBuilder_Build(t *testing.T) {
	t.Parallel()

	base, manifestPath := fixture(t, validManifest)

	b, err := NewBuilder(newTestLogger(), base)
	require.NoError(t, err)

	cat, err := b.Build(manifestPath)
	require.NoError(t, err)

	assert.Equal(t, Application{Name: "firefox", Version: "120.0"}, cat.Application)
	require.Len(t, cat.Jobs, 3)

	assert.Equal(t, "amazon", cat.Jobs[0].TestName)
	assert.Equal(t, 1, cat.Jobs[0].Seq)
	assert.Equal(t, []string{"fission", "webrender"}, cat.Jobs[0].ExtraOptions, "empty per-test options inherit the manifest options")
	assert.False(t, cat.Jobs[0].AcceptZeroMetric)
	assert.Equal(t, filepath.Join(base, "browsertime-results", "amazon", "video", "1.mp4"), cat.Jobs[0].VideoPath)

	assert.Equal(t, 2, cat.Jobs[1].Seq)
	assert.Equal(t, filepath.Join(base, "browsertime-results", "amazon", "video", "2.mp4"), cat.Jobs[1].VideoPath)

	assert.Equal(t, "google", cat.Jobs[2].TestName)
	assert.Equal(t, 3, cat.Jobs[2].Seq)
	assert.Equal(t, []string{"cold"}, cat.Jobs[2].ExtraOptions)
	assert.True(t, cat.Jobs[2].AcceptZeroMetric)

	assert.Len(t, cat.VideoPaths(), 3)
	assert.True(t, cat.HasOption("fission"))
	assert.False(t, cat.HasOption("live"))
}

func TestBuilder_BuildInvalidManifest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		manifest string
	}{
		{
			name:     "missing jobs",
			manifest: `{"application": {"name": "firefox"}, "extra_options": []}`,
		},
		{
			name:     "wrong type",
			manifest: `{"jobs": [{"test_name": 1, "browsertime_json_path": "x", "extra_options": [], "accept_zero_vismet": false}], "application": {"name": "firefox"}, "extra_options": []}`,
		},
		{
			name:     "unknown key",
			manifest: `{"jobs": [], "application": {"name": "firefox"}, "extra_options": [], "surprise": true}`,
		},
		{
			name:     "missing application name",
			manifest: `{"jobs": [], "application": {"version": "1"}, "extra_options": []}`,
		},
		{
			name:     "not json",
			manifest: `{"jobs": [`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			base, manifestPath := fixture(t, tt.manifest)

			b, err := NewBuilder(newTestLogger(), base)
			require.NoError(t, err)

			_, err = b.Build(manifestPath)
			require.ErrorIs(t, err, ErrManifestInvalid)
		})
	}
}

func TestBuilder_BuildInvalidDescriptor(t *testing.T) {
	t.Parallel()

	base, manifestPath := fixture(t, validManifest)
	writeFile(t, filepath.Join(base, "browsertime-results", "google", "browsertime.json"), `[{"files": {}}]`)

	b, err := NewBuilder(newTestLogger(), base)
	require.NoError(t, err)

	_, err = b.Build(manifestPath)
	require.ErrorIs(t, err, ErrManifestInvalid)
}

func TestBuilder_BuildMissingArtifacts(t *testing.T) {
	t.Parallel()

	t.Run("missing manifest", func(t *testing.T) {
		t.Parallel()

		b, err := NewBuilder(newTestLogger(), t.TempDir())
		require.NoError(t, err)

		_, err = b.Build(filepath.Join(t.TempDir(), "jobs.json"))
		require.ErrorIs(t, err, ErrMissingArtifact)
	})

	t.Run("missing descriptor", func(t *testing.T) {
		t.Parallel()

		base, manifestPath := fixture(t, validManifest)
		require.NoError(t, os.Remove(filepath.Join(base, "browsertime-results", "google", "browsertime.json")))

		b, err := NewBuilder(newTestLogger(), base)
		require.NoError(t, err)

		_, err = b.Build(manifestPath)
		require.ErrorIs(t, err, ErrMissingArtifact)
	})

	t.Run("missing video", func(t *testing.T) {
		t.Parallel()

		base, manifestPath := fixture(t, validManifest)
		require.NoError(t, os.Remove(filepath.Join(base, "browsertime-results", "amazon", "video", "2.mp4")))

		b, err := NewBuilder(newTestLogger(), base)
		require.NoError(t, err)

		_, err = b.Build(manifestPath)
		require.ErrorIs(t, err, ErrMissingArtifact)
	})
}

func TestNewJob(t *testing.T) {
	t.Parallel()

	opts := []string{"cold"}
	job, err := NewJob("amazon", 1, opts, false, "/m.json", "/v.mp4")
	require.NoError(t, err)

	opts[0] = "warm"
	assert.Equal(t, []string{"cold"}, job.ExtraOptions, "job keeps its own copy of the options")

	_, err = NewJob("", 1, nil, false, "", "/v.mp4")
	require.ErrorIs(t, err, errTestNameRequired)

	_, err = NewJob("amazon", 1, nil, false, "", "")
	require.ErrorIs(t, err, errVideoPathRequired)

	_, err = NewJob("amazon", 0, nil, false, "", "/v.mp4")
	require.ErrorIs(t, err, errSequenceInvalid)
}
