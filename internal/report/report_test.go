package report

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

func sampleReport() *models.RunReport {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.RunReport{
		ID:         "run-123",
		StartedAt:  start,
		FinishedAt: start.Add(4 * time.Second),
		Capability: models.CapabilityFull,
		Profile:    models.NewEnvironmentProfile(models.ProfileOptions{Headless: true}),
		Tiers: []models.TierResult{
			{Tier: models.TierUnit, Status: models.TierSkipped, Detail: "no command configured"},
			{Tier: models.TierE2E, Status: models.TierFailed, DurationMs: 3900},
		},
		Results: []models.ScenarioResult{
			{
				Name: "basic-structure", Engine: models.EngineChromium, Status: models.ResultPassed, Passed: true,
				Assertions: []models.AssertionRecord{{Description: "selector h1 is visible", Passed: true}},
				DurationMs: 820,
			},
			{
				Name: "basic-structure", Engine: models.EngineWebKit, Status: models.ResultFailed,
				Assertions: []models.AssertionRecord{
					{Description: "selector h1 is visible", Passed: true},
					{Description: "count of button >=1", Passed: false, Detail: "found 0"},
				},
				Error: "step 3 assertCount(button, >=1): assertion failed",
			},
			{Name: "india-tab", Engine: models.EngineEdge, Status: models.ResultNotRun, Error: "launch edge via chromedp: browser channel not installed"},
		},
	}
}

func TestWriteCreatesJSONAndMarkdown(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	paths, err := w.Write(sampleReport())
	require.NoError(t, err)
	assert.FileExists(t, paths.JSON)
	assert.FileExists(t, paths.Markdown)

	back, err := Read(paths.JSON)
	require.NoError(t, err)
	assert.Equal(t, "run-123", back.ID)
	require.Len(t, back.Results, 3)
	assert.Equal(t, models.ResultNotRun, back.Results[2].Status)
	assert.Equal(t, int64(820), back.Results[0].DurationMs)
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(sampleReport())

	assert.Contains(t, md, "# Smoke run run-123: FAILED")
	assert.Contains(t, md, "- Scenarios: 1 passed, 1 failed, 1 not run")
	assert.Contains(t, md, "- Mode: headless")
	assert.Contains(t, md, "| basic-structure | webkit | failed | 1/2 | 0ms |")
	assert.Contains(t, md, "### india-tab (edge)")
	assert.Contains(t, md, "- [ ] count of button >=1: found 0")
	assert.NotContains(t, md, "### basic-structure (chromium)")
}

func TestWriteBundleRoundTrip(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(w.RunDir("run-123"), "screens"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(w.RunDir("run-123"), "screens", "home.txt"), []byte("shot"), 0644))

	paths, err := w.WriteBundle(sampleReport())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "artifacts-run-123.tar.gz"), paths.Bundle)

	out := t.TempDir()
	extract(t, paths.Bundle, out)
	assert.FileExists(t, filepath.Join(out, JSONName))
	assert.FileExists(t, filepath.Join(out, MarkdownName))
	data, err := os.ReadFile(filepath.Join(out, "screens", "home.txt"))
	require.NoError(t, err)
	assert.Equal(t, "shot", string(data))
}

// shortWriter accepts limit bytes, then fails like a full disk
type shortWriter struct {
	limit int
	buf   bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if w.buf.Len()+len(p) > w.limit {
		return 0, errors.New("no space left on device")
	}
	return w.buf.Write(p)
}

func TestBundleReportsFlushFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, JSONName), []byte(`{"id":"run-123"}`), 0644))

	// the gzip header fits, the compressed body flushed on close does not
	err := writeBundle(dir, &shortWriter{limit: 10})
	assert.ErrorContains(t, err, "no space left on device")

	require.NoError(t, writeBundle(dir, &shortWriter{limit: 1 << 20}))
}

func TestBundleRemovesPartialArchive(t *testing.T) {
	target := filepath.Join(t.TempDir(), "artifacts.tar.gz")
	err := Bundle(filepath.Join(t.TempDir(), "missing"), target)
	assert.Error(t, err)
	assert.NoFileExists(t, target)
}

// extract unpacks a bundle written by Bundle into target
func extract(t *testing.T, source, target string) {
	t.Helper()
	file, err := os.Open(source)
	require.NoError(t, err)
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	require.NoError(t, err)
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)

		path := filepath.Join(target, filepath.FromSlash(header.Name))
		switch header.Typeflag {
		case tar.TypeDir:
			require.NoError(t, os.MkdirAll(path, 0755))
		case tar.TypeReg:
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			data, err := io.ReadAll(tarReader)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, data, 0644))
		}
	}
}
