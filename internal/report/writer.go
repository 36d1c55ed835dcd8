// Package report writes run reports to the artifacts directory.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

const (
	JSONName     = "report.json"
	MarkdownName = "report.md"
)

// Paths lists the files written for one run
type Paths struct {
	Dir      string `json:"dir"`
	JSON     string `json:"json"`
	Markdown string `json:"markdown"`
	Bundle   string `json:"bundle,omitempty"`
}

// Writer stores each run under <root>/<run id>/
type Writer struct {
	root string
}

// NewWriter creates root if needed and writes reports under it
func NewWriter(root string) (*Writer, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}
	return &Writer{root: root}, nil
}

// RunDir returns the artifacts directory of one run
func (w *Writer) RunDir(runID string) string {
	return filepath.Join(w.root, runID)
}

// Write emits report.json and report.md for a run
func (w *Writer) Write(report *models.RunReport) (Paths, error) {
	dir := w.RunDir(report.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Paths{}, fmt.Errorf("failed to create run directory: %w", err)
	}

	paths := Paths{
		Dir:      dir,
		JSON:     filepath.Join(dir, JSONName),
		Markdown: filepath.Join(dir, MarkdownName),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return Paths{}, fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(paths.JSON, append(data, '\n'), 0644); err != nil {
		return Paths{}, fmt.Errorf("failed to write %s: %w", JSONName, err)
	}
	if err := os.WriteFile(paths.Markdown, []byte(RenderMarkdown(report)), 0644); err != nil {
		return Paths{}, fmt.Errorf("failed to write %s: %w", MarkdownName, err)
	}

	return paths, nil
}

// WriteBundle writes the report and archives the run directory next to it
func (w *Writer) WriteBundle(report *models.RunReport) (Paths, error) {
	paths, err := w.Write(report)
	if err != nil {
		return Paths{}, err
	}
	paths.Bundle = filepath.Join(w.root, fmt.Sprintf("artifacts-%s.tar.gz", report.ID))
	if err := Bundle(paths.Dir, paths.Bundle); err != nil {
		return Paths{}, fmt.Errorf("failed to bundle artifacts: %w", err)
	}
	return paths, nil
}

// Read loads a report.json written by Write
func Read(path string) (*models.RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report models.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}
