package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
)

const DefaultOutputPath = "output.md"

var _ ports.ReportWriter = (*MarkdownWriter)(nil)

// MarkdownWriter saves finished reports as Markdown files. When Path names a
// directory, each report goes to <dir>/<job id>.md; otherwise Path is used as is.
type MarkdownWriter struct {
	Path string
}

func NewMarkdownWriter(path string) *MarkdownWriter {
	if strings.TrimSpace(path) == "" {
		path = DefaultOutputPath
	}
	return &MarkdownWriter{Path: path}
}

func (w *MarkdownWriter) WriteReport(ctx context.Context, jobID domain.JobID, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := w.Path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, string(jobID)+".md")
	}
	if err := WriteMarkdown(path, text); err != nil {
		return "", err
	}
	return path, nil
}

// WriteMarkdown writes text to path, creating parent directories.
func WriteMarkdown(path, text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrNoReport
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
