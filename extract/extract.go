// Package extract turns PDF files into plain text for the ingestion
// pipeline. Extraction shells out to the poppler pdftotext utility through a
// CommandRunner seam so tests can run without the binary installed. Pages in
// the output are separated by form feeds, which the chunker uses for page
// attribution.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/poiesic/docsearch/core"
)

// ErrExtractorUnavailable indicates the pdftotext binary could not be run.
var ErrExtractorUnavailable = errors.New("pdftotext is not available")

// ErrNoText indicates the PDF produced no extractable text.
var ErrNoText = errors.New("no text extracted from pdf")

// CommandRunner executes an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner runs commands with os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Extractor extracts text from PDF files.
type Extractor struct {
	runner CommandRunner
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRunner replaces the command runner. Used by tests.
func WithRunner(runner CommandRunner) Option {
	return func(e *Extractor) {
		if runner != nil {
			e.runner = runner
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates a PDF text extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		runner: execRunner{},
		logger: slog.Default().With("component", "extract"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Text extracts the text of the PDF at path, normalized for chunking.
// Page breaks are preserved as form feeds.
func (e *Extractor) Text(ctx context.Context, path string) (string, error) {
	out, err := e.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", fmt.Errorf("%w: %w", ErrExtractorUnavailable, err)
		}
		return "", fmt.Errorf("extracting %s: %w", path, err)
	}

	text := core.NormalizeText(string(out))
	if strings.TrimSpace(text) == "" {
		e.logger.Warn("pdf produced no text", "path", path)
		return "", fmt.Errorf("%w: %s", ErrNoText, path)
	}

	e.logger.Debug("extracted pdf text", "path", path, "bytes", len(text))
	return text, nil
}
