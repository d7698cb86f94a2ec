package extract

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRunner is a test double for CommandRunner.
type mockRunner struct {
	output []byte
	err    error

	gotName string
	gotArgs []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.gotName = name
	m.gotArgs = args
	return m.output, m.err
}

func TestText_Success(t *testing.T) {
	runner := &mockRunner{output: []byte("Page one.\fPage two.\n")}
	extractor := New(WithRunner(runner))

	text, err := extractor.Text(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Page one.\fPage two.", text)

	assert.Equal(t, "pdftotext", runner.gotName)
	require.NotEmpty(t, runner.gotArgs)
	assert.Equal(t, "doc.pdf", runner.gotArgs[len(runner.gotArgs)-2])
	assert.Equal(t, "-", runner.gotArgs[len(runner.gotArgs)-1], "output goes to stdout")
}

func TestText_NormalizesLineEndings(t *testing.T) {
	runner := &mockRunner{output: []byte("line one\r\nline two\r\n")}
	extractor := New(WithRunner(runner))

	text, err := extractor.Text(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", text)
}

func TestText_EmptyOutput(t *testing.T) {
	runner := &mockRunner{output: []byte(" \f \n")}
	extractor := New(WithRunner(runner))

	_, err := extractor.Text(context.Background(), "doc.pdf")
	assert.ErrorIs(t, err, ErrNoText)
}

func TestText_MissingBinary(t *testing.T) {
	runner := &mockRunner{err: &exec.Error{Name: "pdftotext", Err: exec.ErrNotFound}}
	extractor := New(WithRunner(runner))

	_, err := extractor.Text(context.Background(), "doc.pdf")
	assert.ErrorIs(t, err, ErrExtractorUnavailable)
}

func TestText_CommandFailure(t *testing.T) {
	runner := &mockRunner{err: errors.New("exit status 1")}
	extractor := New(WithRunner(runner))

	_, err := extractor.Text(context.Background(), "broken.pdf")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExtractorUnavailable)
}
