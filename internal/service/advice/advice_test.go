package advice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacehq/solace/internal/model"
)

type fakeGenerator struct {
	text   string
	err    error
	prompt string
	calls  int
	block  bool
}

func (f *fakeGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("I lost my job", []string{"Fear not, for I am with you.", "Cast all your anxiety on him."})

	assert.True(t, strings.HasPrefix(prompt, "You are a compassionate Christian counselor providing Biblical guidance.\n\nProblem: I lost my job\n\n"))
	assert.Contains(t, prompt, "Relevant Bible verses:\n1. Fear not, for I am with you.\n2. Cast all your anxiety on him.\n")
	assert.Contains(t, prompt, "Please provide concise, Biblical advice (under 200 words) that:")
	assert.Contains(t, prompt, "4. Encourages spiritual growth and hope")
	assert.True(t, strings.HasSuffix(prompt, "Focus on hope, love, and God's promises rather than condemnation."))
	assert.Less(t, strings.Index(prompt, "1. Fear not"), strings.Index(prompt, "2. Cast all"))
}

func TestSynthesize(t *testing.T) {
	gen := &fakeGenerator{text: "  Take heart.\n"}
	s := NewSynthesizer(gen, 0, testLogger())

	got, err := s.Synthesize(context.Background(), "anxious", []string{"Be still"})
	require.NoError(t, err)
	assert.Equal(t, "Take heart.", got)
	assert.Equal(t, 1, gen.calls)
	assert.Contains(t, gen.prompt, "Problem: anxious")
	assert.Contains(t, gen.prompt, "1. Be still\n")
}

func TestSynthesizeNoVersesSkipsProvider(t *testing.T) {
	gen := &fakeGenerator{text: "unused"}
	s := NewSynthesizer(gen, 0, testLogger())

	_, err := s.Synthesize(context.Background(), "anxious", nil)
	require.ErrorIs(t, err, ErrNoVerses)
	assert.Zero(t, gen.calls)
}

func TestSynthesizeFailures(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"provider error", &fakeGenerator{err: errors.New("status 500")}},
		{"empty completion", &fakeGenerator{text: ""}},
		{"whitespace completion", &fakeGenerator{text: " \n\t "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSynthesizer(tt.gen, 0, testLogger())
			_, err := s.Synthesize(context.Background(), "grief", []string{"Blessed are those who mourn"})
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrUpstream)
			assert.Equal(t, 1, tt.gen.calls, "exactly one provider call, no retry")
		})
	}
}

func TestSynthesizeTimeout(t *testing.T) {
	s := NewSynthesizer(&fakeGenerator{block: true}, 20*time.Millisecond, testLogger())
	_, err := s.Synthesize(context.Background(), "grief", []string{"verse"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, model.ErrUpstream)
}

func TestNoopGenerator(t *testing.T) {
	_, err := NoopGenerator{}.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no generation provider")
}
