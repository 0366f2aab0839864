// Package advice turns a problem description and its retrieved verses into
// counselling advice with a single call to a text-generation provider.
package advice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/solacehq/solace/internal/model"
	"github.com/solacehq/solace/internal/telemetry"
)

// Fixed messages stored as advice when generation cannot run.
const (
	NoVersesMessage    = "No specific Bible verses were found for this problem. Consider speaking with a pastor or counselor for personalized guidance."
	UnavailableMessage = "Unable to generate advice at this time. Please try again later."
)

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 30 * time.Second

// ErrNoVerses is returned by Synthesize when it is given nothing to ground the advice in.
var ErrNoVerses = errors.New("advice: no verses to ground advice in")

// Generator completes a prompt. Implementations make exactly one provider
// call and return the raw completion text.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Synthesizer builds the counselling prompt and calls the Generator.
type Synthesizer struct {
	gen     Generator
	timeout time.Duration
	logger  *slog.Logger

	duration metric.Float64Histogram
}

// NewSynthesizer returns a Synthesizer. timeout <= 0 selects DefaultTimeout.
func NewSynthesizer(gen Generator, timeout time.Duration, logger *slog.Logger) *Synthesizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	duration, _ := telemetry.Meter("solace/advice").Float64Histogram("solace.advice.generation.duration",
		metric.WithDescription("Time spent in the advice generation call"),
		metric.WithUnit("ms"),
	)
	return &Synthesizer{gen: gen, timeout: timeout, logger: logger, duration: duration}
}

// Synthesize generates advice for problemText grounded in verseTexts, which
// must be non-empty. Provider failures and empty completions wrap
// model.ErrUpstream. The completion is returned trimmed.
func (s *Synthesizer) Synthesize(ctx context.Context, problemText string, verseTexts []string) (string, error) {
	if len(verseTexts) == 0 {
		return "", ErrNoVerses
	}

	ctx, span := telemetry.Tracer("solace/advice").Start(ctx, "advice.Synthesize")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.gen.Complete(ctx, BuildPrompt(problemText, verseTexts))
	s.duration.Record(ctx, telemetry.DurationMS(start))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("advice: generate: %w: %w", model.ErrUpstream, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("advice: generate: %w: empty completion", model.ErrUpstream)
	}
	s.logger.Debug("advice: generated", "verses", len(verseTexts), "chars", len(text))
	return text, nil
}

// BuildPrompt renders the counselling prompt. Verses are numbered from 1 in
// the order given.
func BuildPrompt(problemText string, verseTexts []string) string {
	var b strings.Builder
	b.WriteString("You are a compassionate Christian counselor providing Biblical guidance.\n\n")
	fmt.Fprintf(&b, "Problem: %s\n\n", problemText)
	b.WriteString("Relevant Bible verses:\n")
	for i, v := range verseTexts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, v)
	}
	b.WriteString(`
Please provide concise, Biblical advice (under 200 words) that:
1. Shows empathy for the person's situation
2. Applies the provided Bible verses directly to their problem
3. Offers practical, Christ-centered guidance
4. Encourages spiritual growth and hope

Focus on hope, love, and God's promises rather than condemnation.`)
	return b.String()
}

// NoopGenerator is used when no generation provider is configured. Every
// call fails, so callers fall back to their degraded advice message.
type NoopGenerator struct{}

// Complete always returns an error.
func (NoopGenerator) Complete(context.Context, string) (string, error) {
	return "", errors.New("no generation provider configured")
}
