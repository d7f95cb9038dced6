package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nudgebot/internal/metrics"
	"nudgebot/internal/service/ai"
)

// ComposePersona joins the task instruction with the bot's persona and
// constraints into one system prompt. Empty parts are left out.
func ComposePersona(base, persona, constraint string) string {
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(base); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(persona); s != "" {
		parts = append(parts, "Persona:\n"+s)
	}
	if s := strings.TrimSpace(constraint); s != "" {
		parts = append(parts, "Constraints:\n"+s)
	}
	return strings.Join(parts, "\n\n")
}

// Speaker runs best-effort generation. Any failure yields the fallback.
type Speaker struct {
	gen     ai.Generator
	timeout time.Duration
}

func NewSpeaker(gen ai.Generator, timeout time.Duration) *Speaker {
	return &Speaker{gen: gen, timeout: timeout}
}

// Speak returns generated text, or fallback when generation is unavailable
// or fails. maxRunes > 0 clamps the result. The returned error, if any, is
// ErrConfigMissing or wraps ErrGeneration and is informational only.
func (s *Speaker) Speak(ctx context.Context, system, user, fallback string, maxRunes int) (string, error) {
	text, err := s.generate(ctx, system, user)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, ErrConfigMissing):
			reason = "config_missing"
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, ai.ErrEmptyResponse):
			reason = "empty"
		}
		metrics.GenerationFallbacks.WithLabelValues(reason).Inc()
		slog.Warn("generation fell back to template", "reason", reason, "err", err)
		return clampRunes(fallback, maxRunes), err
	}
	return clampRunes(text, maxRunes), nil
}

func (s *Speaker) generate(ctx context.Context, system, user string) (text string, err error) {
	if s == nil || s.gen == nil {
		return "", ErrConfigMissing
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrGeneration, r)
		}
	}()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	text, err = s.gen.GenerateText(ctx, system, user)
	switch {
	case errors.Is(err, ai.ErrNotConfigured):
		return "", ErrConfigMissing
	case err != nil:
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	case strings.TrimSpace(text) == "":
		return "", fmt.Errorf("%w: %w", ErrGeneration, ai.ErrEmptyResponse)
	}
	return strings.TrimSpace(text), nil
}

func clampRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	if maxRunes == 1 {
		return string(r[:1])
	}
	return strings.TrimSpace(string(r[:maxRunes-1])) + "…"
}
