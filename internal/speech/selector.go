package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"seniorvoice/internal/audio"
)

// Observer receives one call per engine attempt.
type Observer interface {
	ObserveAttempt(hint string, duration time.Duration, err error)
}

type Option func(*Selector)

func WithHints(hints []Language) Option {
	return func(s *Selector) {
		s.hints = append([]Language(nil), hints...)
	}
}

func WithObserver(o Observer) Option {
	return func(s *Selector) {
		s.observer = o
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Selector runs the engine once per language hint and keeps the best-scoring
// hypothesis.
type Selector struct {
	engine   Engine
	hints    []Language
	observer Observer
	logger   *slog.Logger
}

// Selection is the retained attempt and its score.
type Selection struct {
	Attempt Attempt
	Score   float64
}

const initialBest = -10000.0

func NewSelector(engine Engine, opts ...Option) *Selector {
	s := &Selector{
		engine: engine,
		hints:  DefaultHints,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Select invokes the engine sequentially for every hint. An engine failure
// aborts the whole selection; attempts are never retried.
func (s *Selector) Select(ctx context.Context, wave audio.Waveform) (Selection, error) {
	var (
		best      *Attempt
		bestScore = initialBest
	)

	for _, hint := range s.hints {
		started := time.Now()
		attempt, err := s.engine.Recognize(ctx, wave, hint)
		if s.observer != nil {
			s.observer.ObserveAttempt(hint.String(), time.Since(started), err)
		}
		if err != nil {
			return Selection{}, fmt.Errorf("recognize (hint=%s): %w", hint, err)
		}

		attempt.Hint = hint
		attempt.Text = strings.TrimSpace(attempt.Text)
		score := Score(attempt.Text, attempt.Segments)
		s.logger.Debug("hypothesis scored",
			"hint", hint.String(),
			"language", attempt.Language,
			"segments", len(attempt.Segments),
			"score", score,
		)

		if score > bestScore {
			bestScore = score
			a := attempt
			best = &a
		}
	}

	if best == nil {
		return Selection{
			Attempt: Attempt{Language: Unknown},
			Score:   bestScore,
		}, nil
	}
	return Selection{Attempt: *best, Score: bestScore}, nil
}
