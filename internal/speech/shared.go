package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"seniorvoice/internal/audio"
)

// ErrIntegrity marks a model load that failed because the cached artifact is
// corrupt. Shared reacts to it by purging the artifact and loading once more.
var ErrIntegrity = errors.New("model integrity check failed")

var ErrNotLoaded = errors.New("speech model not loaded yet")

// Loader produces a ready Engine. Purge discards whatever cached artifact
// Load relies on.
type Loader interface {
	Load(ctx context.Context) (Engine, error)
	Purge() error
}

// Shared is a process-wide, lazily loaded Engine. The model is loaded at most
// once even when many requests arrive before it is ready; a failed load is
// not cached, so a later call tries again. Callers waiting behind an
// in-flight load give up when their context ends.
type Shared struct {
	loader Loader
	logger *slog.Logger

	// loading is a one-slot semaphore held for the duration of a load.
	loading chan struct{}
	engine  atomic.Pointer[loadedEngine]
}

type loadedEngine struct{ Engine }

func NewShared(loader Loader, logger *slog.Logger) *Shared {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shared{loader: loader, logger: logger, loading: make(chan struct{}, 1)}
}

// Get returns the loaded engine, loading it on first use.
func (s *Shared) Get(ctx context.Context) (Engine, error) {
	e, err := s.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.Engine, nil
}

func (s *Shared) get(ctx context.Context) (*loadedEngine, error) {
	if e := s.engine.Load(); e != nil {
		return e, nil
	}

	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	if e := s.engine.Load(); e != nil {
		return e, nil
	}

	engine, err := s.loader.Load(ctx)
	if errors.Is(err, ErrIntegrity) {
		s.logger.Warn("model artifact failed integrity check, purging and reloading", "error", err)
		if perr := s.loader.Purge(); perr != nil {
			return nil, fmt.Errorf("purge model artifact: %w", perr)
		}
		engine, err = s.loader.Load(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	e := &loadedEngine{engine}
	s.engine.Store(e)
	s.logger.Info("speech model loaded")
	return e, nil
}

func (s *Shared) lock(ctx context.Context) error {
	select {
	case s.loading <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for model load: %w", ctx.Err())
	}
}

func (s *Shared) unlock() { <-s.loading }

// discard drops e and purges its artifact, unless another caller already
// replaced it.
func (s *Shared) discard(ctx context.Context, e *loadedEngine) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	if !s.engine.CompareAndSwap(e, nil) {
		return nil
	}
	if err := s.loader.Purge(); err != nil {
		return fmt.Errorf("purge model artifact: %w", err)
	}
	return nil
}

// Loaded never blocks, even while a load is in progress.
func (s *Shared) Loaded() bool {
	return s.engine.Load() != nil
}

// CheckReady reports ErrNotLoaded until the first successful load. It never
// triggers a load itself.
func (s *Shared) CheckReady(context.Context) error {
	if !s.Loaded() {
		return ErrNotLoaded
	}
	return nil
}

// Recognize runs the shared engine. When the engine itself reports that the
// model is corrupt, the artifact is purged and the attempt is retried once on
// a freshly loaded model.
func (s *Shared) Recognize(ctx context.Context, wave audio.Waveform, hint Language) (Attempt, error) {
	e, err := s.get(ctx)
	if err != nil {
		return Attempt{}, err
	}
	attempt, err := e.Recognize(ctx, wave, hint)
	if !errors.Is(err, ErrIntegrity) {
		return attempt, err
	}

	s.logger.Warn("engine rejected model artifact, purging and reloading", "error", err)
	if derr := s.discard(ctx, e); derr != nil {
		return Attempt{}, derr
	}
	if e, err = s.get(ctx); err != nil {
		return Attempt{}, err
	}
	return e.Recognize(ctx, wave, hint)
}
