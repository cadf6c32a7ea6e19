package transcription

import (
	"context"
	"io"
	"log/slog"
	"math"
	"time"

	"seniorvoice/internal/audio"
	"seniorvoice/internal/speech"
)

const (
	fallbackConfidence   = 0.4
	suppressionThreshold = 0.75
	suppressedConfidence = 0.35
)

// Result is the externally visible output of the transcription stage.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

type Selector interface {
	Select(ctx context.Context, wave audio.Waveform) (speech.Selection, error)
}

// Observer is notified of outcomes that never surface as errors.
type Observer interface {
	ObserveRejectedClip(reason string)
	ObserveSuppressedTranscript()
	ObserveSelectedHint(hint string)
}

type Option func(*Service)

func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.observer = o
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type Service struct {
	selector Selector
	timeout  time.Duration
	observer Observer
	logger   *slog.Logger
}

func New(selector Selector, timeout time.Duration, opts ...Option) *Service {
	s := &Service{
		selector: selector,
		timeout:  timeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Transcribe decodes a PCM16 WAV stream and transcribes it. Unsupported
// containers fail with audio.ErrUnsupportedFormat.
func (s *Service) Transcribe(ctx context.Context, file io.Reader) (Result, error) {
	wave, err := audio.DecodeWAV(file)
	if err != nil {
		return Result{}, err
	}
	return s.TranscribeWaveform(ctx, wave)
}

// TranscribeWaveform conditions wave and, unless it is rejected as
// non-speech, runs hypothesis selection under the configured timeout.
// Rejected clips return an empty result without any engine call.
func (s *Service) TranscribeWaveform(ctx context.Context, wave audio.Waveform) (Result, error) {
	conditioned := audio.Condition(wave)
	if conditioned.Rejected() {
		s.logger.Info("clip rejected as non-speech",
			"reason", string(conditioned.Rejection),
			"duration_s", conditioned.Waveform.Duration(),
			"rms", conditioned.RMS,
		)
		if s.observer != nil {
			s.observer.ObserveRejectedClip(string(conditioned.Rejection))
		}
		return Result{Language: speech.Unknown}, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	selection, err := s.selector.Select(ctx, conditioned.Waveform)
	if err != nil {
		return Result{}, err
	}
	if s.observer != nil {
		s.observer.ObserveSelectedHint(selection.Attempt.Hint.String())
	}

	result, suppressed := Assemble(selection.Attempt)
	if suppressed {
		s.logger.Info("repetitive low-confidence transcript suppressed",
			"hint", selection.Attempt.Hint.String(),
			"score", selection.Score,
		)
		if s.observer != nil {
			s.observer.ObserveSuppressedTranscript()
		}
	}
	return result, nil
}

// Assemble derives the final result from the retained attempt. It reports
// whether a repetitive transcript was cleared.
func Assemble(attempt speech.Attempt) (Result, bool) {
	confidence := Confidence(attempt.Segments)
	text := attempt.Text
	suppressed := false
	if text != "" && speech.IsRepetitive(text) && confidence < suppressionThreshold {
		text = ""
		confidence = math.Min(confidence, suppressedConfidence)
		suppressed = true
	}

	language := attempt.Language
	if language == "" {
		language = speech.Unknown
	}
	return Result{
		Text:       text,
		Confidence: round3(confidence),
		Language:   language,
	}, suppressed
}

// Confidence is 1 - mean(no_speech_prob) clamped to [0, 1], or a fixed
// fallback when the engine produced no segments.
func Confidence(segments []speech.Segment) float64 {
	if len(segments) == 0 {
		return fallbackConfidence
	}
	total := 0.0
	for _, seg := range segments {
		total += seg.NoSpeechProb
	}
	c := 1 - total/float64(len(segments))
	return math.Max(0, math.Min(1, c))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
