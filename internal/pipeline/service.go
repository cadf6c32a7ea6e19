package pipeline

import (
	"context"
	"io"
	"time"

	"seniorvoice/internal/nlu"
	"seniorvoice/internal/transcription"
)

type Transcriber interface {
	Transcribe(ctx context.Context, file io.Reader) (transcription.Result, error)
}

type CommandParser interface {
	Parse(raw string) nlu.Command
}

type Service struct {
	transcriber Transcriber
	parser      CommandParser
}

type Timings struct {
	Transcription time.Duration
	Parse         time.Duration
	Total         time.Duration
}

// ProcessResult is the parsed command with the transcription stage's
// confidence copied in, plus the raw transcript and detected language.
type ProcessResult struct {
	Command  nlu.Command
	RawText  string
	Language string
	Timings  Timings
}

func New(transcriber Transcriber, parser CommandParser) *Service {
	return &Service{
		transcriber: transcriber,
		parser:      parser,
	}
}

// Process transcribes audio and parses the transcript. Audio and engine
// failures are returned; an empty or unintelligible transcript is not an
// error and yields an "unknown" command.
func (s *Service) Process(ctx context.Context, file io.Reader) (ProcessResult, error) {
	started := time.Now()

	transcript, err := s.transcriber.Transcribe(ctx, file)
	transcriptionDuration := time.Since(started)
	if err != nil {
		return ProcessResult{}, err
	}

	parseStarted := time.Now()
	cmd := s.parser.Parse(transcript.Text)
	parseDuration := time.Since(parseStarted)
	cmd.Confidence = transcript.Confidence

	return ProcessResult{
		Command:  cmd,
		RawText:  transcript.Text,
		Language: transcript.Language,
		Timings: Timings{
			Transcription: transcriptionDuration,
			Parse:         parseDuration,
			Total:         time.Since(started),
		},
	}, nil
}
