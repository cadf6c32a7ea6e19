package openai

import (
	"context"
	"os"

	"seniorvoice/internal/audio"
	"seniorvoice/internal/speech"
)

// Recognizer adapts the transcription endpoint to speech.Engine. Each call
// uploads the conditioned waveform as a 16-bit mono WAV.
type Recognizer struct {
	client  *Client
	model   string
	prompt  string
	tempDir string
}

func NewRecognizer(client *Client, model, prompt, tempDir string) *Recognizer {
	return &Recognizer{client: client, model: model, prompt: prompt, tempDir: tempDir}
}

func (r *Recognizer) Recognize(ctx context.Context, wave audio.Waveform, hint speech.Language) (speech.Attempt, error) {
	path, err := audio.WriteTempWAV(r.tempDir, wave)
	if err != nil {
		return speech.Attempt{}, err
	}
	defer func() { _ = os.Remove(path) }()

	f, err := os.Open(path)
	if err != nil {
		return speech.Attempt{}, err
	}
	defer f.Close()

	resp, err := r.client.Transcribe(ctx, TranscriptionRequest{
		File:        f,
		FileName:    "utterance.wav",
		Model:       r.model,
		Language:    string(hint),
		Prompt:      r.prompt,
		Temperature: 0,
	})
	if err != nil {
		return speech.Attempt{}, err
	}
	return toAttempt(resp, hint), nil
}

func toAttempt(resp Transcription, hint speech.Language) speech.Attempt {
	attempt := speech.Attempt{
		Hint:     hint,
		Text:     resp.Text,
		Language: speech.NormalizeLanguage(resp.Language),
	}
	for _, seg := range resp.Segments {
		attempt.Segments = append(attempt.Segments, speech.Segment{
			AvgLogprob:       valueOr(seg.AvgLogprob, speech.DefaultAvgLogprob),
			NoSpeechProb:     valueOr(seg.NoSpeechProb, speech.DefaultNoSpeechProb),
			CompressionRatio: valueOr(seg.CompressionRatio, speech.DefaultCompressionRatio),
		})
	}
	return attempt
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

// Loader hands out a Recognizer; the remote model needs no local artifact.
type Loader struct {
	Recognizer *Recognizer
}

func (l Loader) Load(context.Context) (speech.Engine, error) {
	return l.Recognizer, nil
}

func (l Loader) Purge() error { return nil }
