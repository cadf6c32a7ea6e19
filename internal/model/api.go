package model

import (
	"encoding/json"

	"seniorvoice/internal/nlu"
)

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ReadyResponse struct {
	OK          bool   `json:"ok"`
	ServiceName string `json:"service_name,omitempty"`
	Backend     string `json:"backend,omitempty"`
}

type TranscriptionResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

type ParseRequest struct {
	Text string `json:"text"`
	// Confidence is copied into the command when the caller already has one.
	Confidence float64 `json:"confidence,omitempty"`
}

type PipelineTimings struct {
	Transcription int64 `json:"transcription"`
	Parse         int64 `json:"parse"`
	Total         int64 `json:"total"`
}

// ProcessResponse is a command payload extended with transcription details.
type ProcessResponse struct {
	Command   nlu.Command
	RawText   string
	Language  string
	TimingsMS PipelineTimings
}

func (p ProcessResponse) MarshalJSON() ([]byte, error) {
	command, err := json.Marshal(p.Command)
	if err != nil {
		return nil, err
	}
	extra, err := json.Marshal(struct {
		RawText   string          `json:"raw_text"`
		Language  string          `json:"language"`
		TimingsMS PipelineTimings `json:"timings_ms"`
	}{p.RawText, p.Language, p.TimingsMS})
	if err != nil {
		return nil, err
	}
	// Both are JSON objects; join them into one.
	out := append(command[:len(command)-1], ',')
	return append(out, extra[1:]...), nil
}
