package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"seniorvoice/internal/audio"
	"seniorvoice/internal/config"
	"seniorvoice/internal/nlu"
	"seniorvoice/internal/pipeline"
	"seniorvoice/internal/speech"
	"seniorvoice/internal/transcription"
	"seniorvoice/internal/upstream/openai"
)

type stubTranscription struct {
	result   transcription.Result
	err      error
	fileBody string
	apiKey   string
}

func (s *stubTranscription) Transcribe(ctx context.Context, file io.Reader) (transcription.Result, error) {
	body, _ := io.ReadAll(file)
	s.fileBody = string(body)
	s.apiKey = openai.RequestAPIKeyFromContext(ctx)
	return s.result, s.err
}

type stubParser struct {
	input string
}

func (s *stubParser) Parse(raw string) nlu.Command {
	s.input = raw
	return nlu.Command{Action: nlu.PlayMedia, NormalizedText: raw, Confidence: 0.99, Media: nlu.MediaRadio}
}

type stubPipeline struct {
	result   pipeline.ProcessResult
	err      error
	fileBody string
}

func (s *stubPipeline) Process(_ context.Context, file io.Reader) (pipeline.ProcessResult, error) {
	body, _ := io.ReadAll(file)
	s.fileBody = string(body)
	return s.result, s.err
}

type stubReadiness struct{ err error }

func (s stubReadiness) CheckReady(context.Context) error { return s.err }

type stubMetrics struct {
	intents []string
	routes  []string
}

func (s *stubMetrics) ObserveHTTP(route, _ string, _ int, _ time.Duration) {
	s.routes = append(s.routes, route)
}

func (s *stubMetrics) ObserveIntent(action string) { s.intents = append(s.intents, action) }

func testDeps() Dependencies {
	return Dependencies{
		Transcription: &stubTranscription{},
		Parser:        &stubParser{},
		Pipeline:      &stubPipeline{},
		Readiness:     stubReadiness{},
	}
}

func newTestHandler(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	cfg := config.Config{
		EngineBackend:   config.BackendOpenAI,
		MaxUploadBytes:  1024 * 1024,
		UpstreamAPIKey:  "x",
		UpstreamBaseURL: "http://example.com",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, logger, deps)
}

func multipartAudio(t *testing.T, field, payload string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, "sample.wav")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write([]byte(payload))
	_ = mw.Close()
	return &body, mw.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, testDeps())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestReadyzReportsEngineState(t *testing.T) {
	deps := testDeps()
	deps.Readiness = stubReadiness{err: speech.ErrNotLoaded}
	h := newTestHandler(t, deps)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"code":"not_ready"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}

	h = newTestHandler(t, testDeps())
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"backend":"openai"`) {
		t.Fatalf("unexpected ready response: %d %s", w.Code, w.Body.String())
	}
}

type blockingLoader struct {
	started chan struct{}
	release chan struct{}
}

func (l *blockingLoader) Load(context.Context) (speech.Engine, error) {
	close(l.started)
	<-l.release
	return nil, errors.New("released")
}

func (l *blockingLoader) Purge() error { return nil }

func TestReadyzAnswersWhileModelLoads(t *testing.T) {
	loader := &blockingLoader{started: make(chan struct{}), release: make(chan struct{})}
	shared := speech.NewShared(loader, slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = shared.Get(context.Background())
	}()
	<-loader.started
	defer func() {
		close(loader.release)
		<-done
	}()

	deps := testDeps()
	deps.Readiness = shared
	h := newTestHandler(t, deps)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), `"code":"not_ready"`) {
		t.Fatalf("unexpected response during load: %d %s", w.Code, w.Body.String())
	}
}

func TestTranscriptionsHandlerMultipart(t *testing.T) {
	tr := &stubTranscription{result: transcription.Result{Text: "ghodwa sbah", Confidence: 0.812, Language: "ar"}}
	deps := testDeps()
	deps.Transcription = tr
	h := newTestHandler(t, deps)

	body, contentType := multipartAudio(t, "audio", "audio-bytes")
	req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer caller-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if tr.fileBody != "audio-bytes" {
		t.Fatalf("unexpected file body: %q", tr.fileBody)
	}
	if tr.apiKey != "caller-token" {
		t.Fatalf("expected caller token to be forwarded, got %q", tr.apiKey)
	}
	want := `{"text":"ghodwa sbah","confidence":0.812,"language":"ar"}`
	if strings.TrimSpace(w.Body.String()) != want {
		t.Fatalf("body = %s, want %s", w.Body.String(), want)
	}
}

func TestTranscriptionsRequiresAudioField(t *testing.T) {
	h := newTestHandler(t, testDeps())

	body, contentType := multipartAudio(t, "file", "audio-bytes")
	req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "multipart field 'audio' is required") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: fmt.Errorf("decode: %w", audio.ErrUnsupportedFormat), status: http.StatusUnsupportedMediaType, code: "unsupported_audio_format"},
		{err: &openai.Error{StatusCode: http.StatusTooManyRequests, Body: "slow down"}, status: http.StatusBadGateway, code: "upstream_request_failed"},
		{err: fmt.Errorf("load model: %w", speech.ErrIntegrity), status: http.StatusServiceUnavailable, code: "model_unavailable"},
		{err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "timeout"},
		{err: context.Canceled, status: statusClientClosedRequest, code: "canceled"},
		{err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			deps := testDeps()
			deps.Transcription = &stubTranscription{err: tc.err}
			h := newTestHandler(t, deps)

			body, contentType := multipartAudio(t, "audio", "ID3")
			req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set(requestIDHeader, "req-1")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d body=%s", w.Code, tc.status, w.Body.String())
			}
			var resp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
				RequestID string `json:"request_id"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if resp.Error.Code != tc.code || resp.RequestID != "req-1" {
				t.Fatalf("unexpected error body: %s", w.Body.String())
			}
		})
	}
}

func TestParseHandler(t *testing.T) {
	parser := &stubParser{}
	metrics := &stubMetrics{}
	deps := testDeps()
	deps.Parser = parser
	deps.Metrics = metrics
	h := newTestHandler(t, deps)

	req := httptest.NewRequest(http.MethodPost, "/v1/commands/parse", strings.NewReader(`{"text":"mets la radio","confidence":0.5}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if parser.input != "mets la radio" {
		t.Fatalf("unexpected parser input: %q", parser.input)
	}
	want := `{"action":"play_media","normalized_text":"mets la radio","confidence":0.5,"media":"radio"}`
	if strings.TrimSpace(w.Body.String()) != want {
		t.Fatalf("body = %s, want %s", w.Body.String(), want)
	}
	if len(metrics.intents) != 1 || metrics.intents[0] != "play_media" {
		t.Fatalf("unexpected intents: %v", metrics.intents)
	}
	if len(metrics.routes) != 1 || metrics.routes[0] != "/v1/commands/parse" {
		t.Fatalf("unexpected routes: %v", metrics.routes)
	}
}

func TestParseHandlerRejectsBadJSON(t *testing.T) {
	h := newTestHandler(t, testDeps())

	for _, body := range []string{`{"text":`, `{"text":"a","extra":1}`, `{"text":"a"}{"text":"b"}`, `{"text":"a","confidence":2}`} {
		req := httptest.NewRequest(http.MethodPost, "/v1/commands/parse", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: unexpected status %d", body, w.Code)
		}
	}
}

func TestProcessHandlerMergesTranscription(t *testing.T) {
	pipe := &stubPipeline{result: pipeline.ProcessResult{
		Command: nlu.Command{
			Action:         nlu.CreateReminder,
			NormalizedText: "rappelle moi demain matin le docteur",
			Confidence:     0.873,
			Date:           "2026-10-17",
			Time:           "09:00",
			Text:           "Rendez-vous docteur",
		},
		RawText:  "Rappelle-moi demain matin le docteur",
		Language: "fr",
		Timings:  pipeline.Timings{Transcription: 1500 * time.Millisecond, Parse: time.Millisecond, Total: 1501 * time.Millisecond},
	}}
	deps := testDeps()
	deps.Pipeline = pipe

	for _, path := range []string{"/v1/process", "/process"} {
		h := newTestHandler(t, deps)
		body, contentType := multipartAudio(t, "audio", "audio-payload")
		req := httptest.NewRequest(http.MethodPost, path, body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status: %d body=%s", path, w.Code, w.Body.String())
		}
		if pipe.fileBody != "audio-payload" {
			t.Fatalf("%s: unexpected file body: %q", path, pipe.fileBody)
		}

		var got map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		checks := map[string]any{
			"action":     "create_reminder",
			"confidence": 0.873,
			"date":       "2026-10-17",
			"time":       "09:00",
			"text":       "Rendez-vous docteur",
			"raw_text":   "Rappelle-moi demain matin le docteur",
			"language":   "fr",
		}
		for key, want := range checks {
			if got[key] != want {
				t.Fatalf("%s: %s = %v, want %v", path, key, got[key], want)
			}
		}
		timings, _ := got["timings_ms"].(map[string]any)
		if timings["transcription"] != float64(1500) || timings["total"] != float64(1501) {
			t.Fatalf("%s: unexpected timings: %v", path, got["timings_ms"])
		}
		if _, ok := got["contact"]; ok {
			t.Fatalf("%s: contact should be omitted: %s", path, w.Body.String())
		}
	}
}

func TestProcessHandlerKeepsEmptySlotsAsNull(t *testing.T) {
	deps := testDeps()
	deps.Pipeline = &stubPipeline{result: pipeline.ProcessResult{
		Command:  nlu.Command{Action: nlu.CallContact, NormalizedText: "appelle", Confidence: 0.61},
		RawText:  "Appelle",
		Language: "fr",
	}}
	h := newTestHandler(t, deps)

	body, contentType := multipartAudio(t, "audio", "audio-payload")
	req := httptest.NewRequest(http.MethodPost, "/v1/process", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	want := `{"action":"call_contact","normalized_text":"appelle","confidence":0.61,"contact":null,` +
		`"raw_text":"Appelle","language":"fr","timings_ms":{"transcription":0,"parse":0,"total":0}}`
	if strings.TrimSpace(w.Body.String()) != want {
		t.Fatalf("body = %s, want %s", w.Body.String(), want)
	}
}

func TestTokenRequiredWhenNoServerAPIKey(t *testing.T) {
	cfg := config.Config{
		EngineBackend:   config.BackendOpenAI,
		MaxUploadBytes:  1024 * 1024,
		UpstreamBaseURL: "http://example.com",
	}
	h := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), testDeps())

	body, contentType := multipartAudio(t, "audio", "audio")
	req := httptest.NewRequest(http.MethodPost, "/v1/process", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/commands/parse", strings.NewReader(`{"text":"bonjour"}`))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("parse should not need a token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Basic abc")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("malformed Authorization should be rejected, got %d", w.Code)
	}
}

func TestLocalBackendNeedsNoToken(t *testing.T) {
	pipe := &stubPipeline{}
	deps := testDeps()
	deps.Pipeline = pipe
	cfg := config.Config{
		EngineBackend:  config.BackendWhisperCpp,
		MaxUploadBytes: 1024 * 1024,
	}
	h := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), deps)

	body, contentType := multipartAudio(t, "audio", "audio")
	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestUploadLimit(t *testing.T) {
	cfg := config.Config{
		EngineBackend:  config.BackendWhisperCpp,
		MaxUploadBytes: 512,
	}
	h := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), testDeps())

	body, contentType := multipartAudio(t, "audio", strings.Repeat("x", 4096))
	req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}
