// Package app wires configuration into the speech, transcription, parsing
// and pipeline services shared by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
	_ "time/tzdata"

	"seniorvoice/internal/config"
	"seniorvoice/internal/modelcache"
	"seniorvoice/internal/nlu"
	"seniorvoice/internal/observability"
	"seniorvoice/internal/pipeline"
	"seniorvoice/internal/speech"
	"seniorvoice/internal/transcription"
	"seniorvoice/internal/upstream/openai"
	"seniorvoice/internal/upstream/whispercpp"
)

type ReadinessChecker interface {
	CheckReady(ctx context.Context) error
}

type Services struct {
	Engine        *speech.Shared
	Transcription *transcription.Service
	Parser        *nlu.Parser
	Pipeline      *pipeline.Service
	Readiness     ReadinessChecker

	logger *slog.Logger
}

// New builds the service graph. metrics may be nil.
func New(cfg config.Config, logger *slog.Logger, metrics *observability.Metrics) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lexicon := nlu.DefaultLexicon()
	if cfg.LexiconPath != "" {
		var err error
		if lexicon, err = nlu.LoadLexicon(cfg.LexiconPath); err != nil {
			return nil, err
		}
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	httpClient := newHTTPClient(cfg.RequestTimeout)

	var (
		loader    speech.Loader
		readiness ReadinessChecker
		shared    *speech.Shared
	)
	switch cfg.EngineBackend {
	case config.BackendOpenAI:
		client := openai.New(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, httpClient, openai.WithObserver(metrics.ObserveUpstream))
		loader = openai.Loader{Recognizer: openai.NewRecognizer(client, cfg.WhisperModel, cfg.WhisperPrompt, "")}
		readiness = client
		shared = speech.NewShared(loader, logger)
	case config.BackendWhisperCpp:
		// Model downloads can take far longer than an API call.
		store := modelcache.New(cfg.ModelCacheDir, cfg.ModelDownloadURL, &http.Client{Transport: httpClient.Transport})
		loader = whispercpp.NewLoader(store, whispercpp.Config{
			Binary:      cfg.WhisperCppBinary,
			Model:       cfg.WhisperModel,
			ModelSHA256: cfg.ModelSHA256,
			Prompt:      cfg.WhisperPrompt,
			Threads:     cfg.WhisperCppThreads,
		})
		shared = speech.NewShared(loader, logger)
		readiness = shared
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.EngineBackend)
	}

	selector := speech.NewSelector(shared,
		speech.WithObserver(metrics),
		speech.WithLogger(logger),
	)
	transcriber := transcription.New(selector, cfg.TranscriptionTimeout,
		transcription.WithObserver(metrics),
		transcription.WithLogger(logger),
	)
	parser := nlu.NewParser(lexicon, nlu.WithLocation(loc))

	return &Services{
		Engine:        shared,
		Transcription: transcriber,
		Parser:        parser,
		Pipeline:      pipeline.New(transcriber, parser),
		Readiness:     readiness,
		logger:        logger,
	}, nil
}

// Warmup loads the shared model ahead of the first request.
func (s *Services) Warmup(ctx context.Context) error {
	started := time.Now()
	if _, err := s.Engine.Get(ctx); err != nil {
		s.logger.Warn("speech model warmup failed", "error", err)
		return err
	}
	s.logger.Info("speech model ready", "duration_ms", time.Since(started).Milliseconds())
	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
