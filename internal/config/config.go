package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
)

const (
	BackendOpenAI     = "openai"
	BackendWhisperCpp = "whispercpp"

	DefaultWhisperModel = "base"
)

type Config struct {
	ListenAddr           string
	EngineBackend        string
	UpstreamBaseURL      string
	UpstreamAPIKey       string
	WhisperModel         string
	WhisperPrompt        string
	WhisperCppBinary     string
	WhisperCppThreads    int
	ModelCacheDir        string
	ModelDownloadURL     string
	ModelSHA256          string
	LexiconPath          string
	Timezone             string
	RequestTimeout       time.Duration
	TranscriptionTimeout time.Duration
	MaxUploadBytes       int64
	LogLevel             string
}

type envConfig struct {
	ListenAddr                  string `env:"LISTEN_ADDR" envDefault:":8080"`
	EngineBackend               string `env:"ENGINE_BACKEND" envDefault:"openai"`
	UpstreamBaseURL             string `env:"UPSTREAM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	UpstreamAPIKey              string `env:"UPSTREAM_API_KEY"`
	SeniorVoiceWhisperModel     string `env:"SENIORVOICE_WHISPER_MODEL"`
	WhisperModel                string `env:"WHISPER_MODEL"`
	WhisperPrompt               string `env:"WHISPER_PROMPT" envDefault:"Senior tunisien, arabe dialectal tunisien et francais."`
	WhisperCppBinary            string `env:"WHISPERCPP_BINARY"`
	WhisperCppThreads           int    `env:"WHISPERCPP_THREADS" envDefault:"0"`
	ModelCacheDir               string `env:"MODEL_CACHE_DIR"`
	ModelDownloadURL            string `env:"MODEL_DOWNLOAD_URL" envDefault:"https://huggingface.co/ggerganov/whisper.cpp/resolve/main"`
	ModelSHA256                 string `env:"MODEL_SHA256"`
	LexiconPath                 string `env:"LEXICON_PATH"`
	Timezone                    string `env:"TIMEZONE" envDefault:"Africa/Tunis"`
	RequestTimeoutSeconds       int    `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"60"`
	TranscriptionTimeoutSeconds int    `env:"TRANSCRIPTION_TIMEOUT_SECONDS" envDefault:"45"`
	MaxUploadBytes              int64  `env:"MAX_UPLOAD_BYTES" envDefault:"26214400"`
	LogLevel                    string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:           strings.TrimSpace(raw.ListenAddr),
		EngineBackend:        strings.ToLower(strings.TrimSpace(raw.EngineBackend)),
		UpstreamBaseURL:      strings.TrimRight(strings.TrimSpace(raw.UpstreamBaseURL), "/"),
		UpstreamAPIKey:       strings.TrimSpace(raw.UpstreamAPIKey),
		WhisperModel:         firstNonEmpty(raw.SeniorVoiceWhisperModel, raw.WhisperModel, DefaultWhisperModel),
		WhisperPrompt:        strings.TrimSpace(raw.WhisperPrompt),
		WhisperCppBinary:     strings.TrimSpace(raw.WhisperCppBinary),
		WhisperCppThreads:    raw.WhisperCppThreads,
		ModelCacheDir:        strings.TrimSpace(raw.ModelCacheDir),
		ModelDownloadURL:     strings.TrimRight(strings.TrimSpace(raw.ModelDownloadURL), "/"),
		ModelSHA256:          strings.ToLower(strings.TrimSpace(raw.ModelSHA256)),
		LexiconPath:          strings.TrimSpace(raw.LexiconPath),
		Timezone:             strings.TrimSpace(raw.Timezone),
		RequestTimeout:       time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		TranscriptionTimeout: time.Duration(raw.TranscriptionTimeoutSeconds) * time.Second,
		MaxUploadBytes:       raw.MaxUploadBytes,
		LogLevel:             strings.ToLower(strings.TrimSpace(raw.LogLevel)),
	}
	if cfg.ModelCacheDir == "" {
		cfg.ModelCacheDir = defaultModelCacheDir()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	switch c.EngineBackend {
	case BackendOpenAI:
		if c.UpstreamBaseURL == "" {
			return errors.New("UPSTREAM_BASE_URL must not be empty")
		}
	case BackendWhisperCpp:
		if c.ModelCacheDir == "" {
			return errors.New("MODEL_CACHE_DIR must not be empty")
		}
		if c.ModelDownloadURL == "" {
			return errors.New("MODEL_DOWNLOAD_URL must not be empty")
		}
	default:
		return fmt.Errorf("ENGINE_BACKEND must be %q or %q, got %q", BackendOpenAI, BackendWhisperCpp, c.EngineBackend)
	}
	if c.WhisperModel == "" {
		return errors.New("WHISPER_MODEL must not be empty")
	}
	if c.ModelSHA256 != "" {
		if b, err := hex.DecodeString(c.ModelSHA256); err != nil || len(b) != 32 {
			return errors.New("MODEL_SHA256 must be 64 hex characters")
		}
	}
	if c.WhisperCppThreads < 0 {
		return errors.New("WHISPERCPP_THREADS must be >= 0")
	}
	if c.Timezone == "" {
		return errors.New("TIMEZONE must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.TranscriptionTimeout <= 0 {
		return errors.New("TRANSCRIPTION_TIMEOUT_SECONDS must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	return nil
}

func defaultModelCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = filepath.Join(os.TempDir(), ".cache")
	}
	return filepath.Join(base, "seniorvoice", "models")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
