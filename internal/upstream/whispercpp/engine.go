// Package whispercpp runs recognition locally through the whisper.cpp CLI.
package whispercpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"seniorvoice/internal/audio"
	"seniorvoice/internal/modelcache"
	"seniorvoice/internal/speech"
)

var binaryCandidates = []string{"whisper-cli", "whisper-cpp", "whisper"}

var knownLocations = []string{
	"/opt/homebrew/bin/whisper-cli",
	"/usr/local/bin/whisper-cli",
	"/usr/local/bin/whisper",
	"/usr/bin/whisper-cli",
}

// FindBinary looks for the whisper.cpp CLI on PATH, then in common install
// locations. It returns "" when nothing is found.
func FindBinary() string {
	for _, name := range binaryCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	for _, loc := range knownLocations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

type runFunc func(ctx context.Context, binary string, args []string) error

// modelLoadMarkers are printed by whisper.cpp when the model file cannot be
// read as ggml weights.
var modelLoadMarkers = []string{
	"failed to load model",
	"failed to initialize whisper context",
	"invalid model data",
	"bad magic",
}

func execRun(ctx context.Context, binary string, args []string) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if isModelLoadFailure(msg) {
			return fmt.Errorf("%w: whisper.cpp could not load the model: %s", speech.ErrIntegrity, msg)
		}
		return fmt.Errorf("whisper.cpp failed: %w, stderr: %s", err, msg)
	}
	return nil
}

func isModelLoadFailure(stderr string) bool {
	stderr = strings.ToLower(stderr)
	for _, marker := range modelLoadMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

type Engine struct {
	binary    string
	modelPath string
	prompt    string
	threads   int
	tempDir   string
	run       runFunc
}

func (e *Engine) args(input, outBase string, hint speech.Language) []string {
	lang := string(hint)
	if hint == speech.Auto {
		lang = "auto"
	}
	args := []string{
		"-m", e.modelPath,
		"-f", input,
		"-l", lang,
		"-of", outBase,
		"-oj", "-ojf",
		"-np",
		"-nf",
		"-bs", "5",
		"-bo", "3",
	}
	if e.threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.threads))
	}
	if e.prompt != "" {
		args = append(args, "--prompt", e.prompt)
	}
	return args
}

func (e *Engine) Recognize(ctx context.Context, wave audio.Waveform, hint speech.Language) (speech.Attempt, error) {
	input, err := audio.WriteTempWAV(e.tempDir, wave)
	if err != nil {
		return speech.Attempt{}, err
	}
	defer func() { _ = os.Remove(input) }()

	outBase := strings.TrimSuffix(input, ".wav")
	outPath := outBase + ".json"
	defer func() { _ = os.Remove(outPath) }()

	if err := e.run(ctx, e.binary, e.args(input, outBase, hint)); err != nil {
		return speech.Attempt{}, err
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		return speech.Attempt{}, fmt.Errorf("read whisper.cpp output: %w", err)
	}
	return parseOutput(data, hint)
}

type token struct {
	Text string  `json:"text"`
	P    float64 `json:"p"`
}

type output struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text         string   `json:"text"`
		NoSpeechProb *float64 `json:"no_speech_prob"`
		Tokens       []token  `json:"tokens"`
	} `json:"transcription"`
}

func parseOutput(data []byte, hint speech.Language) (speech.Attempt, error) {
	var out output
	if err := json.Unmarshal(data, &out); err != nil {
		return speech.Attempt{}, fmt.Errorf("invalid whisper.cpp output: %w", err)
	}

	attempt := speech.Attempt{
		Hint:     hint,
		Language: speech.NormalizeLanguage(out.Result.Language),
	}
	var text strings.Builder
	for _, seg := range out.Transcription {
		text.WriteString(seg.Text)
		noSpeech := speech.DefaultNoSpeechProb
		if seg.NoSpeechProb != nil {
			noSpeech = *seg.NoSpeechProb
		}
		attempt.Segments = append(attempt.Segments, speech.Segment{
			AvgLogprob:       avgLogprob(seg.Tokens),
			NoSpeechProb:     noSpeech,
			CompressionRatio: compressionRatio(seg.Text),
		})
	}
	attempt.Text = strings.TrimSpace(text.String())
	return attempt, nil
}

// avgLogprob averages ln(p) over text tokens; [_BEG_]-style markers are skipped.
func avgLogprob(tokens []token) float64 {
	var sum float64
	var n int
	for _, t := range tokens {
		if strings.HasPrefix(t.Text, "[_") {
			continue
		}
		sum += math.Log(math.Max(t.P, 1e-10))
		n++
	}
	if n == 0 {
		return speech.DefaultAvgLogprob
	}
	return sum / float64(n)
}

// compressionRatio is len(text)/len(zlib(text)); looping output compresses well.
func compressionRatio(text string) float64 {
	raw := []byte(strings.TrimSpace(text))
	if len(raw) == 0 {
		return 0
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write(raw)
	_ = zw.Close()
	return float64(len(raw)) / float64(buf.Len())
}

type Config struct {
	Binary      string
	Model       string
	ModelSHA256 string
	Prompt      string
	Threads     int
	TempDir     string
}

// Loader resolves the binary and the cached model artifact. A checksum
// failure is reported as speech.ErrIntegrity so the shared model purges and
// reloads it.
type Loader struct {
	store *modelcache.Store
	cfg   Config
	run   runFunc
}

func NewLoader(store *modelcache.Store, cfg Config) *Loader {
	return &Loader{store: store, cfg: cfg, run: execRun}
}

func (l *Loader) Load(ctx context.Context) (speech.Engine, error) {
	binary := l.cfg.Binary
	if binary == "" {
		binary = FindBinary()
	}
	if binary == "" {
		return nil, errors.New("whisper.cpp binary not found")
	}

	modelPath, err := l.store.Ensure(ctx, l.cfg.Model, l.cfg.ModelSHA256)
	if errors.Is(err, modelcache.ErrChecksum) {
		return nil, fmt.Errorf("%w: %w", speech.ErrIntegrity, err)
	}
	if err != nil {
		return nil, err
	}

	return &Engine{
		binary:    binary,
		modelPath: modelPath,
		prompt:    l.cfg.Prompt,
		threads:   l.cfg.Threads,
		tempDir:   l.cfg.TempDir,
		run:       l.run,
	}, nil
}

func (l *Loader) Purge() error {
	return l.store.Purge(l.cfg.Model)
}
