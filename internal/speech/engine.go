// Package speech turns a conditioned waveform into the best of several
// recognition hypotheses.
package speech

import (
	"context"
	"strings"

	"seniorvoice/internal/audio"
)

// Language is a recognition language hint. Auto lets the engine detect it.
type Language string

const (
	Auto    Language = ""
	French  Language = "fr"
	Arabic  Language = "ar"
	Unknown          = "unknown"
)

func (l Language) String() string {
	if l == Auto {
		return "auto"
	}
	return string(l)
}

// DefaultHints is the order in which hypotheses are tried. Earlier hints win ties.
var DefaultHints = []Language{Auto, French, Arabic}

// Segment diagnostics default to these values when an engine omits them.
const (
	DefaultAvgLogprob       = -1.5
	DefaultNoSpeechProb     = 0.5
	DefaultCompressionRatio = 2.0
)

type Segment struct {
	AvgLogprob       float64
	NoSpeechProb     float64
	CompressionRatio float64
}

// Attempt is one engine invocation under a single language hint.
type Attempt struct {
	Hint     Language
	Text     string
	Language string
	Segments []Segment
}

// Engine runs a single deterministic recognition pass (temperature 0, no
// conditioning on previous text).
type Engine interface {
	Recognize(ctx context.Context, wave audio.Waveform, hint Language) (Attempt, error)
}

var languageNames = map[string]string{
	"french":  "fr",
	"arabic":  "ar",
	"english": "en",
}

// NormalizeLanguage maps full language names reported by some engines to
// ISO 639-1 codes. Empty input yields "unknown".
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return Unknown
	}
	if code, ok := languageNames[lang]; ok {
		return code
	}
	return lang
}
