package nlu

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

type IntentKeywords struct {
	Intent   Intent   `yaml:"intent"`
	Keywords []string `yaml:"keywords"`
}

type Override struct {
	From Intent `yaml:"from"`
	To   Intent `yaml:"to"`
}

// Lexicon holds every word list the parser matches against. Build one with
// ParseLexicon, LoadLexicon or DefaultLexicon; the zero value is not usable.
type Lexicon struct {
	Fillers       []string          `yaml:"fillers"`
	Dialect       map[string]string `yaml:"dialect"`
	Intents       []IntentKeywords  `yaml:"intents"`
	Overrides     []Override        `yaml:"overrides"`
	Weekdays      []string          `yaml:"weekdays"`
	Cities        []string          `yaml:"cities"`
	ContactHints  []string          `yaml:"contact_hints"`
	ReminderStrip []string          `yaml:"reminder_strip"`

	fillerRe *regexp.Regexp
	keywords map[Intent][]string
}

var loadDefault = sync.OnceValues(func() (*Lexicon, error) {
	return ParseLexicon(defaultLexicon)
})

// DefaultLexicon returns the embedded lexicon. It panics if the embedded file
// is invalid, which only a broken build can cause.
func DefaultLexicon() *Lexicon {
	lex, err := loadDefault()
	if err != nil {
		panic(fmt.Sprintf("nlu: embedded lexicon: %v", err))
	}
	return lex
}

func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	return ParseLexicon(data)
}

func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	if err := lex.Validate(); err != nil {
		return nil, err
	}
	lex.compile()
	return &lex, nil
}

// Validate checks the invariants the normalizer relies on for idempotence
// and the intent classifier relies on for a complete taxonomy.
func (l *Lexicon) Validate() error {
	if len(l.Weekdays) != 7 {
		return fmt.Errorf("lexicon: weekdays must list 7 days, got %d", len(l.Weekdays))
	}

	fillers := make(map[string]bool, len(l.Fillers))
	for _, f := range l.Fillers {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("lexicon: empty filler")
		}
		fillers[f] = true
	}
	for from, to := range l.Dialect {
		if fillers[to] {
			return fmt.Errorf("lexicon: dialect %q maps to filler %q", from, to)
		}
		if again, ok := l.Dialect[to]; ok && to != "" && again != to {
			return fmt.Errorf("lexicon: dialect %q maps to %q which maps to %q", from, to, again)
		}
		if strings.ContainsAny(to, " \t") {
			return fmt.Errorf("lexicon: dialect %q maps to several tokens", from)
		}
	}

	seen := make(map[Intent]bool, len(l.Intents))
	for _, ik := range l.Intents {
		if !ik.Intent.Known() {
			return fmt.Errorf("lexicon: unknown intent %q", ik.Intent)
		}
		if seen[ik.Intent] {
			return fmt.Errorf("lexicon: intent %q declared twice", ik.Intent)
		}
		if len(ik.Keywords) == 0 {
			return fmt.Errorf("lexicon: intent %q has no keywords", ik.Intent)
		}
		seen[ik.Intent] = true
	}
	for _, in := range Intents {
		if !seen[in] {
			return fmt.Errorf("lexicon: intent %q missing", in)
		}
	}
	for _, o := range l.Overrides {
		if !seen[o.From] || !seen[o.To] {
			return fmt.Errorf("lexicon: override %s -> %s names an unknown intent", o.From, o.To)
		}
	}
	return nil
}

func (l *Lexicon) compile() {
	if len(l.Fillers) > 0 {
		quoted := make([]string, len(l.Fillers))
		for i, f := range l.Fillers {
			quoted[i] = regexp.QuoteMeta(f)
		}
		l.fillerRe = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}

	l.keywords = make(map[Intent][]string, len(l.Intents))
	for _, ik := range l.Intents {
		l.keywords[ik.Intent] = ik.Keywords
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
