// Package nlu turns a noisy French / Tunisian Arabic transcript into a
// structured command with typed slots.
package nlu

import (
	"bytes"
	"encoding/json"
	"time"
)

// Command is the structured result of parsing one utterance. Slot fields are
// empty when they do not apply to Action or nothing was extracted.
type Command struct {
	Action         Intent  `json:"action"`
	NormalizedText string  `json:"normalized_text"`
	Confidence     float64 `json:"confidence"`
	Date           string  `json:"date"`
	Time           string  `json:"time"`
	Text           string  `json:"text"`
	Contact        string  `json:"contact"`
	City           string  `json:"city"`
	Timezone       string  `json:"timezone"`
	Media          Media   `json:"media"`
}

// actionSlots lists, in wire order, the slot keys each action carries.
var actionSlots = map[Intent][]string{
	CreateReminder:     {"date", "time", "text"},
	MedicationReminder: {"date", "time", "text"},
	SetAlarm:           {"date", "time", "text"},
	CallContact:        {"contact"},
	EmergencyCall:      {"contact"},
	GetWeather:         {"city", "date"},
	CheckTime:          {"timezone"},
	CancelReminder:     {"date"},
	SendMessage:        {"contact", "text"},
	PlayMedia:          {"media"},
}

// Slots returns the slot keys encoded for action.
func Slots(action Intent) []string {
	return actionSlots[action]
}

func (c Command) slot(key string) string {
	switch key {
	case "date":
		return c.Date
	case "time":
		return c.Time
	case "text":
		return c.Text
	case "contact":
		return c.Contact
	case "city":
		return c.City
	case "timezone":
		return c.Timezone
	case "media":
		return string(c.Media)
	}
	return ""
}

// MarshalJSON writes action, normalized_text and confidence followed by
// exactly the slots of Action. A slot with nothing extracted is null, so
// every payload for a given action has the same keys.
func (c Command) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	if err := write("action", c.Action); err != nil {
		return nil, err
	}
	if err := write("normalized_text", c.NormalizedText); err != nil {
		return nil, err
	}
	if err := write("confidence", c.Confidence); err != nil {
		return nil, err
	}
	for _, key := range Slots(c.Action) {
		var value any
		if v := c.slot(key); v != "" {
			value = v
		}
		if err := write(key, value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type Option func(*Parser)

// WithClock sets the source of "today". Tests pin it.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLocation sets the zone used to decide the current calendar day and
// reported for check_time.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.loc = loc
		}
	}
}

type Parser struct {
	lex *Lexicon
	now func() time.Time
	loc *time.Location
}

func NewParser(lex *Lexicon, opts ...Option) *Parser {
	if lex == nil {
		lex = DefaultLexicon()
	}
	p := &Parser{lex: lex, now: time.Now, loc: tunis()}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// tunis falls back to a fixed UTC+1 zone when tzdata is unavailable; Tunisia
// has not observed DST since 2009.
func tunis() *time.Location {
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.FixedZone(DefaultTimezone, 60*60)
}

func (p *Parser) Lexicon() *Lexicon { return p.lex }

func (p *Parser) Location() *time.Location { return p.loc }

func (p *Parser) today() time.Time {
	y, m, d := p.now().In(p.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, p.loc)
}

// Parse never fails: text that matches no intent yields Action Unknown with
// no slots. Confidence is left for the caller to fill from transcription.
func (p *Parser) Parse(raw string) Command {
	normalized := p.lex.Normalize(raw)
	action := p.lex.DetectIntent(normalized)
	cmd := Command{Action: action, NormalizedText: normalized}

	switch action {
	case CreateReminder, MedicationReminder, SetAlarm:
		cmd.Date = p.lex.ExtractDate(normalized, p.today())
		cmd.Time = ExtractTime(normalized)
		cmd.Text = p.lex.ReminderText(normalized)
	case EmergencyCall:
		cmd.Contact = EmergencyContact
	case CallContact:
		cmd.Contact = p.lex.ExtractContact(normalized)
	case GetWeather:
		cmd.City = p.lex.ExtractCity(normalized)
		if cmd.City == "" {
			cmd.City = DefaultCity
		}
		cmd.Date = p.lex.ExtractDate(normalized, p.today())
	case CheckTime:
		cmd.Timezone = p.loc.String()
	case CancelReminder:
		cmd.Date = p.lex.ExtractDate(normalized, p.today())
	case SendMessage:
		cmd.Contact = p.lex.ExtractContact(normalized)
		if cmd.Contact == "" {
			cmd.Contact = DefaultContact
		}
		cmd.Text = ExtractMessage(normalized)
	case PlayMedia:
		cmd.Media = ExtractMedia(normalized)
	}
	return cmd
}
