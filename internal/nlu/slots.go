package nlu

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const isoDate = "2006-01-02"

const (
	DefaultCity         = "Tunis"
	DefaultContact      = "famille"
	EmergencyContact    = "urgence"
	DoctorReminderText  = "Rendez-vous docteur"
	DefaultReminderText = "Rappel"
	DefaultMessageText  = "Message vocal senior"
	MorningTime         = "09:00"
	EveningTime         = "20:00"
	DefaultTimezone     = "Africa/Tunis"
	doctorKeyword       = "docteur"
)

type Media string

const (
	MediaQuran   Media = "quran"
	MediaRadio   Media = "radio"
	MediaMusique Media = "musique"
)

var (
	timePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b([01]?\d|2[0-3])\s*h(?:\s*([0-5]\d))?\b`),
		regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`),
	}
	contactPattern  = regexp.MustCompile(`(?:appelle|contacte|telephone a)\s+([a-zA-Z0-9' -]+)`)
	contactStop     = regexp.MustCompile(`\b(?:demain|aujourdhui|a|a\s+\d|vers|a\s+\d+h)\b`)
	messagePattern  = regexp.MustCompile(`(?:message|sms|envoie)\s+(.*)`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
)

// mondayIndex maps Go's Sunday-first weekday to a Monday-first index.
func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// ExtractDate resolves a relative day expression against ref and returns an
// ISO 8601 calendar date. A named weekday always means the next occurrence
// strictly after ref, so naming today's weekday yields ref + 7 days.
//
// "demain" is matched first and is contained in "apres demain", so the day
// after tomorrow resolves to tomorrow.
func (l *Lexicon) ExtractDate(text string, ref time.Time) string {
	switch {
	case strings.Contains(text, "demain"):
		return ref.AddDate(0, 0, 1).Format(isoDate)
	case strings.Contains(text, "aujourdhui"), strings.Contains(text, "auj"):
		return ref.Format(isoDate)
	}

	today := mondayIndex(ref.Weekday())
	for idx, name := range l.Weekdays {
		if !strings.Contains(text, name) {
			continue
		}
		delta := (idx - today + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return ref.AddDate(0, 0, delta).Format(isoDate)
	}
	return ref.Format(isoDate)
}

// ExtractTime returns "HH:MM" or "" when no time is expressed.
func ExtractTime(text string) string {
	for _, re := range timePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		return fmt.Sprintf("%02d:%02d", hour, minute)
	}

	switch {
	case strings.Contains(text, "matin"):
		return MorningTime
	case strings.Contains(text, "soir"):
		return EveningTime
	}
	return ""
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func (l *Lexicon) ReminderText(text string) string {
	if strings.Contains(text, doctorKeyword) {
		return DoctorReminderText
	}
	stripped := text
	for _, tok := range l.ReminderStrip {
		stripped = strings.ReplaceAll(stripped, tok, " ")
	}
	stripped = strings.TrimSpace(whitespaceRunRe.ReplaceAllString(stripped, " "))
	if stripped == "" {
		return DefaultReminderText
	}
	return capitalize(stripped)
}

// ExtractCity returns the first gazetteer city found, capitalized, or "".
func (l *Lexicon) ExtractCity(text string) string {
	for _, city := range l.Cities {
		if strings.Contains(text, city) {
			return capitalize(city)
		}
	}
	return ""
}

// ExtractContact takes the words after a call verb, cut at the first temporal
// connector, then falls back to a known contact hint. It returns "" when
// nothing matches.
func (l *Lexicon) ExtractContact(text string) string {
	if m := contactPattern.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		candidate = strings.TrimSpace(contactStop.Split(candidate, 2)[0])
		if candidate != "" {
			return candidate
		}
	}
	for _, hint := range l.ContactHints {
		if strings.Contains(text, hint) {
			return hint
		}
	}
	return ""
}

func ExtractMessage(text string) string {
	if m := messagePattern.FindStringSubmatch(text); m != nil {
		if body := strings.TrimSpace(m[1]); body != "" {
			return capitalize(body)
		}
	}
	return DefaultMessageText
}

func ExtractMedia(text string) Media {
	switch {
	case strings.Contains(text, "coran"), strings.Contains(text, "quran"):
		return MediaQuran
	case strings.Contains(text, "radio"):
		return MediaRadio
	}
	return MediaMusique
}
