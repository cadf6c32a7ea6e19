package nlu

import "strings"

type Intent string

const (
	CreateReminder     Intent = "create_reminder"
	MedicationReminder Intent = "medication_reminder"
	CallContact        Intent = "call_contact"
	EmergencyCall      Intent = "emergency_call"
	GetWeather         Intent = "get_weather"
	SetAlarm           Intent = "set_alarm"
	CheckTime          Intent = "check_time"
	CancelReminder     Intent = "cancel_reminder"
	SendMessage        Intent = "send_message"
	PlayMedia          Intent = "play_media"
	Unknown            Intent = "unknown"
)

// Intents is the fixed taxonomy, excluding Unknown.
var Intents = []Intent{
	CreateReminder, MedicationReminder, CallContact, EmergencyCall, GetWeather,
	SetAlarm, CheckTime, CancelReminder, SendMessage, PlayMedia,
}

func (i Intent) Known() bool {
	for _, in := range Intents {
		if in == i {
			return true
		}
	}
	return false
}

// DetectIntent scores every intent by how many of its keywords occur in text
// (substring containment) and returns the highest. Ties go to the intent
// declared first, never to the alphabetically last one: "quel temps radio"
// is get_weather, not play_media. Overrides are then applied once, in
// declaration order.
func (l *Lexicon) DetectIntent(text string) Intent {
	best, bestScore := Unknown, 0
	for _, ik := range l.Intents {
		score := 0
		for _, kw := range ik.Keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = ik.Intent, score
		}
	}
	if best == Unknown {
		return Unknown
	}

	for _, o := range l.Overrides {
		if best == o.From && containsAny(text, l.keywords[o.To]) {
			return o.To
		}
	}
	return best
}
