package speech

import (
	"strings"
	"unicode"
)

// EmptyScore disqualifies blank hypotheses.
const EmptyScore = -999.0

const (
	allowedWeight        = 2.5
	noSpeechWeight       = 1.3
	compressionWeight    = 0.8
	compressionThreshold = 2.4
	cyrillicWeight       = 3.2
	repetitionPenalty    = 1.8
)

var arabicBlock = &unicode.RangeTable{R16: []unicode.Range16{{Lo: 0x0600, Hi: 0x06FF, Stride: 1}}}

var cyrillicBlock = &unicode.RangeTable{R16: []unicode.Range16{{Lo: 0x0400, Hi: 0x04FF, Stride: 1}}}

func allowedRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r >= 0x00C0 && r <= 0x00FF:
		return true
	case unicode.Is(arabicBlock, r), unicode.IsSpace(r):
		return true
	}
	return strings.ContainsRune("'’.,!?;:()-", r)
}

func mean(segments []Segment, field func(Segment) float64, fallback float64) float64 {
	if len(segments) == 0 {
		return fallback
	}
	var sum float64
	for _, s := range segments {
		sum += field(s)
	}
	return sum / float64(len(segments))
}

// Score ranks a hypothesis: higher is better. It is a relative signal, not a
// probability.
func Score(text string, segments []Segment) float64 {
	if strings.TrimSpace(text) == "" {
		return EmptyScore
	}

	var total, allowed, cyrillic int
	for _, r := range text {
		total++
		if allowedRune(r) {
			allowed++
		}
		if unicode.Is(cyrillicBlock, r) {
			cyrillic++
		}
	}
	allowedRatio := float64(allowed) / float64(total)
	cyrRatio := float64(cyrillic) / float64(total)

	logprob := mean(segments, func(s Segment) float64 { return s.AvgLogprob }, DefaultAvgLogprob)
	noSpeech := mean(segments, func(s Segment) float64 { return s.NoSpeechProb }, DefaultNoSpeechProb)
	compression := mean(segments, func(s Segment) float64 { return s.CompressionRatio }, DefaultCompressionRatio)

	compressionPenalty := max(0, compression-compressionThreshold)
	var repetition float64
	if IsRepetitive(text) {
		repetition = repetitionPenalty
	}

	return allowedWeight*allowedRatio +
		logprob -
		noSpeechWeight*noSpeech -
		compressionWeight*compressionPenalty -
		cyrillicWeight*cyrRatio -
		repetition
}
