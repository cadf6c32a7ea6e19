package audio

import (
	"math"
)

const (
	TargetSampleRate = 16000

	silenceEpsilon = 1e-6
	targetPeak     = 0.85
	maxGain        = 6.0

	MinSpeechSeconds = 0.7
	MinSpeechRMS     = 0.008
)

// Resample converts w to dstRate by linear interpolation, preserving duration.
// Empty input, equal rates and degenerate output lengths pass through unchanged.
func Resample(w Waveform, dstRate int) Waveform {
	n := len(w.Samples)
	if w.SampleRate == dstRate || n == 0 || w.SampleRate <= 0 || dstRate <= 0 {
		return w
	}

	duration := float64(n) / float64(w.SampleRate)
	dstLen := int(math.Round(duration * float64(dstRate)))
	if dstLen <= 1 {
		return w
	}

	out := make([]float32, dstLen)
	last := n - 1
	for j := range out {
		// position of output sample j on the source index axis
		pos := float64(j) * float64(n) / float64(dstLen)
		i0 := int(pos)
		if i0 >= last {
			out[j] = w.Samples[last]
			continue
		}
		frac := pos - float64(i0)
		s0 := float64(w.Samples[i0])
		s1 := float64(w.Samples[i0+1])
		out[j] = float32(s0 + frac*(s1-s0))
	}
	return Waveform{Samples: out, SampleRate: dstRate}
}

func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}

func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// NormalizePeak scales w so its peak reaches 0.85, with gain capped at 6x.
// Near-silent input is returned untouched.
func NormalizePeak(w Waveform) Waveform {
	if len(w.Samples) == 0 {
		return w
	}
	peak := Peak(w.Samples)
	if peak < silenceEpsilon {
		return w
	}

	gain := math.Min(targetPeak/peak, maxGain)
	out := make([]float32, len(w.Samples))
	for i, s := range w.Samples {
		out[i] = float32(clamp(float64(s) * gain))
	}
	return Waveform{Samples: out, SampleRate: w.SampleRate}
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Rejection explains why a clip was judged not to contain speech.
type Rejection string

const (
	NotRejected Rejection = ""
	TooShort    Rejection = "too_short"
	TooQuiet    Rejection = "too_quiet"
)

// Conditioned is the output of Condition.
type Conditioned struct {
	Waveform  Waveform
	RMS       float64
	Rejection Rejection
}

func (c Conditioned) Rejected() bool { return c.Rejection != NotRejected }

// Condition resamples to TargetSampleRate, peak-normalizes and flags clips
// that are too short or too quiet to contain speech.
func Condition(w Waveform) Conditioned {
	w = Resample(w, TargetSampleRate)
	w = NormalizePeak(w)

	out := Conditioned{Waveform: w, RMS: RMS(w.Samples)}
	switch {
	case len(w.Samples) < int(MinSpeechSeconds*TargetSampleRate):
		out.Rejection = TooShort
	case out.RMS < MinSpeechRMS:
		out.Rejection = TooQuiet
	}
	return out
}
