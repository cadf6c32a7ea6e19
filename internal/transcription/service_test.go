package transcription

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"seniorvoice/internal/audio"
	"seniorvoice/internal/speech"
)

type fakeSelector struct {
	selection speech.Selection
	err       error
	calls     int
	deadline  bool
}

func (f *fakeSelector) Select(ctx context.Context, _ audio.Waveform) (speech.Selection, error) {
	f.calls++
	_, f.deadline = ctx.Deadline()
	return f.selection, f.err
}

type fakeObserver struct {
	rejected   []string
	suppressed int
	selected   []string
}

func (f *fakeObserver) ObserveRejectedClip(reason string) { f.rejected = append(f.rejected, reason) }
func (f *fakeObserver) ObserveSuppressedTranscript()      { f.suppressed++ }
func (f *fakeObserver) ObserveSelectedHint(hint string)   { f.selected = append(f.selected, hint) }

func tone(seconds, amplitude float64) audio.Waveform {
	n := int(seconds * audio.TargetSampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/audio.TargetSampleRate))
	}
	return audio.Waveform{Samples: samples, SampleRate: audio.TargetSampleRate}
}

func selectionOf(text, language string, noSpeech ...float64) speech.Selection {
	segments := make([]speech.Segment, 0, len(noSpeech))
	for _, p := range noSpeech {
		segments = append(segments, speech.Segment{
			AvgLogprob:       speech.DefaultAvgLogprob,
			NoSpeechProb:     p,
			CompressionRatio: speech.DefaultCompressionRatio,
		})
	}
	return speech.Selection{
		Attempt: speech.Attempt{Hint: speech.French, Text: text, Language: language, Segments: segments},
	}
}

func TestTranscribeRejectsNonSpeechWithoutEngineCall(t *testing.T) {
	tests := []struct {
		name   string
		wave   audio.Waveform
		reason string
	}{
		{name: "silence", wave: tone(1, 0), reason: "too_quiet"},
		{name: "short", wave: tone(0.5, 0.5), reason: "too_short"},
		{name: "short at 8 kHz", wave: audio.Waveform{Samples: make([]float32, 4000), SampleRate: 8000}, reason: "too_short"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			selector := &fakeSelector{selection: selectionOf("bonjour", "fr", 0.1)}
			observer := &fakeObserver{}
			svc := New(selector, time.Second, WithObserver(observer))

			got, err := svc.TranscribeWaveform(context.Background(), tc.wave)
			if err != nil {
				t.Fatalf("TranscribeWaveform() error = %v", err)
			}
			want := Result{Text: "", Confidence: 0, Language: "unknown"}
			if got != want {
				t.Fatalf("result = %+v, want %+v", got, want)
			}
			if selector.calls != 0 {
				t.Fatalf("selector called %d times, want 0", selector.calls)
			}
			if len(observer.rejected) != 1 || observer.rejected[0] != tc.reason {
				t.Fatalf("rejected = %v, want [%s]", observer.rejected, tc.reason)
			}
		})
	}
}

func TestTranscribeAssemblesSelectedAttempt(t *testing.T) {
	selector := &fakeSelector{selection: selectionOf("rappelle moi demain", "fr", 0.1, 0.3)}
	observer := &fakeObserver{}
	svc := New(selector, time.Second, WithObserver(observer))

	got, err := svc.TranscribeWaveform(context.Background(), tone(1, 0.2))
	if err != nil {
		t.Fatalf("TranscribeWaveform() error = %v", err)
	}
	want := Result{Text: "rappelle moi demain", Confidence: 0.8, Language: "fr"}
	if got != want {
		t.Fatalf("result = %+v, want %+v", got, want)
	}
	if !selector.deadline {
		t.Fatal("expected selection to run under a deadline")
	}
	if len(observer.selected) != 1 || observer.selected[0] != "fr" {
		t.Fatalf("selected = %v, want [fr]", observer.selected)
	}
}

func TestTranscribeDecodesWAV(t *testing.T) {
	path, err := audio.WriteTempWAV(t.TempDir(), tone(1, 0.3))
	if err != nil {
		t.Fatalf("WriteTempWAV() error = %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	selector := &fakeSelector{selection: selectionOf("quelle heure est il", "fr", 0.2)}
	svc := New(selector, time.Second)

	got, err := svc.Transcribe(context.Background(), f)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got.Text != "quelle heure est il" || selector.calls != 1 {
		t.Fatalf("unexpected result %+v after %d calls", got, selector.calls)
	}
}

func TestTranscribeUnsupportedFormat(t *testing.T) {
	selector := &fakeSelector{}
	svc := New(selector, time.Second)

	_, err := svc.Transcribe(context.Background(), strings.NewReader("ID3 definitely not a wav file"))
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if selector.calls != 0 {
		t.Fatalf("selector called %d times, want 0", selector.calls)
	}
}

func TestTranscribePropagatesEngineFailure(t *testing.T) {
	boom := errors.New("model load failed")
	svc := New(&fakeSelector{err: boom}, time.Second)

	_, err := svc.TranscribeWaveform(context.Background(), tone(1, 0.5))
	if !errors.Is(err, boom) {
		t.Fatalf("expected engine failure, got %v", err)
	}
}

func TestAssemble(t *testing.T) {
	tests := []struct {
		name       string
		attempt    speech.Attempt
		want       Result
		suppressed bool
	}{
		{
			name:    "no segments falls back",
			attempt: selectionOf("bonjour", "fr").Attempt,
			want:    Result{Text: "bonjour", Confidence: 0.4, Language: "fr"},
		},
		{
			name:       "repetitive low confidence cleared",
			attempt:    selectionOf("oui oui oui oui", "fr", 0.5).Attempt,
			want:       Result{Text: "", Confidence: 0.35, Language: "fr"},
			suppressed: true,
		},
		{
			name:       "repetitive fallback confidence cleared",
			attempt:    selectionOf("merci merci merci merci", "fr").Attempt,
			want:       Result{Text: "", Confidence: 0.35, Language: "fr"},
			suppressed: true,
		},
		{
			name:    "repetitive high confidence kept",
			attempt: selectionOf("oui oui oui oui", "fr", 0.1).Attempt,
			want:    Result{Text: "oui oui oui oui", Confidence: 0.9, Language: "fr"},
		},
		{
			name:    "rounded to three decimals",
			attempt: selectionOf("bonjour", "fr", 0.12345).Attempt,
			want:    Result{Text: "bonjour", Confidence: 0.877, Language: "fr"},
		},
		{
			name:    "clamped at zero",
			attempt: selectionOf("bonjour", "ar", 1.5).Attempt,
			want:    Result{Text: "bonjour", Confidence: 0, Language: "ar"},
		},
		{
			name:    "missing language",
			attempt: speech.Attempt{},
			want:    Result{Text: "", Confidence: 0.4, Language: "unknown"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, suppressed := Assemble(tc.attempt)
			if got != tc.want {
				t.Fatalf("Assemble() = %+v, want %+v", got, tc.want)
			}
			if suppressed != tc.suppressed {
				t.Fatalf("suppressed = %v, want %v", suppressed, tc.suppressed)
			}
		})
	}
}

func TestTranscribeReportsSuppression(t *testing.T) {
	observer := &fakeObserver{}
	svc := New(&fakeSelector{selection: selectionOf("oui oui oui oui", "fr", 0.6)}, 0, WithObserver(observer))

	got, err := svc.TranscribeWaveform(context.Background(), tone(1, 0.5))
	if err != nil {
		t.Fatalf("TranscribeWaveform() error = %v", err)
	}
	if got.Text != "" || observer.suppressed != 1 {
		t.Fatalf("expected suppressed transcript, got %+v (suppressed=%d)", got, observer.suppressed)
	}
}
