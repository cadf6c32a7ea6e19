package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedFormat is returned for anything that is not an uncompressed
// 16-bit PCM WAV container.
var ErrUnsupportedFormat = errors.New("unsupported audio format: only PCM16 WAV is accepted")

const (
	pcmFormat   = 1
	pcm16Bits   = 16
	pcm16Scale  = 32768.0
	pcm16MaxInt = 32767
)

// Waveform is a mono (after conditioning) sequence of samples in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// DecodeWAV reads a PCM16 WAV stream and returns its samples collapsed to mono.
func DecodeWAV(r io.Reader) (Waveform, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Waveform{}, fmt.Errorf("read audio: %w", err)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Waveform{}, ErrUnsupportedFormat
	}
	if dec.WavAudioFormat != pcmFormat || dec.BitDepth != pcm16Bits {
		return Waveform{}, fmt.Errorf("%w (format=%d, bits=%d)", ErrUnsupportedFormat, dec.WavAudioFormat, dec.BitDepth)
	}
	channels := int(dec.NumChans)
	if channels <= 0 || dec.SampleRate == 0 {
		return Waveform{}, ErrUnsupportedFormat
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	return Waveform{
		Samples:    downmix(buf.Data, channels),
		SampleRate: int(dec.SampleRate),
	}, nil
}

// downmix averages interleaved frames to mono; a trailing partial frame is dropped.
func downmix(data []int, channels int) []float32 {
	frames := len(data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(data[i*channels+c]) / pcm16Scale
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// EncodeWAV writes w as a mono PCM16 WAV file.
func EncodeWAV(out io.WriteSeeker, w Waveform) error {
	enc := wav.NewEncoder(out, w.SampleRate, pcm16Bits, 1, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		Data:           make([]int, len(w.Samples)),
		SourceBitDepth: pcm16Bits,
	}
	for i, s := range w.Samples {
		buf.Data[i] = int(clamp(float64(s)) * pcm16MaxInt)
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}

// WriteTempWAV encodes w into a new temporary file and returns its path.
// The caller removes the file.
func WriteTempWAV(dir string, w Waveform) (string, error) {
	f, err := os.CreateTemp(dir, "seniorvoice_*.wav")
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := EncodeWAV(f, w); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}
