package audio

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// ErrNotWAV is returned when the input is not a decodable PCM WAV file.
var ErrNotWAV = errors.New("not a PCM WAV file")

// PCM is mono float32 audio in [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
}

// Seconds returns the clip duration.
func (p *PCM) Seconds() float64 {
	if p.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// DecodeWAV reads a PCM WAV file and downmixes it to mono float32.
func DecodeWAV(path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrNotWAV, path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: no samples in %s", ErrNotWAV, path)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(d.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float32(channels)
	}

	return &PCM{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// Resample returns the clip at rate using linear interpolation. It returns p
// unchanged when the rate already matches.
func (p *PCM) Resample(rate int) *PCM {
	if rate <= 0 || p.SampleRate == rate || p.SampleRate <= 0 || len(p.Samples) == 0 {
		return p
	}
	n := int(int64(len(p.Samples)) * int64(rate) / int64(p.SampleRate))
	out := make([]float32, n)
	step := float64(p.SampleRate) / float64(rate)
	last := len(p.Samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = p.Samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = p.Samples[j]*(1-frac) + p.Samples[j+1]*frac
	}
	return &PCM{Samples: out, SampleRate: rate}
}
