// Package audio holds the PCM plumbing shared by narration and ambient
// playback: WAV encoding, streaming headers, DSP helpers and biquad filters.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// Canonical PCM format used across the module.
const (
	ExpectedSampleRate = 24000
	ExpectedChannels   = 1
	ExpectedBitDepth   = 16
)

// ErrFormatMismatch is returned when a decoded WAV does not match the expected format.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// DecodeWAV decodes 24 kHz mono 16-bit PCM WAV bytes into float32 samples.
func DecodeWAV(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	switch {
	case dec.SampleRate != ExpectedSampleRate:
		return nil, fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, dec.SampleRate, ExpectedSampleRate)
	case dec.NumChans != ExpectedChannels:
		return nil, fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, dec.NumChans, ExpectedChannels)
	case dec.BitDepth != ExpectedBitDepth:
		return nil, fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, dec.BitDepth, ExpectedBitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading PCM data: %w", err)
	}

	return buf.Data, nil
}

// EncodeWAV encodes float32 samples as 24 kHz mono 16-bit PCM WAV bytes.
func EncodeWAV(samples []float32) ([]byte, error) {
	var out bytes.Buffer

	enc := wav.NewEncoder(&seekBuffer{buf: &out}, ExpectedSampleRate, ExpectedBitDepth, ExpectedChannels, 1)

	pcm := &goaudio.Float32Buffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: ExpectedSampleRate, NumChannels: ExpectedChannels},
		SourceBitDepth: ExpectedBitDepth,
	}
	if err := enc.Write(pcm); err != nil {
		return nil, fmt.Errorf("writing PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}

	return out.Bytes(), nil
}

// Duration returns the playback length of n samples at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// seekBuffer adapts bytes.Buffer to io.WriteSeeker; the WAV encoder seeks
// back to patch chunk sizes on Close.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos == s.buf.Len() {
		n, err := s.buf.Write(p)
		s.pos += n
		return n, err
	}

	data := s.buf.Bytes()
	n := copy(data[s.pos:], p)
	if n < len(p) {
		s.buf.Write(p[n:])
	}
	s.pos += len(p)

	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = s.pos + int(offset)
	case io.SeekEnd:
		next = s.buf.Len() + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 || next > s.buf.Len() {
		return 0, fmt.Errorf("seek to %d out of range", next)
	}
	s.pos = next

	return int64(next), nil
}
