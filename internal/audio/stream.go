package audio

import (
	"encoding/binary"
	"io"
	"math"
)

// streamingSize marks RIFF and data chunk sizes as unknown.
const streamingSize = 0xFFFFFFFF

// WriteStreamHeader writes a 44-byte mono PCM16 WAV header for an open-ended
// stream at sampleRate. Both chunk sizes carry the unknown-length marker.
func WriteStreamHeader(w io.Writer, sampleRate int) (int, error) {
	const blockAlign = ExpectedChannels * ExpectedBitDepth / 8

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], streamingSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], ExpectedChannels)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], ExpectedBitDepth)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], streamingSize)

	return w.Write(hdr[:])
}

// WritePCM16Samples writes samples as little-endian int16, clamped to [-1, 1].
// NaN is written as silence.
func WritePCM16Samples(w io.Writer, samples []float32) (int, error) {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(ToPCM16(s)))
	}

	return w.Write(buf)
}

// ToPCM16 converts one float sample to int16 with clamping.
func ToPCM16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	return int16(math.Max(-1, math.Min(1, v)) * 32767)
}

// PutFloat32LE writes samples into dst as little-endian IEEE-754 float32.
// dst must hold at least 4*len(samples) bytes.
func PutFloat32LE(dst []byte, samples []float32) {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}
