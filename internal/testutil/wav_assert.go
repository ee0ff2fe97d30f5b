package testutil

import (
	"testing"

	"github.com/example/go-lullaby/internal/audio"
)

// AssertValidWAV decodes data with the module codec and fails unless it is a
// non-empty 24 kHz mono PCM16 WAV.
func AssertValidWAV(tb testing.TB, data []byte) {
	tb.Helper()

	if n := decodedLen(tb, data); n == 0 {
		tb.Fatal("WAV holds no samples")
	}
}

// AssertWAVDurationApprox fails unless the decoded audio lasts between minSec
// and maxSec seconds.
func AssertWAVDurationApprox(tb testing.TB, data []byte, minSec, maxSec float64) {
	tb.Helper()

	sec := audio.Duration(decodedLen(tb, data), audio.ExpectedSampleRate).Seconds()
	if sec < minSec || sec > maxSec {
		tb.Fatalf("WAV lasts %.3fs, want [%.3fs, %.3fs]", sec, minSec, maxSec)
	}
}

func decodedLen(tb testing.TB, data []byte) int {
	tb.Helper()

	samples, err := audio.DecodeWAV(data)
	if err != nil {
		tb.Fatalf("decode WAV (%d bytes): %v", len(data), err)
	}

	return len(samples)
}
