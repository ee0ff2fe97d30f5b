package audio

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// FilterKind selects a biquad response.
type FilterKind int

const (
	LowPass FilterKind = iota
	HighPass
	BandPass
)

func (k FilterKind) String() string {
	switch k {
	case LowPass:
		return "lowpass"
	case HighPass:
		return "highpass"
	case BandPass:
		return "bandpass"
	default:
		return fmt.Sprintf("FilterKind(%d)", int(k))
	}
}

// DefaultQ is the Butterworth Q used when none is given.
const DefaultQ = 1 / math.Sqrt2

// Filter processes samples in place, keeping state across calls.
type Filter interface {
	Process(samples []float32)
	Reset()
}

// Biquad adapts a single algo-dsp biquad section to float32 buffers.
type Biquad struct {
	kind  FilterKind
	chain *biquad.Chain
}

// NewBiquad designs a filter of kind at cutoff Hz for sampleRate. A
// non-positive q selects DefaultQ. cutoff is clamped below Nyquist.
// Band-pass filters are scaled to a 0 dB peak at cutoff.
func NewBiquad(kind FilterKind, sampleRate int, cutoff, q float64) (*Biquad, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if cutoff <= 0 {
		return nil, fmt.Errorf("invalid cutoff %.1f Hz", cutoff)
	}
	if q <= 0 {
		q = DefaultQ
	}

	rate := float64(sampleRate)
	cutoff = math.Min(cutoff, rate/2*0.99)

	var (
		coeffs biquad.Coefficients
		gain   = 1.0
	)
	switch kind {
	case LowPass:
		coeffs = design.Lowpass(cutoff, q, rate)
	case HighPass:
		coeffs = design.Highpass(cutoff, q, rate)
	case BandPass:
		// constant skirt gain peaks at q
		coeffs = design.Bandpass(cutoff, q, rate)
		gain = 1 / q
	default:
		return nil, fmt.Errorf("unknown filter kind %v", kind)
	}

	return &Biquad{
		kind:  kind,
		chain: biquad.NewChain([]biquad.Coefficients{coeffs}, biquad.WithGain(gain)),
	}, nil
}

// Kind returns the filter response type.
func (f *Biquad) Kind() FilterKind { return f.kind }

func (f *Biquad) Process(samples []float32) {
	for i, s := range samples {
		samples[i] = float32(f.chain.ProcessSample(float64(s)))
	}
}

func (f *Biquad) Reset() {
	f.chain.Reset()
}

// FilterChain runs filters in series.
type FilterChain []Filter

func (c FilterChain) Process(samples []float32) {
	for _, f := range c {
		f.Process(samples)
	}
}

func (c FilterChain) Reset() {
	for _, f := range c {
		f.Reset()
	}
}

// ApplyFilter filters a copy of samples with a fresh biquad.
func ApplyFilter(samples []float32, kind FilterKind, sampleRate int, cutoff, q float64) ([]float32, error) {
	f, err := NewBiquad(kind, sampleRate, cutoff, q)
	if err != nil {
		return nil, err
	}

	out := make([]float32, len(samples))
	copy(out, samples)
	f.Process(out)

	return out, nil
}

// Scale multiplies samples by gain in place.
func Scale(samples []float32, gain float32) {
	for i := range samples {
		samples[i] *= gain
	}
}
