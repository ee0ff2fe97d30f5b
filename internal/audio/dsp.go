package audio

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// dcBlockCutoff is the DC blocker corner frequency in Hz.
const dcBlockCutoff = 20

// Hook transforms a sample buffer, possibly in place.
type Hook func(samples []float32) []float32

// ApplyHooks runs hooks in order.
func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}

// DSPOptions selects post-processing applied to synthesized speech.
type DSPOptions struct {
	Normalize bool
	DCBlock   bool
	FadeInMS  float64
	FadeOutMS float64
}

// Hooks returns the hooks selected by o, in processing order.
func (o DSPOptions) Hooks(sampleRate int) []Hook {
	var hooks []Hook
	if o.Normalize {
		hooks = append(hooks, PeakNormalize)
	}
	if o.DCBlock {
		hooks = append(hooks, func(s []float32) []float32 { return DCBlock(s, sampleRate) })
	}
	if o.FadeInMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return FadeIn(s, sampleRate, o.FadeInMS) })
	}
	if o.FadeOutMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return FadeOut(s, sampleRate, o.FadeOutMS) })
	}

	return hooks
}

// Enabled reports whether any processing is selected.
func (o DSPOptions) Enabled() bool {
	return o.Normalize || o.DCBlock || o.FadeInMS > 0 || o.FadeOutMS > 0
}

// PeakNormalize scales samples in place so the peak amplitude reaches 1.0.
// Silence is returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float64
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(float64(s)))
	}
	if peak == 0 {
		return samples
	}

	gain := float32(1 / peak)
	for i := range samples {
		samples[i] *= gain
	}

	return samples
}

// DCBlock removes DC offset in place with a Butterworth high-pass at
// dcBlockCutoff. A non-positive sampleRate leaves samples untouched.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if sampleRate <= 0 {
		return samples
	}

	hp := biquad.NewSection(design.Highpass(dcBlockCutoff, DefaultQ, float64(sampleRate)))
	for i, s := range samples {
		samples[i] = float32(hp.ProcessSample(float64(s)))
	}

	return samples
}

// FadeIn applies a linear ramp over the first ms milliseconds, in place.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := rampLen(len(samples), sampleRate, ms)
	for i := 0; i < n; i++ {
		samples[i] *= float32(i) / float32(n)
	}

	return samples
}

// FadeOut applies a linear ramp to zero over the last ms milliseconds, in place.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := rampLen(len(samples), sampleRate, ms)
	start := len(samples) - n
	for i := 0; i < n; i++ {
		samples[start+i] *= float32(n-1-i) / float32(n)
	}

	return samples
}

// Smoothstep returns 3t^2 - 2t^3 for t clamped to [0,1].
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// SeamlessLoop blends the last n samples into the first n so the buffer loops
// without a click, then drops the tail. Buffers shorter than 2n are returned
// unchanged.
func SeamlessLoop(samples []float32, n int) []float32 {
	if n <= 0 || len(samples) < 2*n {
		return samples
	}

	tail := len(samples) - n
	for i := 0; i < n; i++ {
		g := float32(Smoothstep(float64(i) / float64(n)))
		samples[i] = samples[tail+i]*(1-g) + samples[i]*g
	}

	return samples[:tail]
}

func rampLen(total, sampleRate int, ms float64) int {
	n := int(ms / 1000 * float64(sampleRate))
	if n > total {
		n = total
	}
	if n < 0 {
		n = 0
	}
	return n
}
