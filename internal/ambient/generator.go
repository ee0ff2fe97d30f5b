package ambient

import (
	"math"
	"math/rand/v2"

	"github.com/example/go-lullaby/internal/audio"
)

// loopFadeSeconds is the crossfade applied at every loop seam.
const loopFadeSeconds = 0.05

// layer describes one generator: a noise buffer shaped per sample index,
// one filter stage and a gain relative to the effect volume.
type layer struct {
	name    string
	seconds float64
	sample  func(i, sampleRate int, rng *rand.Rand) float64
	filter  audio.FilterKind
	cutoff  float64
	q       float64
	gain    float64
	oneShot bool
}

func noise(rng *rand.Rand) float64 {
	return rng.Float64()*2 - 1
}

func rainLayer(cutoff, gain float64) layer {
	return layer{
		name:    "rain",
		seconds: 2,
		sample: func(i, _ int, rng *rand.Rand) float64 {
			return noise(rng) * 0.1 * math.Sin(float64(i)*0.01)
		},
		filter: audio.LowPass,
		cutoff: cutoff,
		gain:   gain,
	}
}

func windLayer(gain float64) layer {
	return layer{
		name:    "wind",
		seconds: 4,
		sample: func(i, _ int, rng *rand.Rand) float64 {
			x := float64(i)
			return math.Sin(x*0.0001)*math.Sin(x*0.00005)*0.3 + noise(rng)*0.1
		},
		filter: audio.LowPass,
		cutoff: 500,
		gain:   gain,
	}
}

func campfireLayer() layer {
	return layer{
		name:    "campfire",
		seconds: 3,
		sample: func(i, _ int, rng *rand.Rand) float64 {
			var crackle float64
			if rng.Float64() < 0.01 {
				crackle = rng.Float64() * 0.5
			}
			return crackle + math.Sin(float64(i)*0.001)*0.1 + noise(rng)*0.05
		},
		filter: audio.BandPass,
		cutoff: 800,
		q:      2,
		gain:   0.6,
	}
}

func snowLayer() layer {
	return layer{
		name:    "snow",
		seconds: 5,
		sample: func(i, _ int, rng *rand.Rand) float64 {
			x := float64(i)
			return math.Sin(x*0.00001)*math.Sin(x*0.000005)*0.2 + noise(rng)*0.03
		},
		filter: audio.LowPass,
		cutoff: 300,
		gain:   0.4,
	}
}

func thunderLayer() layer {
	return layer{
		name:    "thunder",
		seconds: 2,
		sample: func(i, sampleRate int, rng *rand.Rand) float64 {
			return noise(rng) * 0.8 * math.Exp(-float64(i)/(float64(sampleRate)*0.5))
		},
		filter:  audio.LowPass,
		cutoff:  200,
		gain:    0.7,
		oneShot: true,
	}
}

// layersFor returns the looped layers that make up effect.
func layersFor(effect Effect) []layer {
	switch effect {
	case Rain:
		return []layer{rainLayer(2000, 0.8)}
	case Campfire:
		return []layer{campfireLayer()}
	case Wind:
		return []layer{windLayer(0.5)}
	case Snow:
		return []layer{snowLayer()}
	case Storm, Lightning:
		return []layer{rainLayer(3000, 1.2), windLayer(0.8)}
	default:
		return nil
	}
}

// render fills the layer's buffer. Looped layers get a crossfaded seam.
func (l layer) render(sampleRate int, rng *rand.Rand) []float32 {
	n := int(l.seconds * float64(sampleRate))
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = float32(l.sample(i, sampleRate, rng))
	}

	if l.oneShot {
		return buf
	}

	return audio.SeamlessLoop(buf, int(loopFadeSeconds*float64(sampleRate)))
}

func (l layer) newFilter(sampleRate int) (audio.Filter, error) {
	return audio.NewBiquad(l.filter, sampleRate, l.cutoff, l.q)
}
