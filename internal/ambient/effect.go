package ambient

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEffect is returned for effect names outside the catalogue.
var ErrUnknownEffect = errors.New("unknown ambient effect")

// Effect names one soundscape.
type Effect string

const (
	None      Effect = "none"
	Rain      Effect = "rain"
	Campfire  Effect = "campfire"
	Wind      Effect = "wind"
	Storm     Effect = "storm"
	Snow      Effect = "snow"
	Lightning Effect = "lightning"
)

// Effects lists every playable effect.
func Effects() []Effect {
	return []Effect{Rain, Campfire, Wind, Storm, Snow, Lightning}
}

// ParseEffect maps a case-insensitive name to an Effect. The empty string
// and "off" mean None.
func ParseEffect(s string) (Effect, error) {
	switch e := Effect(strings.ToLower(strings.TrimSpace(s))); e {
	case "", "off", None:
		return None, nil
	case Rain, Campfire, Wind, Storm, Snow, Lightning:
		return e, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownEffect, s)
	}
}
