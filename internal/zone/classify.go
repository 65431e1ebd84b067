// Package zone classifies monthly crime counts into red/amber/green risk zones.
package zone

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/crimesafe/internal/config"
	"github.com/sells-group/crimesafe/internal/model"
)

// Default breakpoints (crimes per month).
const (
	DefaultRedAbove   = 50 // count > 50 is red
	DefaultAmberAbove = 20 // 20 < count <= 50 is amber
)

// Policy holds the zone breakpoints. Counts strictly above RedAbove are red,
// counts strictly above AmberAbove (and not red) are amber, everything else
// is green.
type Policy struct {
	RedAbove   int
	AmberAbove int
}

// DefaultPolicy returns the standard 20/50 breakpoints.
func DefaultPolicy() Policy {
	return Policy{RedAbove: DefaultRedAbove, AmberAbove: DefaultAmberAbove}
}

// FromConfig builds a Policy from configured breakpoints. Values are taken
// as given, so amber_above=0 labels every non-zero month at least amber.
func FromConfig(c config.ZoneConfig) Policy {
	return Policy{RedAbove: c.RedAbove, AmberAbove: c.AmberAbove}
}

// Validate checks that the breakpoints are ordered.
func (p Policy) Validate() error {
	if p.AmberAbove < 0 {
		return eris.Errorf("zone: amber_above must be >= 0, got %d", p.AmberAbove)
	}
	if p.RedAbove < p.AmberAbove {
		return eris.Errorf("zone: red_above (%d) must be >= amber_above (%d)", p.RedAbove, p.AmberAbove)
	}
	return nil
}

// Classify returns the zone for a monthly crime count.
func (p Policy) Classify(count int) model.Zone {
	switch {
	case count > p.RedAbove:
		return model.ZoneRed
	case count > p.AmberAbove:
		return model.ZoneAmber
	default:
		return model.ZoneGreen
	}
}

// Classify applies DefaultPolicy.
func Classify(count int) model.Zone {
	return DefaultPolicy().Classify(count)
}

// MostCommon returns the most frequent zone in zones. Ties go to the more
// severe zone. Returns "" for an empty input.
func MostCommon(zones []model.Zone) model.Zone {
	counts := make(map[model.Zone]int, 3)
	for _, z := range zones {
		if z.Valid() {
			counts[z]++
		}
	}

	var best model.Zone
	for _, z := range []model.Zone{model.ZoneRed, model.ZoneAmber, model.ZoneGreen} {
		if counts[z] > counts[best] {
			best = z
		}
	}
	return best
}
