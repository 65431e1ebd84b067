// Package weight computes how strongly a crime record counts toward a
// requester's perceived risk, based on how closely the victim matches the
// requester's age and gender.
package weight

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crimesafe/internal/config"
	"github.com/sells-group/crimesafe/internal/model"
)

// Neutral is the weight of a record with no usable victim demographics.
const Neutral = 1.0

// Strategy weighs one crime record for one requester. Implementations must be
// pure and return a value > 0.
type Strategy interface {
	Weight(victimAge *int, victimGender *model.Gender, requester model.Requester) float64
}

// Curve is the default weighting strategy:
//
//	weight = ageFactor * genderFactor
//	ageFactor = MinAgeFactor + (MaxAgeFactor-MinAgeFactor) * exp(-|Δage| / AgeScaleYears)
//	genderFactor = GenderMatch when genders match, GenderMismatch otherwise
//
// A missing victim age or gender contributes a factor of 1.0, so a record with
// neither weighs exactly Neutral.
type Curve struct {
	MinAgeFactor   float64
	MaxAgeFactor   float64
	AgeScaleYears  float64
	GenderMatch    float64
	GenderMismatch float64
}

// DefaultCurve returns the standard coefficients. A same-age, same-gender
// victim weighs 1.875; a victim 45 years apart of the other gender about 0.44.
func DefaultCurve() Curve {
	return Curve{
		MinAgeFactor:   0.5,
		MaxAgeFactor:   1.5,
		AgeScaleYears:  15,
		GenderMatch:    1.25,
		GenderMismatch: 0.8,
	}
}

// FromConfig builds a Curve, keeping defaults for unset coefficients.
func FromConfig(c config.WeightingConfig) Curve {
	cv := DefaultCurve()
	if c.MinAgeFactor > 0 {
		cv.MinAgeFactor = c.MinAgeFactor
	}
	if c.MaxAgeFactor > 0 {
		cv.MaxAgeFactor = c.MaxAgeFactor
	}
	if c.AgeScaleYears > 0 {
		cv.AgeScaleYears = c.AgeScaleYears
	}
	if c.GenderMatch > 0 {
		cv.GenderMatch = c.GenderMatch
	}
	if c.GenderMismatch > 0 {
		cv.GenderMismatch = c.GenderMismatch
	}
	return cv
}

// Validate checks that the curve yields strictly positive weights and is
// monotonic in age distance and gender match.
func (c Curve) Validate() error {
	var errs []string
	if c.MinAgeFactor <= 0 {
		errs = append(errs, "min_age_factor must be > 0")
	}
	if c.MaxAgeFactor < c.MinAgeFactor {
		errs = append(errs, "max_age_factor must be >= min_age_factor")
	}
	if c.AgeScaleYears <= 0 {
		errs = append(errs, "age_scale_years must be > 0")
	}
	if c.GenderMismatch <= 0 {
		errs = append(errs, "gender_mismatch must be > 0")
	}
	if c.GenderMatch < c.GenderMismatch {
		errs = append(errs, "gender_match must be >= gender_mismatch")
	}
	if len(errs) > 0 {
		return eris.Errorf("weight: invalid curve: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Weight implements Strategy.
func (c Curve) Weight(victimAge *int, victimGender *model.Gender, requester model.Requester) float64 {
	return c.ageFactor(victimAge, requester.Age) * c.genderFactor(victimGender, requester.Gender)
}

func (c Curve) ageFactor(victimAge *int, requesterAge int) float64 {
	if victimAge == nil || *victimAge < 0 {
		return 1
	}
	dist := math.Abs(float64(*victimAge - requesterAge))
	return c.MinAgeFactor + (c.MaxAgeFactor-c.MinAgeFactor)*math.Exp(-dist/c.AgeScaleYears)
}

func (c Curve) genderFactor(victimGender *model.Gender, requesterGender model.Gender) float64 {
	if victimGender == nil {
		return 1
	}
	switch *victimGender {
	case model.GenderMale, model.GenderFemale:
	default:
		return 1
	}
	if *victimGender == requesterGender {
		return c.GenderMatch
	}
	return c.GenderMismatch
}
