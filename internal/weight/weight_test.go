package weight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crimesafe/internal/config"
	"github.com/sells-group/crimesafe/internal/model"
)

func intPtr(v int) *int { return &v }

func genderPtr(g model.Gender) *model.Gender { return &g }

var youngMan = model.Requester{Age: 25, Gender: model.GenderMale}

func TestWeight_MatchingProfileOutweighsDistantProfile(t *testing.T) {
	c := DefaultCurve()
	near := c.Weight(intPtr(25), genderPtr(model.GenderMale), youngMan)
	far := c.Weight(intPtr(70), genderPtr(model.GenderFemale), youngMan)

	assert.Greater(t, near, far)
	assert.InDelta(t, 1.875, near, 0.0001)
	assert.InDelta(t, 0.44, far, 0.01)
}

func TestWeight_UnknownDemographicsAreNeutral(t *testing.T) {
	c := DefaultCurve()
	assert.Equal(t, Neutral, c.Weight(nil, nil, youngMan))
	assert.Equal(t, Neutral, c.Weight(nil, genderPtr(model.GenderUnknown), youngMan))
	assert.Equal(t, Neutral, c.Weight(intPtr(-1), genderPtr("X"), youngMan))
}

func TestWeight_MonotonicInAgeDistance(t *testing.T) {
	c := DefaultCurve()
	prev := c.Weight(intPtr(25), nil, youngMan)
	for age := 26; age <= 100; age++ {
		w := c.Weight(intPtr(age), nil, youngMan)
		assert.Less(t, w, prev, "age %d", age)
		prev = w
	}
	// Symmetric around the requester's age.
	assert.InDelta(t, c.Weight(intPtr(15), nil, youngMan), c.Weight(intPtr(35), nil, youngMan), 1e-12)
}

func TestWeight_GenderMatchIncreasesWeight(t *testing.T) {
	c := DefaultCurve()
	for _, age := range []int{5, 25, 60} {
		match := c.Weight(intPtr(age), genderPtr(model.GenderMale), youngMan)
		miss := c.Weight(intPtr(age), genderPtr(model.GenderFemale), youngMan)
		assert.Greater(t, match, miss, "age %d", age)
	}
}

func TestWeight_AlwaysPositive(t *testing.T) {
	c := DefaultCurve()
	req := model.Requester{Age: 0, Gender: model.GenderFemale}
	for age := 0; age <= 120; age += 5 {
		for _, g := range []model.Gender{model.GenderMale, model.GenderFemale, model.GenderUnknown} {
			assert.Greater(t, c.Weight(intPtr(age), genderPtr(g), req), 0.0)
		}
	}
}

func TestCurve_Validate(t *testing.T) {
	require.NoError(t, DefaultCurve().Validate())

	bad := Curve{MinAgeFactor: 0, MaxAgeFactor: -1, AgeScaleYears: 0, GenderMatch: 0.5, GenderMismatch: 0.8}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_age_factor must be > 0")
	assert.Contains(t, err.Error(), "max_age_factor must be >= min_age_factor")
	assert.Contains(t, err.Error(), "age_scale_years must be > 0")
	assert.Contains(t, err.Error(), "gender_match must be >= gender_mismatch")
}

func TestFromConfig(t *testing.T) {
	assert.Equal(t, DefaultCurve(), FromConfig(config.WeightingConfig{}))

	c := FromConfig(config.WeightingConfig{AgeScaleYears: 5, GenderMatch: 2})
	assert.InDelta(t, 5, c.AgeScaleYears, 0)
	assert.InDelta(t, 2, c.GenderMatch, 0)
	assert.InDelta(t, 0.8, c.GenderMismatch, 0)
}

func TestCurve_ImplementsStrategy(t *testing.T) {
	var s Strategy = DefaultCurve()
	assert.NotNil(t, s)
}
