package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chanaliuxing/dirtyapply/pkg/plan"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{name: "identical", a: "first_name", b: "first_name", min: 1, max: 1},
		{name: "separator variants", a: "first-name", b: "first_name", min: 1, max: 1},
		{name: "case insensitive", a: "First Name", b: "first_name", min: 1, max: 1},
		{name: "token overlap", a: "email address", b: "address email", min: 1, max: 1},
		{name: "partial overlap", a: "your first name", b: "first name", min: 0.6, max: 0.9},
		{name: "unrelated", a: "referral code", b: "first name", min: 0, max: 0.5},
		{name: "empty", a: "", b: "first name", min: 0, max: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := plan.Similarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
			assert.Equal(t, got, plan.Similarity(tt.b, tt.a), "similarity must be symmetric")
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, plan.KindNone, plan.Classify(nil))
	assert.Equal(t, plan.KindQuotaExceeded, plan.Classify(plan.ErrQuotaExceeded))
	assert.Equal(t, plan.KindWaitTimeout, plan.Classify(plan.ErrWaitTimeout))
	assert.Equal(t, plan.KindUnknown, plan.Classify(assert.AnError))
}
