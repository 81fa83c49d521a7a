package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSoilADCToPct_Endpoints(t *testing.T) {
	assert.InDelta(t, 49.83, SoilADCToPct(SoilCalADCMin), 0.1)
	assert.InDelta(t, 16.30, SoilADCToPct(SoilCalADCMax), 0.1)
}

func TestSoilADCToPct_MonotonicAndClamped(t *testing.T) {
	prev := SoilADCToPct(-1000)
	assert.Equal(t, 100.0, prev)

	for adc := -1000.0; adc <= 5000; adc += 0.5 {
		pct := SoilADCToPct(adc)
		assert.GreaterOrEqual(t, pct, 0.0)
		assert.LessOrEqual(t, pct, 100.0)
		if pct > prev {
			t.Fatalf("not monotonic at adc=%v: %v > %v", adc, pct, prev)
		}
		prev = pct
	}
}

func TestSoilADCToPct_NonFinite(t *testing.T) {
	assert.Equal(t, 0.0, SoilADCToPct(math.NaN()))
	assert.Equal(t, 0.0, SoilADCToPct(math.Inf(1)))
	assert.Equal(t, 100.0, SoilADCToPct(math.Inf(-1)))
	assert.False(t, SoilADCInRange(math.NaN()))
}

func TestSoilADCInRange(t *testing.T) {
	assert.True(t, SoilADCInRange(SoilCalADCMin))
	assert.True(t, SoilADCInRange(600))
	assert.True(t, SoilADCInRange(SoilCalADCMax))
	assert.False(t, SoilADCInRange(389.9))
	assert.False(t, SoilADCInRange(1023))
}
