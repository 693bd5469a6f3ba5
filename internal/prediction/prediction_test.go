package prediction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictBandsMonotonicInK(t *testing.T) {
	caps := []float64{4, 4, 4, 4}
	bands := make([]Band, 5)
	Predict(bands, 500, 5, 10, 4, caps)

	require.Len(t, bands, 5)
	for k := 0; k < 4; k++ {
		assert.Less(t, bands[k].Min, bands[k+1].Min, "min band should grow with more pumps")
		assert.Less(t, bands[k].Max, bands[k+1].Max, "max band should grow with more pumps")
	}
}

func TestPredictZeroPumpsMatchesFormula(t *testing.T) {
	caps := []float64{4, 4, 4, 4}
	bands := make([]Band, 5)
	Predict(bands, 500, 5, 10, 4, caps)

	assert.Equal(t, 500.0+5*0-5*10, bands[0].Min)
	assert.Equal(t, 500.0+5*0-5*5, bands[0].Max)
}

func TestPredictFullPumpsMatchesFormula(t *testing.T) {
	caps := []float64{4, 4, 4, 4}
	bands := make([]Band, 5)
	Predict(bands, 500, 5, 10, 4, caps)

	assert.Equal(t, 500.0+5*16-5*10, bands[4].Min)
	assert.Equal(t, 500.0+5*16-5*5, bands[4].Max)
}

func TestChoosePrefersClosestMidpoint(t *testing.T) {
	bands := []Band{
		{Min: 0, Max: 0},   // midpoint 0
		{Min: 10, Max: 10}, // midpoint 10
		{Min: -10, Max: -10}, // midpoint -10, same distance as k=1 from target 0
	}
	assert.Equal(t, 0, Choose(bands, 0))
	assert.Equal(t, 1, Choose(bands, 9))
	assert.Equal(t, 2, Choose(bands, -9))
}

func TestChooseTieBreaksSmallerK(t *testing.T) {
	bands := []Band{
		{Min: -5, Max: -5},
		{Min: 5, Max: 5},
	}
	assert.Equal(t, 0, Choose(bands, 0))
}
