package loopunroll

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile(strings.NewReader("10\n\n200\n3000\n"))
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 200, 3000}, p.Counts)

	_, err = ParseProfile(strings.NewReader("10\nx\n"))
	require.Error(t, err)
}

func TestThresholds_ExponentialSeries(t *testing.T) {
	// Counts on an exact exponential: the fit reproduces the curve and
	// the pivots are ordered hot > mid > cold.
	p := &Profile{}
	for i := 0; i < 16; i++ {
		p.Counts = append(p.Counts, uint64(math.Round(math.Exp(float64(i)/2))))
	}
	th := p.Thresholds(false)
	require.Greater(t, th.Hot, th.Mid)
	require.Greater(t, th.Mid, th.Cold)

	// The hot pivot sits at rank 12 of 16: within a factor accounting for
	// rounding, exp(12/2).
	require.InEpsilon(t, math.Exp(6), th.Hot, 0.25)
}

func TestThresholds_DescendingVariant(t *testing.T) {
	p := &Profile{Counts: []uint64{1, 10, 100, 1000, 10000, 100000, 1000000, 10000000}}
	asc := p.Thresholds(false)
	desc := p.Thresholds(true)
	require.Greater(t, asc.Hot, asc.Cold)
	require.Greater(t, desc.Hot, desc.Cold)
}

func TestThresholds_Degenerate(t *testing.T) {
	require.Zero(t, (&Profile{}).Thresholds(false))

	// A single count puts every pivot on the same value.
	th := (&Profile{Counts: []uint64{50}}).Thresholds(false)
	require.Equal(t, th.Hot, th.Mid)
	require.Equal(t, th.Mid, th.Cold)

	// Zero counts are clamped before the logarithm.
	th = (&Profile{Counts: []uint64{0, 0, 0, 0}}).Thresholds(false)
	require.False(t, math.IsNaN(th.Hot))
	require.False(t, math.IsInf(th.Hot, 0))
}

func TestFactorFor(t *testing.T) {
	th := Thresholds{Hot: 1000, Mid: 100, Cold: 10}
	require.Equal(t, int64(4), th.FactorFor(5000))
	require.Equal(t, int64(4), th.FactorFor(1000))
	require.Equal(t, int64(2), th.FactorFor(500))
	require.Equal(t, int64(0), th.FactorFor(50))
}
