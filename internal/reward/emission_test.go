package reward

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulserank/pulserank/internal/faults"
	"github.com/pulserank/pulserank/internal/pricing"
)

type failingSource struct{}

func (failingSource) Quote(context.Context) (*pricing.Quote, error) {
	return nil, faults.Transient(nil, "pricing endpoint down")
}

func TestConvert_DividesByEmissionValue(t *testing.T) {
	c := NewCalculator(pricing.Static{PriceUSD: 2, UnitSupply: 1000})

	m := matrixOf([]int{0, 7}, []string{"b1"}, map[int]map[string]float64{
		7: {"b1": 700},
	})

	out := c.Convert(context.Background(), m)
	require.NoError(t, out.Validate())

	assert.InDelta(t, 0.35, out.Values[1][0], 1e-9)
	assert.Zero(t, out.Values[0][0])
	assert.Equal(t, 700.0, m.Values[1][0], "input matrix untouched")
}

func TestConvert_PricingFailureFailsClosed(t *testing.T) {
	c := NewCalculator(failingSource{})

	m := matrixOf([]int{0, 7}, []string{"b1"}, map[int]map[string]float64{
		7: {"b1": 700},
	})

	out := c.Convert(context.Background(), m)
	require.NoError(t, out.Validate())
	assert.Zero(t, out.Total(), "no pricing means zero weights, never an error")
	assert.Len(t, out.Values, 2)
}

func TestConvert_DegenerateQuoteFailsClosed(t *testing.T) {
	c := NewCalculator(pricing.Static{PriceUSD: 0, UnitSupply: 0})

	m := matrixOf([]int{0, 7}, []string{"b1"}, map[int]map[string]float64{
		7: {"b1": 700},
	})

	out := c.Convert(context.Background(), m)
	require.NoError(t, out.Validate())
	assert.Zero(t, out.Total(), "zero price never divides through to NaN")
}

func TestTargets_PerBriefTotals(t *testing.T) {
	c := NewCalculator(pricing.Static{PriceUSD: 1, UnitSupply: 1000})

	m := matrixOf([]int{0, 7, 9}, []string{"b1", "b2"}, map[int]map[string]float64{
		7: {"b1": 600, "b2": 50},
		9: {"b1": 100},
	})

	targets := c.Targets(context.Background(), m)
	require.Len(t, targets, 2)

	assert.Equal(t, "b1", targets[0].BriefID)
	assert.InDelta(t, 700.0, targets[0].TotalUSD, 1e-9)
	assert.InDelta(t, 0.6, targets[0].Weights[1], 1e-9)
	assert.InDelta(t, 50.0, targets[1].TotalUSD, 1e-9)
}

func TestTargets_PricingFailureZeroesWeights(t *testing.T) {
	c := NewCalculator(failingSource{})

	m := matrixOf([]int{7}, []string{"b1"}, map[int]map[string]float64{
		7: {"b1": 700},
	})

	targets := c.Targets(context.Background(), m)
	require.Len(t, targets, 1)
	assert.InDelta(t, 700.0, targets[0].TotalUSD, 1e-9, "USD totals survive a pricing outage")
	assert.Zero(t, targets[0].Weights[0])
}
