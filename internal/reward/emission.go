package reward

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/model"
	"github.com/pulserank/pulserank/internal/pricing"
)

// Calculator converts monetary targets into raw allocation weights via the
// pricing source: weight = usd / (price x unit supply for the period).
type Calculator struct {
	source pricing.Source
}

// NewCalculator wires the emission conversion to a pricing source.
func NewCalculator(source pricing.Source) *Calculator {
	return &Calculator{source: source}
}

// Convert returns a weight-denominated copy of a USD matrix. A pricing
// failure fails closed: the result is all-zero, never an error, so one bad
// lookup degrades the cycle instead of killing it.
func (c *Calculator) Convert(ctx context.Context, m *model.ScoreMatrix) *model.ScoreMatrix {
	out := model.NewScoreMatrix(m.Roster, m.BriefIDs)

	quote, err := c.source.Quote(ctx)
	if err != nil {
		log.Error().Err(err).Msg("pricing lookup failed, emitting zero weights")
		return out
	}

	denom := quote.PriceUSD * quote.UnitSupply
	if denom <= 0 {
		log.Error().Float64("price", quote.PriceUSD).Float64("supply", quote.UnitSupply).
			Msg("degenerate quote, emitting zero weights")
		return out
	}
	for i := range m.Values {
		for j, usd := range m.Values[i] {
			out.Values[i][j] = usd / denom
		}
	}
	return out
}

// Targets derives one emission target per brief from a USD matrix at the
// current rate, for reporting. A pricing failure yields zero weights here
// just as in Convert.
func (c *Calculator) Targets(ctx context.Context, m *model.ScoreMatrix) []model.EmissionTarget {
	targets := make([]model.EmissionTarget, len(m.BriefIDs))

	quote, err := c.source.Quote(ctx)
	denom := 0.0
	if err == nil {
		denom = quote.PriceUSD * quote.UnitSupply
	}

	for j, briefID := range m.BriefIDs {
		weights := make([]float64, len(m.Roster))
		total := 0.0
		for i := range m.Values {
			usd := m.Values[i][j]
			total += usd
			if denom > 0 {
				weights[i] = usd / denom
			}
		}
		targets[j] = model.EmissionTarget{BriefID: briefID, TotalUSD: total, Weights: weights}
	}
	return targets
}
