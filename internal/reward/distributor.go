package reward

import (
	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/faults"
	"github.com/pulserank/pulserank/internal/model"
)

// Distributor turns a weight matrix into the final reward vector: per-brief
// caps, the global cap, the sum-to-one correction on the zero identity, and
// the treasury carve-out. Any failure inside those steps maps to the same
// all-to-zero-identity fallback the orchestrator uses for total pipeline
// failure.
type Distributor struct {
	globalCap        float64
	treasuryFraction float64
	zeroIdentity     int
	treasuryIdentity int
}

// NewDistributor builds a distributor from the rewards config.
func NewDistributor(cfg config.RewardsConfig) *Distributor {
	globalCap := cfg.GlobalCap
	if globalCap <= 0 {
		globalCap = 1.0
	}
	return &Distributor{
		globalCap:        globalCap,
		treasuryFraction: cfg.TreasuryFraction,
		zeroIdentity:     cfg.ZeroIdentity,
		treasuryIdentity: cfg.TreasuryIdentity,
	}
}

// Distribute produces the reward vector for the matrix's roster. caps maps
// brief IDs to their per-brief allocation cap; briefs without an entry get
// the global cap. Cap scaling happens in place on m.
func (d *Distributor) Distribute(m *model.ScoreMatrix, caps map[string]float64) (model.RewardVector, error) {
	if err := m.Validate(); err != nil {
		return nil, faults.Integrity(err, "malformed score matrix")
	}
	if len(m.Roster) == 0 {
		return model.RewardVector{}, nil
	}
	for i := range m.Values {
		for j, w := range m.Values[i] {
			if w < 0 {
				return nil, faults.Integrity(nil, "negative weight %.9f for identity %d brief %s",
					w, m.Roster[i], m.BriefIDs[j])
			}
		}
	}

	// Per-brief caps: scale any over-budget column down to exactly its cap.
	for j, briefID := range m.BriefIDs {
		briefCap := d.globalCap
		if c, ok := caps[briefID]; ok && c > 0 {
			briefCap = c
		}
		colSum := m.ColumnSum(j)
		if colSum > briefCap {
			scale := briefCap / colSum
			for i := range m.Values {
				m.Values[i][j] *= scale
			}
			log.Info().Str("brief", briefID).Float64("cap", briefCap).Float64("uncapped", colSum).
				Msg("brief allocation capped")
		}
	}

	// Global cap: the whole matrix may not exceed the full emission.
	if total := m.Total(); total > d.globalCap {
		scale := d.globalCap / total
		for i := range m.Values {
			for j := range m.Values[i] {
				m.Values[i][j] *= scale
			}
		}
		log.Info().Float64("uncapped", total).Float64("cap", d.globalCap).
			Msg("global allocation capped")
	}

	vector := model.RewardVector(m.RowSums())

	// Sum-to-one correction: the zero identity absorbs whatever is left.
	zeroIdx, ok := indexOf(m.Roster, d.zeroIdentity)
	if !ok {
		return nil, faults.Configuration(nil, "zero identity %d not in roster", d.zeroIdentity)
	}
	others := vector.Sum() - vector[zeroIdx]
	remainder := 1.0 - others
	if remainder < 0 {
		remainder = 0
	}
	vector[zeroIdx] = remainder

	// Treasury transfer comes out of the zero identity, never anyone else.
	if d.treasuryFraction > 0 {
		transfer := d.treasuryFraction
		if vector[zeroIdx] < transfer {
			transfer = vector[zeroIdx]
		}
		treasuryIdx, ok := indexOf(m.Roster, d.treasuryIdentity)
		if !ok {
			return nil, faults.Configuration(nil, "treasury identity %d not in roster", d.treasuryIdentity)
		}
		vector[zeroIdx] -= transfer
		vector[treasuryIdx] += transfer
	}

	if err := vector.Validate(); err != nil {
		return nil, faults.Computation(err, "distribution produced invalid vector")
	}
	return vector, nil
}

// Fallback returns the guaranteed-valid vector: everything on the zero
// identity. It never fails; an unknown zero identity degrades to the first
// roster slot so the caller always has something submittable.
func (d *Distributor) Fallback(roster []int) model.RewardVector {
	vector := make(model.RewardVector, len(roster))
	if len(roster) == 0 {
		return vector
	}
	idx, ok := indexOf(roster, d.zeroIdentity)
	if !ok {
		log.Warn().Int("zero_identity", d.zeroIdentity).
			Msg("zero identity missing from roster, fallback uses first slot")
		idx = 0
	}
	vector[idx] = 1.0
	return vector
}

func indexOf(roster []int, identity int) (int, bool) {
	for i, id := range roster {
		if id == identity {
			return i, true
		}
	}
	return 0, false
}
