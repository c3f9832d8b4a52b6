package reward

import (
	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/model"
)

// Aggregate folds sparse per-brief results into a dense [identity x brief]
// matrix pinned to the roster order. Identities outside the roster are
// dropped with a warning; absent cells stay zero. Callers must only pass
// briefs whose evaluation completed, so no partial column enters the matrix.
func Aggregate(roster []int, briefIDs []string, results map[string]map[int]float64) *model.ScoreMatrix {
	m := model.NewScoreMatrix(roster, briefIDs)

	rowByIdentity := make(map[int]int, len(roster))
	for i, id := range roster {
		rowByIdentity[id] = i
	}

	for j, briefID := range briefIDs {
		values, ok := results[briefID]
		if !ok {
			continue
		}
		for identity, usd := range values {
			row, ok := rowByIdentity[identity]
			if !ok {
				log.Warn().Int("identity", identity).Str("brief", briefID).
					Msg("identity missing from roster, allocation dropped")
				continue
			}
			m.Values[row][j] += usd
		}
	}
	return m
}
