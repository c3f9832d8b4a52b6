package discovery

import (
	"sort"

	"github.com/pulserank/pulserank/internal/model"
)

// MembershipParams bound who can enter the active pool.
type MembershipParams struct {
	MaxMembers           int
	MinInteractionWeight float64
}

// AssignMembership computes each scored account's membership status for this
// run. Accounts meeting the interaction-weight threshold compete for the top
// MaxMembers slots by score. Previous statuses drive the transition labels;
// a nil previous map marks the first run, which only produces promoted/out.
func AssignMembership(scores map[string]float64, interactionWeights map[string]float64, previous map[string]model.MemberStatus, params MembershipParams) map[string]model.Account {
	type candidate struct {
		name  string
		score float64
	}

	eligible := make([]candidate, 0, len(scores))
	for name, score := range scores {
		if interactionWeights[name] >= params.MinInteractionWeight {
			eligible = append(eligible, candidate{name, score})
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].score != eligible[j].score {
			return eligible[i].score > eligible[j].score
		}
		return eligible[i].name < eligible[j].name
	})

	max := params.MaxMembers
	if max <= 0 || max > len(eligible) {
		max = len(eligible)
	}
	active := make(map[string]struct{}, max)
	for _, c := range eligible[:max] {
		active[c.name] = struct{}{}
	}

	firstRun := previous == nil
	out := make(map[string]model.Account, len(scores))
	for name, score := range scores {
		_, isActive := active[name]
		wasActive := false
		if !firstRun {
			wasActive = previous[name].Active()
		}

		var status model.MemberStatus
		switch {
		case isActive && firstRun:
			status = model.StatusPromoted
		case isActive && wasActive:
			status = model.StatusIn
		case isActive:
			status = model.StatusPromoted
		case wasActive:
			status = model.StatusRelegated
		default:
			status = model.StatusOut
		}

		out[name] = model.Account{
			Username:          name,
			Score:             score,
			Status:            status,
			InteractionWeight: interactionWeights[name],
		}
	}
	return out
}
