package discovery

import (
	"sort"
	"time"

	"github.com/pulserank/pulserank/internal/model"
)

// SocialMap is the immutable output of one discovery run: the ranked account
// set and the adjacency matrix the scorer's cabal dampening reads.
type SocialMap struct {
	Pool      string                   `json:"pool"`
	RunID     string                   `json:"run_id"`
	CreatedAt time.Time                `json:"created_at"`
	Accounts  map[string]model.Account `json:"accounts"`
	Nodes     []string                 `json:"nodes"`
	Adjacency [][]float64              `json:"adjacency"`
	Meta      SocialMapMeta            `json:"metadata"`
}

// SocialMapMeta records run statistics for observability.
type SocialMapMeta struct {
	AccountsFetched int           `json:"accounts_fetched"`
	FetchFailures   int           `json:"fetch_failures"`
	EdgeCount       int           `json:"edge_count"`
	ActiveMembers   int           `json:"active_members"`
	Duration        time.Duration `json:"duration_ns"`
}

// ActiveMembers returns the sorted usernames with an active status.
func (m *SocialMap) ActiveMembers() []string {
	var out []string
	for name, acct := range m.Accounts {
		if acct.Status.Active() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// RelegatedMembers returns the sorted usernames relegated in this run.
func (m *SocialMap) RelegatedMembers() []string {
	var out []string
	for name, acct := range m.Accounts {
		if acct.Status == model.StatusRelegated {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Considered returns the top-n accounts by influence as a username→score map,
// independent of membership status.
func (m *SocialMap) Considered(n int) map[string]float64 {
	type pair struct {
		name  string
		score float64
	}
	pairs := make([]pair, 0, len(m.Accounts))
	for name, acct := range m.Accounts {
		pairs = append(pairs, pair{name, acct.Score})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		return pairs[i].name < pairs[j].name
	})
	if n > len(pairs) || n <= 0 {
		n = len(pairs)
	}
	out := make(map[string]float64, n)
	for _, p := range pairs[:n] {
		out[p.name] = p.score
	}
	return out
}

// PairWeight returns the bidirectional relationship strength between two
// accounts: the sum of the adjacency weights in both directions.
func (m *SocialMap) PairWeight(a, b string) float64 {
	ia, ok := m.nodeIndex(a)
	if !ok {
		return 0
	}
	ib, ok := m.nodeIndex(b)
	if !ok {
		return 0
	}
	return m.Adjacency[ia][ib] + m.Adjacency[ib][ia]
}

func (m *SocialMap) nodeIndex(name string) (int, bool) {
	// Nodes are sorted; binary search keeps hot scoring paths cheap.
	lo, hi := 0, len(m.Nodes)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.Nodes[mid] < name {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(m.Nodes) && m.Nodes[lo] == name {
		return lo, true
	}
	return 0, false
}

// Statuses extracts just the membership statuses, the shape the next run's
// membership diff consumes.
func (m *SocialMap) Statuses() map[string]model.MemberStatus {
	out := make(map[string]model.MemberStatus, len(m.Accounts))
	for name, acct := range m.Accounts {
		out[name] = acct.Status
	}
	return out
}
