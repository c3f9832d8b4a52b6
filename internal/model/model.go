// Package model holds the core data types shared across the reward engine:
// accounts and their influence scores, interaction edges, content items,
// briefs, snapshots and the matrices the distribution pipeline operates on.
package model

import (
	"fmt"
	"time"
)

// MemberStatus tracks an account's pool membership across discovery runs.
type MemberStatus string

const (
	// StatusIn marks an account that was active before and stays active.
	StatusIn MemberStatus = "in"
	// StatusOut marks an account that is not in the active pool.
	StatusOut MemberStatus = "out"
	// StatusPromoted marks an account newly entering the active pool.
	StatusPromoted MemberStatus = "promoted"
	// StatusRelegated marks an account that just dropped out of the active pool.
	StatusRelegated MemberStatus = "relegated"
)

// ValidStatus reports whether s is one of the four membership states.
func ValidStatus(s MemberStatus) bool {
	switch s {
	case StatusIn, StatusOut, StatusPromoted, StatusRelegated:
		return true
	}
	return false
}

// Active reports whether the status counts toward the active pool.
func (s MemberStatus) Active() bool {
	return s == StatusIn || s == StatusPromoted
}

// Account is a tracked social account within a pool.
type Account struct {
	Username          string       `json:"username"`
	Score             float64      `json:"score"`
	Status            MemberStatus `json:"status"`
	InteractionWeight float64      `json:"interaction_weight"`
}

// InteractionEdge is a directed interaction between two accounts. Weight is
// the maximum across interaction types observed for the ordered pair within
// one discovery run, never the sum.
type InteractionEdge struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Weight float64 `json:"weight"`
}

// ContentItem is a single piece of content fetched from the social platform.
type ContentItem struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Lang      string    `json:"lang,omitempty"`

	Retweet bool `json:"retweet,omitempty"`
	Quote   bool `json:"quote,omitempty"`
	Reply   bool `json:"reply,omitempty"`

	// IDs of the content this item retweets or quotes, when applicable.
	RetweetedID string `json:"retweeted_id,omitempty"`
	QuotedID    string `json:"quoted_id,omitempty"`

	// Authors of the content this item retweets or quotes.
	RetweetedUser string `json:"retweeted_user,omitempty"`
	QuotedUser    string `json:"quoted_user,omitempty"`

	// Accounts the author mentioned in the text.
	Mentions []string `json:"mentions,omitempty"`

	RetweetCount int `json:"retweet_count,omitempty"`
	QuoteCount   int `json:"quote_count,omitempty"`
	ReplyCount   int `json:"reply_count,omitempty"`
	LikeCount    int `json:"like_count,omitempty"`

	// Usernames that engaged with this item, by engagement type.
	RetweetedBy []string `json:"retweeted_by,omitempty"`
	QuotedBy    []string `json:"quoted_by,omitempty"`

	// Author follower count at fetch time, when the provider embeds it.
	AuthorFollowers int `json:"author_followers,omitempty"`

	Score float64 `json:"score,omitempty"`
}

// ScoredItem pairs a content item with its computed engagement value and the
// identity it pays out to.
type ScoredItem struct {
	ContentID string  `json:"content_id"`
	Author    string  `json:"author"`
	Identity  int     `json:"identity"`
	Score     float64 `json:"score"`
	DailyUSD  float64 `json:"daily_usd"`
	TotalUSD  float64 `json:"total_usd"`
}

// SnapshotRecord is one frozen allocation line inside a reward snapshot.
type SnapshotRecord struct {
	ContentID string  `json:"content_id"`
	Author    string  `json:"author"`
	Identity  int     `json:"identity"`
	Score     float64 `json:"score"`
	TotalUSD  float64 `json:"total_usd"`
}

// RewardSnapshot freezes the first reward-phase evaluation of a brief so
// subsequent cycles repeat the same payout instead of rescoring.
type RewardSnapshot struct {
	BriefID   string           `json:"brief_id"`
	Pool      string           `json:"pool"`
	Seq       uint64           `json:"seq"`
	CreatedAt time.Time        `json:"created_at"`
	Records   []SnapshotRecord `json:"records"`
	TotalUSD  float64          `json:"total_usd"`
}

// DailyPayout returns the constant per-day payout derived from the snapshot
// total over the emission period.
func (s *RewardSnapshot) DailyPayout(emissionDays int) float64 {
	if emissionDays <= 0 {
		return 0
	}
	return s.TotalUSD / float64(emissionDays)
}

// ScoreMatrix is a dense [identity][brief] matrix of USD values. Row order is
// pinned to the roster order the reward vector will be submitted against.
type ScoreMatrix struct {
	Roster   []int       `json:"roster"`
	BriefIDs []string    `json:"brief_ids"`
	Values   [][]float64 `json:"values"`
}

// NewScoreMatrix allocates a zeroed matrix for the given roster and briefs.
func NewScoreMatrix(roster []int, briefIDs []string) *ScoreMatrix {
	values := make([][]float64, len(roster))
	for i := range values {
		values[i] = make([]float64, len(briefIDs))
	}
	return &ScoreMatrix{
		Roster:   append([]int(nil), roster...),
		BriefIDs: append([]string(nil), briefIDs...),
		Values:   values,
	}
}

// ColumnSum returns the total allocated to one brief across all identities.
func (m *ScoreMatrix) ColumnSum(col int) float64 {
	var sum float64
	for i := range m.Values {
		sum += m.Values[i][col]
	}
	return sum
}

// RowSums collapses the matrix into one value per identity.
func (m *ScoreMatrix) RowSums() []float64 {
	sums := make([]float64, len(m.Values))
	for i := range m.Values {
		for j := range m.Values[i] {
			sums[i] += m.Values[i][j]
		}
	}
	return sums
}

// Total returns the grand total across the whole matrix.
func (m *ScoreMatrix) Total() float64 {
	var sum float64
	for i := range m.Values {
		for j := range m.Values[i] {
			sum += m.Values[i][j]
		}
	}
	return sum
}

// Validate checks the matrix shape against its roster and brief list.
func (m *ScoreMatrix) Validate() error {
	if len(m.Values) != len(m.Roster) {
		return fmt.Errorf("score matrix has %d rows for %d roster identities", len(m.Values), len(m.Roster))
	}
	for i, row := range m.Values {
		if len(row) != len(m.BriefIDs) {
			return fmt.Errorf("score matrix row %d has %d columns for %d briefs", i, len(row), len(m.BriefIDs))
		}
	}
	return nil
}

// EmissionTarget is a brief's total USD target plus the raw per-identity
// weight vector it converts to at the current exchange rate.
type EmissionTarget struct {
	BriefID  string    `json:"brief_id"`
	TotalUSD float64   `json:"total_usd"`
	Weights  []float64 `json:"weights"`
}

// RewardVector is the final per-identity weight vector for one cycle.
type RewardVector []float64

// Sum returns the vector total.
func (v RewardVector) Sum() float64 {
	var sum float64
	for _, w := range v {
		sum += w
	}
	return sum
}

// Validate rejects vectors with negative entries or a total that is neither
// zero nor one.
func (v RewardVector) Validate() error {
	for i, w := range v {
		if w < 0 {
			return fmt.Errorf("reward vector entry %d is negative: %f", i, w)
		}
	}
	sum := v.Sum()
	if sum == 0 {
		return nil
	}
	if diff := sum - 1.0; diff > 1e-9 || diff < -1e-9 {
		return fmt.Errorf("reward vector sums to %.12f, want 1.0", sum)
	}
	return nil
}
