package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/pulserank/pulserank/internal/model"
)

// Params holds the engagement-scoring weights.
type Params struct {
	BaselineFactor float64
	RetweetWeight  float64
	QuoteWeight    float64
}

// DefaultParams returns the production scoring weights.
func DefaultParams() Params {
	return Params{BaselineFactor: 2.0, RetweetWeight: 1.0, QuoteWeight: 3.0}
}

// EngagementKind distinguishes the two counted engagement types.
type EngagementKind int

const (
	EngageRetweet EngagementKind = iota
	EngageQuote
)

// Scorer turns engagement by high-influence accounts into a content score.
// Only the considered set contributes; everyone else is invisible to scoring.
type Scorer struct {
	params        Params
	influence     map[string]float64
	minConsidered float64
	pairs         PairWeights
}

// NewScorer builds a scorer over the considered influence map. pairs may be
// nil when no relationship data is available, disabling dampening.
func NewScorer(considered map[string]float64, pairs PairWeights, params Params) *Scorer {
	min := 0.0
	first := true
	influence := make(map[string]float64, len(considered))
	for name, score := range considered {
		influence[strings.ToLower(name)] = score
		if first || score < min {
			min = score
			first = false
		}
	}
	return &Scorer{
		params:        params,
		influence:     influence,
		minConsidered: min,
		pairs:         pairs,
	}
}

// CollectEngagements scans the considered accounts' own content for retweets
// and quotes of the target item. A quote supersedes a retweet by the same
// account.
func (s *Scorer) CollectEngagements(target model.ContentItem, content map[string][]model.ContentItem) map[string]EngagementKind {
	out := make(map[string]EngagementKind)
	for account, items := range content {
		account = strings.ToLower(account)
		if _, considered := s.influence[account]; !considered {
			continue
		}
		for _, item := range items {
			if item.Quote && item.QuotedID == target.ID {
				out[account] = EngageQuote
				break
			}
			if item.Retweet && item.RetweetedID == target.ID {
				out[account] = EngageRetweet
				// Keep scanning: a later quote still wins.
			}
		}
	}
	return out
}

// EngagementsFromItem reads the engager lists the content API attaches to an
// item directly. Quotes supersede retweets here too.
func EngagementsFromItem(item model.ContentItem) map[string]EngagementKind {
	out := make(map[string]EngagementKind, len(item.RetweetedBy)+len(item.QuotedBy))
	for _, account := range item.RetweetedBy {
		out[strings.ToLower(account)] = EngageRetweet
	}
	for _, account := range item.QuotedBy {
		out[strings.ToLower(account)] = EngageQuote
	}
	return out
}

// Score computes an item's engagement score: a baseline from the author's own
// influence plus one dampened contribution per engaging considered account.
// Self-engagement and the exclusion set are skipped; boost multiplies the
// final value. The result is rounded to 6 decimals.
func (s *Scorer) Score(item model.ContentItem, engagements map[string]EngagementKind, exclude map[string]struct{}, boost float64) float64 {
	author := strings.ToLower(item.Author)
	authorInfluence, ok := s.influence[author]
	if !ok {
		authorInfluence = s.minConsidered
	}
	total := authorInfluence * s.params.BaselineFactor

	for engager, kind := range engagements {
		if engager == author {
			continue
		}
		if _, skip := exclude[engager]; skip {
			continue
		}
		engagerInfluence, considered := s.influence[engager]
		if !considered {
			continue
		}
		weight := s.params.RetweetWeight
		if kind == EngageQuote {
			weight = s.params.QuoteWeight
		}
		damp := 1.0
		if s.pairs != nil {
			damp = DampFactor(s.pairs.PairWeight(engager, author))
		}
		total += engagerInfluence * weight * damp
	}

	if boost <= 0 {
		boost = 1
	}
	return round6(total * boost)
}

// ScoreItems scores a batch, dropping items that fail to score positive and
// returning the survivors ordered best first.
func (s *Scorer) ScoreItems(items []model.ContentItem, engagements func(model.ContentItem) map[string]EngagementKind, exclude map[string]struct{}, boost float64) []model.ScoredItem {
	scored := make([]model.ScoredItem, 0, len(items))
	for _, item := range items {
		score := s.Score(item, engagements(item), exclude, boost)
		if score <= 0 {
			continue
		}
		scored = append(scored, model.ScoredItem{
			ContentID: item.ID,
			Author:    strings.ToLower(item.Author),
			Score:     score,
		})
	}
	sortScored(scored)
	return scored
}

func sortScored(items []model.ScoredItem) {
	// Deterministic order: score descending, content id ascending on ties.
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ContentID < items[j].ContentID
	})
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
