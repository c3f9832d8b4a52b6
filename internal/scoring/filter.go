package scoring

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/model"
)

// Filter decides whether a content item is a valid submission for a brief.
// It applies only the deterministic criteria; semantic eligibility is the
// evaluator's concern.
type Filter struct {
	brief *model.Brief
}

// NewFilter builds the deterministic content filter for a brief.
func NewFilter(brief *model.Brief) *Filter {
	return &Filter{brief: brief}
}

// Check reports whether the item qualifies, with the rejection reason when it
// does not.
func (f *Filter) Check(item model.ContentItem) (bool, string) {
	if item.Reply {
		return false, "reply"
	}
	if item.Retweet || strings.HasPrefix(item.Text, "RT @") {
		return false, "pure retweet"
	}
	if !f.inWindow(item.CreatedAt) {
		return false, "outside brief window"
	}
	if lang := f.brief.Language; lang != "" {
		// Items without a detected language pass; only a conflicting
		// detection rejects.
		if item.Lang != "" && !strings.EqualFold(item.Lang, lang) {
			return false, "language mismatch"
		}
	}
	if tag := f.brief.Tag; tag != "" {
		if !strings.Contains(strings.ToLower(item.Text), strings.ToLower(tag)) {
			return false, "missing tag"
		}
	}
	if qrt := f.brief.RequiredQuoteID; qrt != "" {
		if !item.Quote || item.QuotedID != qrt {
			return false, "does not quote required content"
		}
	}
	return true, ""
}

// Apply filters a batch, logging a per-reason tally at debug level.
func (f *Filter) Apply(items []model.ContentItem) []model.ContentItem {
	out := make([]model.ContentItem, 0, len(items))
	reasons := make(map[string]int)
	for _, item := range items {
		ok, reason := f.Check(item)
		if !ok {
			reasons[reason]++
			continue
		}
		out = append(out, item)
	}
	if len(reasons) > 0 {
		log.Debug().
			Str("brief", f.brief.ID).
			Int("kept", len(out)).
			Interface("rejected", reasons).
			Msg("brief filter applied")
	}
	return out
}

func (f *Filter) inWindow(t time.Time) bool {
	u := t.UTC()
	day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(f.brief.StartDate.Time) && !day.After(f.brief.EndDate.Time)
}
