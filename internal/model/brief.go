package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BriefState is the lifecycle phase a brief is in on a given day.
type BriefState string

const (
	// StateMonitoring covers the content window plus the settle delay;
	// content is scored and published but no money moves.
	StateMonitoring BriefState = "monitoring"
	// StateReward is the emission window in which the snapshot pays out.
	StateReward BriefState = "reward"
	// StateInactive covers everything outside both windows.
	StateInactive BriefState = "inactive"
)

// BriefDate is a UTC calendar date marshalled as YYYY-MM-DD.
type BriefDate struct {
	time.Time
}

const briefDateLayout = "2006-01-02"

// NewBriefDate builds a date at UTC midnight.
func NewBriefDate(year int, month time.Month, day int) BriefDate {
	return BriefDate{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// UnmarshalJSON parses YYYY-MM-DD, tolerating full RFC 3339 timestamps.
func (d *BriefDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.ParseInLocation(briefDateLayout, s, time.UTC)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid brief date %q: %w", s, err)
		}
	}
	d.Time = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return nil
}

// MarshalJSON renders the date as YYYY-MM-DD.
func (d BriefDate) MarshalJSON() ([]byte, error) {
	if d.Time.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(d.Time.Format(briefDateLayout))
}

// Brief is a paid campaign spec: a budget paid out over a fixed emission
// period to content matching the brief within its date window.
type Brief struct {
	ID        string    `json:"id"`
	Pool      string    `json:"pool"`
	BudgetUSD float64   `json:"budget_usd"`
	StartDate BriefDate `json:"start_date"`
	EndDate   BriefDate `json:"end_date"`
	Text      string    `json:"brief_text"`

	// Optional content filters.
	Tag             string `json:"tag,omitempty"`
	RequiredQuoteID string `json:"qrt,omitempty"`
	Language        string `json:"language,omitempty"`

	// MaxCap bounds the brief's share of the final reward vector.
	MaxCap   float64 `json:"max_cap,omitempty"`
	Boost    float64 `json:"boost,omitempty"`
	MaxItems int     `json:"max_items,omitempty"`

	State BriefState `json:"state,omitempty"`
}

// Validate rejects briefs that cannot be evaluated.
func (b *Brief) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("brief missing id")
	}
	if strings.TrimSpace(b.Pool) == "" {
		return fmt.Errorf("brief %s missing pool", b.ID)
	}
	if b.BudgetUSD < 0 {
		return fmt.Errorf("brief %s has negative budget %.2f", b.ID, b.BudgetUSD)
	}
	if b.StartDate.IsZero() || b.EndDate.IsZero() {
		return fmt.Errorf("brief %s missing date window", b.ID)
	}
	if b.EndDate.Before(b.StartDate.Time) {
		return fmt.Errorf("brief %s ends %s before it starts %s",
			b.ID, b.EndDate.Format(briefDateLayout), b.StartDate.Format(briefDateLayout))
	}
	if b.MaxCap < 0 || b.MaxCap > 1 {
		return fmt.Errorf("brief %s cap %.4f outside [0,1]", b.ID, b.MaxCap)
	}
	return nil
}

// DailyBudget is the budget split evenly across the emission period.
func (b *Brief) DailyBudget(emissionDays int) float64 {
	if emissionDays <= 0 {
		return 0
	}
	return b.BudgetUSD / float64(emissionDays)
}

// EffectiveBoost returns the score multiplier, defaulting to 1.
func (b *Brief) EffectiveBoost() float64 {
	if b.Boost <= 0 {
		return 1
	}
	return b.Boost
}

// EffectiveCap returns the per-brief reward cap, defaulting to the global 1.0.
func (b *Brief) EffectiveCap() float64 {
	if b.MaxCap <= 0 {
		return 1
	}
	return b.MaxCap
}

// ParseBrief decodes and validates a single brief from JSON.
func ParseBrief(data []byte) (*Brief, error) {
	var b Brief
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode brief: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// ParseBriefs decodes a brief feed, dropping invalid entries rather than
// failing the whole feed. The error count is returned alongside.
func ParseBriefs(data []byte) ([]*Brief, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Some feeds wrap the list in an envelope.
		var envelope struct {
			Briefs []json.RawMessage `json:"briefs"`
		}
		if err2 := json.Unmarshal(data, &envelope); err2 != nil || envelope.Briefs == nil {
			return nil, 0, fmt.Errorf("failed to decode brief feed: %w", err)
		}
		raw = envelope.Briefs
	}

	briefs := make([]*Brief, 0, len(raw))
	dropped := 0
	for _, msg := range raw {
		b, err := ParseBrief(msg)
		if err != nil {
			dropped++
			continue
		}
		briefs = append(briefs, b)
	}
	return briefs, dropped, nil
}
