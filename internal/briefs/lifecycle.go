package briefs

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/model"
)

// Lifecycle classifies briefs into their phase by UTC calendar date. The
// delay lets late engagement settle before any money commits; the emission
// period bounds every brief's payout horizon.
type Lifecycle struct {
	DelayDays    int
	EmissionDays int
}

// NewLifecycle builds a classifier with the configured windows.
func NewLifecycle(delayDays, emissionDays int) Lifecycle {
	return Lifecycle{DelayDays: delayDays, EmissionDays: emissionDays}
}

// Classify returns the brief's state on the given day. All bounds are
// inclusive: the last monitoring day is end+delay, the first reward day is
// end+delay+1, and the last reward day is end+delay+emission.
func (l Lifecycle) Classify(b *model.Brief, now time.Time) model.BriefState {
	today := utcDay(now)
	start := b.StartDate.Time
	monitorEnd := b.EndDate.AddDate(0, 0, l.DelayDays)
	rewardEnd := b.EndDate.AddDate(0, 0, l.DelayDays+l.EmissionDays)

	switch {
	case !today.Before(start) && !today.After(monitorEnd):
		return model.StateMonitoring
	case today.After(monitorEnd) && !today.After(rewardEnd):
		return model.StateReward
	default:
		return model.StateInactive
	}
}

// Split partitions a feed into monitoring and reward briefs for the day,
// stamping each brief's State. Inactive briefs are dropped.
func (l Lifecycle) Split(feed []*model.Brief, now time.Time) (monitoring, reward []*model.Brief) {
	for _, b := range feed {
		state := l.Classify(b, now)
		b.State = state
		switch state {
		case model.StateMonitoring:
			monitoring = append(monitoring, b)
		case model.StateReward:
			reward = append(reward, b)
		default:
			log.Debug().Str("brief", b.ID).Msg("brief inactive, skipped")
		}
	}
	return monitoring, reward
}

// RewardWindow returns the first and last reward day for a brief.
func (l Lifecycle) RewardWindow(b *model.Brief) (first, last time.Time) {
	first = b.EndDate.AddDate(0, 0, l.DelayDays+1)
	last = b.EndDate.AddDate(0, 0, l.DelayDays+l.EmissionDays)
	return first, last
}

// MonitoringWindow returns the first and last monitoring day for a brief.
func (l Lifecycle) MonitoringWindow(b *model.Brief) (first, last time.Time) {
	return b.StartDate.Time, b.EndDate.AddDate(0, 0, l.DelayDays)
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
