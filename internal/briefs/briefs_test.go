package briefs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/faults"
	"github.com/pulserank/pulserank/internal/model"
)

func canonicalBrief() *model.Brief {
	return &model.Brief{
		ID:        "brief-1",
		Pool:      "creators",
		BudgetUSD: 700,
		StartDate: model.NewBriefDate(2025, time.January, 1),
		EndDate:   model.NewBriefDate(2025, time.January, 10),
		Text:      "Write about the launch",
	}
}

func TestLifecycle_Classify(t *testing.T) {
	lc := NewLifecycle(1, 7)
	b := canonicalBrief()

	tests := []struct {
		name  string
		today string
		want  model.BriefState
	}{
		{"day_before_start", "2024-12-31", model.StateInactive},
		{"first_day", "2025-01-01", model.StateMonitoring},
		{"mid_window", "2025-01-05", model.StateMonitoring},
		{"end_date", "2025-01-10", model.StateMonitoring},
		{"settle_day_still_monitoring", "2025-01-11", model.StateMonitoring},
		{"first_reward_day", "2025-01-12", model.StateReward},
		{"mid_reward", "2025-01-15", model.StateReward},
		{"last_reward_day", "2025-01-18", model.StateReward},
		{"day_after_reward", "2025-01-19", model.StateInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			today, err := time.Parse("2006-01-02", tt.today)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lc.Classify(b, today))
		})
	}
}

func TestLifecycle_ClassifyIgnoresTimeOfDay(t *testing.T) {
	lc := NewLifecycle(1, 7)
	b := canonicalBrief()

	lateEvening := time.Date(2025, time.January, 11, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, model.StateMonitoring, lc.Classify(b, lateEvening))

	// A non-UTC wall clock still classifies by the UTC day.
	est := time.FixedZone("EST", -5*3600)
	eveningEST := time.Date(2025, time.January, 11, 20, 0, 0, 0, est) // Jan 12 UTC
	assert.Equal(t, model.StateReward, lc.Classify(b, eveningEST))
}

func TestLifecycle_Split(t *testing.T) {
	lc := NewLifecycle(1, 7)
	monitoringBrief := canonicalBrief()
	rewardBrief := canonicalBrief()
	rewardBrief.ID = "brief-2"
	rewardBrief.EndDate = model.NewBriefDate(2024, time.December, 25)
	deadBrief := canonicalBrief()
	deadBrief.ID = "brief-3"
	deadBrief.EndDate = model.NewBriefDate(2024, time.November, 1)
	deadBrief.StartDate = model.NewBriefDate(2024, time.October, 1)

	today := time.Date(2025, time.January, 2, 8, 0, 0, 0, time.UTC)
	monitoring, reward := lc.Split([]*model.Brief{monitoringBrief, rewardBrief, deadBrief}, today)

	require.Len(t, monitoring, 1)
	require.Len(t, reward, 1)
	assert.Equal(t, "brief-1", monitoring[0].ID)
	assert.Equal(t, model.StateMonitoring, monitoring[0].State)
	assert.Equal(t, "brief-2", reward[0].ID)
	assert.Equal(t, model.StateReward, reward[0].State)
}

func TestLifecycle_Windows(t *testing.T) {
	lc := NewLifecycle(1, 7)
	b := canonicalBrief()

	first, last := lc.RewardWindow(b)
	assert.Equal(t, time.Date(2025, time.January, 12, 0, 0, 0, 0, time.UTC), first)
	assert.Equal(t, time.Date(2025, time.January, 18, 0, 0, 0, 0, time.UTC), last)

	mFirst, mLast := lc.MonitoringWindow(b)
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), mFirst)
	assert.Equal(t, time.Date(2025, time.January, 11, 0, 0, 0, 0, time.UTC), mLast)
}

const feedJSON = `[
	{"id":"brief-1","pool":"creators","budget_usd":700,"start_date":"2025-01-01","end_date":"2025-01-10","brief_text":"Write about the launch"},
	{"id":"","pool":"creators","budget_usd":1,"start_date":"2025-01-01","end_date":"2025-01-02","brief_text":"missing id"}
]`

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestFetcher_FetchesAndCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	now := time.Date(2025, time.January, 5, 12, 0, 0, 0, time.UTC)
	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet(feedCacheKey).RedisNil()
	expected, err := json.Marshal(cachedFeed{FetchedAt: now, Payload: json.RawMessage(feedJSON)})
	require.NoError(t, err)
	mock.ExpectSet(feedCacheKey, expected, time.Duration(0)).SetVal("OK")

	f, err := NewFetcher(config.BriefsConfig{FeedURL: srv.URL, CacheTTL: time.Hour}, rdb, WithFetcherClock(fixedClock(now)))
	require.NoError(t, err)

	briefs, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, briefs, 1, "invalid entries are dropped, not fatal")
	assert.Equal(t, "brief-1", briefs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetcher_ServesFreshCacheWithoutHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("feed endpoint must not be hit while the cache is fresh")
	}))
	defer srv.Close()

	now := time.Date(2025, time.January, 5, 12, 0, 0, 0, time.UTC)
	cached, err := json.Marshal(cachedFeed{FetchedAt: now.Add(-10 * time.Minute), Payload: json.RawMessage(feedJSON)})
	require.NoError(t, err)

	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet(feedCacheKey).SetVal(string(cached))

	f, err := NewFetcher(config.BriefsConfig{FeedURL: srv.URL, CacheTTL: time.Hour}, rdb, WithFetcherClock(fixedClock(now)))
	require.NoError(t, err)

	briefs, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, briefs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetcher_StaleCacheSurvivesOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	now := time.Date(2025, time.January, 5, 12, 0, 0, 0, time.UTC)
	cached, err := json.Marshal(cachedFeed{FetchedAt: now.Add(-48 * time.Hour), Payload: json.RawMessage(feedJSON)})
	require.NoError(t, err)

	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet(feedCacheKey).SetVal(string(cached))

	f, err := NewFetcher(config.BriefsConfig{FeedURL: srv.URL, CacheTTL: time.Hour}, rdb, WithFetcherClock(fixedClock(now)))
	require.NoError(t, err)

	briefs, err := f.Fetch(context.Background())
	require.NoError(t, err, "a stale cache beats no feed at all")
	require.Len(t, briefs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetcher_FailsWhenDownAndUncached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet(feedCacheKey).RedisNil()

	f, err := NewFetcher(config.BriefsConfig{FeedURL: srv.URL, CacheTTL: time.Hour}, rdb)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindTransient))
}

func TestFetcher_WorksWithoutRedis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	f, err := NewFetcher(config.BriefsConfig{FeedURL: srv.URL}, nil)
	require.NoError(t, err)

	briefs, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, briefs, 1)
}

func TestFetcher_RequiresFeedURL(t *testing.T) {
	_, err := NewFetcher(config.BriefsConfig{}, nil)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindConfiguration))
}
