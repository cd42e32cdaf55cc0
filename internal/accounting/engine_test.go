package accounting

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/llm-gateway/internal/tasks"
)

var testNow = time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestEngine(opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewEngine(opts...)
}

func ptr(f float64) *float64 { return &f }

func TestLogCall_Cost(t *testing.T) {
	e := newTestEngine(WithRates(map[string]PriceRate{"openai": {InputPer1K: 0.5, OutputPer1K: 1.5}}))

	res, err := e.LogCall(CallRecord{Provider: "openai", Task: tasks.Summarization, InputTokens: 1000, OutputTokens: 500})
	require.NoError(t, err)
	assert.InDelta(t, 1.25, res.Cost, 1e-9)
	assert.InDelta(t, 1.25, res.Status.Daily.Cost, 1e-9)
	assert.InDelta(t, 1.25, res.Status.Monthly.Cost, 1e-9)
}

func TestLogCall_UnratedProviderCostsZero(t *testing.T) {
	e := newTestEngine()
	res, err := e.LogCall(CallRecord{Provider: "local", InputTokens: 5000, OutputTokens: 5000})
	require.NoError(t, err)
	assert.Zero(t, res.Cost)
	assert.Equal(t, int64(5000), e.ProviderUsage("local").InputTokens)
}

func TestLogCall_Rejects(t *testing.T) {
	e := newTestEngine()
	_, err := e.LogCall(CallRecord{InputTokens: 1})
	assert.Error(t, err)
	_, err = e.LogCall(CallRecord{Provider: "x", InputTokens: -1})
	assert.Error(t, err)
}

func TestBudgetStatus_WarningWithoutExceeded(t *testing.T) {
	e := newTestEngine(WithRates(map[string]PriceRate{"openai": {InputPer1K: 1}}))
	require.NoError(t, e.SetBudget(Daily, 50, ptr(40)))

	_, err := e.LogCall(CallRecord{Provider: "openai", InputTokens: 45000})
	require.NoError(t, err)

	st := e.GetBudgetStatus().Daily
	assert.InDelta(t, 45.0, st.Cost, 1e-9)
	assert.InDelta(t, 90.0, st.Percentage, 1e-9)
	assert.True(t, st.Warning)
	assert.False(t, st.Exceeded)
}

func TestBudgetStatus_Exceeded(t *testing.T) {
	e := newTestEngine(WithRates(map[string]PriceRate{"openai": {InputPer1K: 1}}))
	require.NoError(t, e.SetBudget(Monthly, 10, nil))

	_, err := e.LogCall(CallRecord{Provider: "openai", InputTokens: 12000})
	require.NoError(t, err)

	st := e.GetBudgetStatus().Monthly
	assert.True(t, st.Exceeded)
	assert.True(t, st.Warning)
	assert.InDelta(t, 8.0, st.Threshold, 1e-9)
}

func TestBudgetStatus_ThresholdAboveLimit(t *testing.T) {
	e := newTestEngine(WithRates(map[string]PriceRate{"openai": {InputPer1K: 1}}))
	require.NoError(t, e.SetBudget(Daily, 10, ptr(20)))
	_, _ = e.LogCall(CallRecord{Provider: "openai", InputTokens: 15000})

	st := e.GetBudgetStatus().Daily
	assert.True(t, st.Exceeded)
	assert.False(t, st.Warning)
}

func TestBudgetStatus_NoBudget(t *testing.T) {
	e := newTestEngine(WithRates(map[string]PriceRate{"openai": {InputPer1K: 1}}))
	_, _ = e.LogCall(CallRecord{Provider: "openai", InputTokens: 1000000})

	st := e.GetBudgetStatus().Daily
	assert.False(t, st.Exceeded)
	assert.False(t, st.Warning)
	assert.Zero(t, st.Percentage)
}

func TestBudgetStatus_OnlyCurrentPeriodsCount(t *testing.T) {
	e := newTestEngine(WithRates(map[string]PriceRate{"openai": {InputPer1K: 1}}))

	_, _ = e.LogCall(CallRecord{Provider: "openai", InputTokens: 1000})                                      // today
	_, _ = e.LogCall(CallRecord{Provider: "openai", InputTokens: 2000, Timestamp: testNow.AddDate(0, 0, -1)}) // same month
	_, _ = e.LogCall(CallRecord{Provider: "openai", InputTokens: 4000, Timestamp: testNow.AddDate(0, -1, 0)}) // last month

	st := e.GetBudgetStatus()
	assert.InDelta(t, 1.0, st.Daily.Cost, 1e-9)
	assert.InDelta(t, 3.0, st.Monthly.Cost, 1e-9)
}

func TestBudgetStatus_RollsOverWithClock(t *testing.T) {
	now := time.Date(2025, 3, 30, 23, 59, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	e := NewEngine(WithClock(clock), WithRates(map[string]PriceRate{"openai": {InputPer1K: 1}}))
	require.NoError(t, e.SetBudget(Daily, 10, nil))
	require.NoError(t, e.SetBudget(Monthly, 100, nil))

	_, err := e.LogCall(CallRecord{Provider: "openai", InputTokens: 5000})
	require.NoError(t, err)
	_, err = e.LogCall(CallRecord{Provider: "openai", InputTokens: 2000})
	require.NoError(t, err)
	st := e.GetBudgetStatus()
	assert.InDelta(t, 70.0, st.Daily.Percentage, 1e-9)
	assert.InDelta(t, 7.0, st.Monthly.Percentage, 1e-9)

	// Past UTC midnight, still March.
	advance(2 * time.Minute)
	st = e.GetBudgetStatus()
	assert.Zero(t, st.Daily.Cost)
	assert.Zero(t, st.Daily.Percentage)
	assert.InDelta(t, 7.0, st.Monthly.Cost, 1e-9)
	assert.InDelta(t, 7.0, st.Monthly.Percentage, 1e-9)

	_, err = e.LogCall(CallRecord{Provider: "openai", InputTokens: 1000})
	require.NoError(t, err)
	st = e.GetBudgetStatus()
	assert.InDelta(t, 10.0, st.Daily.Percentage, 1e-9)
	assert.InDelta(t, 8.0, st.Monthly.Percentage, 1e-9)

	// Into April: both windows start over.
	advance(48 * time.Hour)
	st = e.GetBudgetStatus()
	assert.Zero(t, st.Daily.Cost)
	assert.Zero(t, st.Monthly.Cost)
	assert.Zero(t, st.Monthly.Percentage)
}

func TestSetBudget_Validation(t *testing.T) {
	e := newTestEngine()
	assert.Error(t, e.SetBudget(Daily, -1, nil))
	assert.Error(t, e.SetBudget(Daily, 1, ptr(-1)))
	assert.Error(t, e.SetBudget("weekly", 1, nil))

	require.NoError(t, e.SetBudget(Daily, 100, nil))
	assert.InDelta(t, 80.0, e.Budget().DailyThreshold, 1e-9)
}

func TestSetPriceRate_RepricesHistory(t *testing.T) {
	e := newTestEngine(WithRates(map[string]PriceRate{"openai": {InputPer1K: 1}}))
	_, _ = e.LogCall(CallRecord{Provider: "openai", InputTokens: 1000, Timestamp: testNow.AddDate(0, -2, 0)})
	_, _ = e.LogCall(CallRecord{Provider: "openai", InputTokens: 1000})

	require.NoError(t, e.SetPriceRate("openai", PriceRate{InputPer1K: 3}))

	s := e.Summary()
	assert.InDelta(t, 6.0, s.Providers["openai"].Cost, 1e-9)
	for month, p := range s.Months {
		assert.InDelta(t, 3.0, p.Cost, 1e-9, month)
	}
	assert.InDelta(t, 3.0, e.GetBudgetStatus().Daily.Cost, 1e-9)

	assert.Error(t, e.SetPriceRate("", PriceRate{}))
	assert.Error(t, e.SetPriceRate("openai", PriceRate{OutputPer1K: -1}))
}

func TestSummary_PerProviderSplit(t *testing.T) {
	e := newTestEngine(WithRates(map[string]PriceRate{
		"openai":    {InputPer1K: 1, OutputPer1K: 2},
		"anthropic": {InputPer1K: 3, OutputPer1K: 4},
	}))
	_, _ = e.LogCall(CallRecord{Provider: "openai", InputTokens: 1000, OutputTokens: 1000})
	_, _ = e.LogCall(CallRecord{Provider: "anthropic", InputTokens: 1000, OutputTokens: 1000})
	_, _ = e.LogCall(CallRecord{Provider: "openai", InputTokens: 1000})

	s := e.Summary()
	day := s.Days["2025-03-15"]
	assert.Equal(t, int64(3), day.Calls)
	assert.Equal(t, int64(3000), day.InputTokens)
	assert.InDelta(t, 11.0, day.Cost, 1e-9)
	assert.Equal(t, int64(2), day.ByProvider["openai"].Calls)
	assert.InDelta(t, 4.0, day.ByProvider["openai"].Cost, 1e-9)
	assert.InDelta(t, 7.0, s.Months["2025-03"].ByProvider["anthropic"].Cost, 1e-9)
}

func TestClearUsageData(t *testing.T) {
	e := newTestEngine(WithRates(map[string]PriceRate{"openai": {InputPer1K: 1}}), WithBudget(Budget{Daily: 5}))
	_, _ = e.LogCall(CallRecord{Provider: "openai", InputTokens: 1000})

	e.ClearUsageData()

	s := e.Summary()
	assert.Empty(t, s.Providers)
	assert.Empty(t, s.Days)
	assert.Zero(t, s.Status.Daily.Cost)
	assert.Equal(t, 5.0, s.Budget.Daily)
	assert.Contains(t, s.Rates, "openai")
}

func TestReplay(t *testing.T) {
	e := newTestEngine(WithRates(map[string]PriceRate{"openai": {InputPer1K: 1}}))
	n := e.Replay([]CallRecord{
		{Provider: "openai", InputTokens: 1000, Timestamp: testNow},
		{Provider: "", InputTokens: 1000, Timestamp: testNow},
		{Provider: "openai", InputTokens: 1000},
	})
	assert.Equal(t, 1, n)
	assert.InDelta(t, 1.0, e.GetBudgetStatus().Daily.Cost, 1e-9)
}

func TestLogCall_Concurrent(t *testing.T) {
	e := newTestEngine(WithRates(map[string]PriceRate{"openai": {InputPer1K: 1}}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.LogCall(CallRecord{Provider: "openai", InputTokens: 100})
		}()
	}
	wg.Wait()

	u := e.ProviderUsage("openai")
	assert.Equal(t, int64(50), u.Calls)
	assert.Equal(t, int64(5000), u.InputTokens)
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("monthly")
	require.NoError(t, err)
	assert.Equal(t, Monthly, w)
	_, err = ParseWindow("yearly")
	assert.Error(t, err)
}
