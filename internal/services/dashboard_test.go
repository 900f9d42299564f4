package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker/internal/cache"
	"tracker/internal/core"
	"tracker/internal/period"
	"tracker/internal/storage/memory"
)

func newDashboardService(store *countingStore) *DashboardService {
	agg := NewAggregator(store, time.UTC).WithClock(fixedClock(aggNow))
	return NewDashboardService(agg, cache.NewLRUCache[*Dashboard](16, time.Minute))
}

func TestDashboardLoad(t *testing.T) {
	store := &countingStore{Store: memory.NewStore()}
	seedActivity(t, store, "a1", "u1", time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC), time.Hour, core.ActivityWork)
	seedExpense(t, store, "e1", "u1", 500, core.CategoryFood, core.NewDate(2024, 3, 12))

	svc := newDashboardService(store)
	dash, err := svc.Load(context.Background(), "u1", period.Week)
	require.NoError(t, err)

	assert.Equal(t, period.Week, dash.Period)
	require.Len(t, dash.Daily, 1)
	assert.Equal(t, time.Hour, dash.Daily[0].TotalDuration)
	require.Len(t, dash.ByType, 1)
	assert.Equal(t, core.ActivityWork, dash.ByType[0].Type)
	assert.Equal(t, []core.CategoryTotal{{Category: "food", Total: core.Money{Cents: 500}}}, dash.ByCategory)
	assert.True(t, dash.GeneratedAt.Equal(aggNow))
}

func TestDashboardInvalidPeriodFallsBack(t *testing.T) {
	svc := newDashboardService(&countingStore{Store: memory.NewStore()})
	dash, err := svc.Load(context.Background(), "u1", period.Token("lunar"))
	require.NoError(t, err)
	assert.Equal(t, period.Default, dash.Period)
	assert.Equal(t, core.NoDataCategory, dash.ByCategory[0].Category)
}

func TestDashboardCachesUntilInvalidated(t *testing.T) {
	store := &countingStore{Store: memory.NewStore()}
	svc := newDashboardService(store)
	ctx := context.Background()

	_, err := svc.Load(ctx, "u1", period.Month)
	require.NoError(t, err)
	listed := store.lists.Load()
	assert.Equal(t, int64(2), listed, "daily and by-type each list once")

	_, err = svc.Load(ctx, "u1", period.Month)
	require.NoError(t, err)
	assert.Equal(t, listed, store.lists.Load())

	// A different period is a different entry.
	_, err = svc.Load(ctx, "u1", period.Day)
	require.NoError(t, err)
	assert.Equal(t, listed+2, store.lists.Load())

	svc.Invalidate("u1")
	_, err = svc.Load(ctx, "u1", period.Month)
	require.NoError(t, err)
	assert.Equal(t, listed+4, store.lists.Load())
}

func TestDashboardInvalidatedByRecordWrites(t *testing.T) {
	store := &countingStore{Store: memory.NewStore()}
	dashboards := newDashboardService(store)
	records := NewRecordService(store, nil, WithClock(fixedClock(aggNow)), OnChange(dashboards.Invalidate))
	ctx := context.Background()

	before, err := dashboards.Load(ctx, "u1", period.Week)
	require.NoError(t, err)
	assert.Empty(t, before.Daily)

	_, err = records.SaveActivity(ctx, core.Activity{UserID: "u1", Name: "Run", StartTime: aggNow, Duration: 20 * time.Minute, Type: core.ActivityExercise})
	require.NoError(t, err)

	after, err := dashboards.Load(ctx, "u1", period.Week)
	require.NoError(t, err)
	require.Len(t, after.Daily, 1)
	assert.Equal(t, 20*time.Minute, after.Daily[0].TotalDuration)
}

func TestDashboardWithoutCache(t *testing.T) {
	store := &countingStore{Store: memory.NewStore()}
	svc := NewDashboardService(NewAggregator(store, nil), nil)

	for i := 0; i < 2; i++ {
		_, err := svc.Load(context.Background(), "u1", period.Year)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(4), store.lists.Load())
	svc.Invalidate("u1")
}

func TestDashboardErrorsAreNotCached(t *testing.T) {
	failing := &failingStore{Store: memory.NewStore(), failSums: true}
	c := cache.NewLRUCache[*Dashboard](4, time.Minute)
	svc := NewDashboardService(NewAggregator(failing, nil), c)

	_, err := svc.Load(context.Background(), "u1", period.Week)
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, c.Size())

	failing.failSums = false
	_, err = svc.Load(context.Background(), "u1", period.Week)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Size())
}

func TestDashboardLoadRacingWriteIsNotCached(t *testing.T) {
	store := newGatedStore()
	agg := NewAggregator(store, time.UTC).WithClock(fixedClock(aggNow))
	dashboards := NewDashboardService(agg, cache.NewLRUCache[*Dashboard](16, time.Minute))
	records := NewRecordService(store, nil, WithClock(fixedClock(aggNow)), OnChange(dashboards.Invalidate))
	ctx := context.Background()

	loaded := make(chan error, 1)
	go func() {
		_, err := dashboards.Load(ctx, "u1", period.Week)
		loaded <- err
	}()
	<-store.entered

	// The write commits while the load is still reading.
	_, err := records.SaveActivity(ctx, core.Activity{UserID: "u1", Name: "Run", StartTime: aggNow, Duration: 20 * time.Minute, Type: core.ActivityExercise})
	require.NoError(t, err)
	store.open()
	require.NoError(t, <-loaded)

	dash, err := dashboards.Load(ctx, "u1", period.Week)
	require.NoError(t, err)
	require.Len(t, dash.Daily, 1)
	assert.Equal(t, 20*time.Minute, dash.Daily[0].TotalDuration)
	require.Len(t, dash.ByType, 1)
	assert.Equal(t, core.ActivityExercise, dash.ByType[0].Type)
}

func TestDashboardLoadSurvivesCancelledCaller(t *testing.T) {
	store := newGatedStore()
	c := cache.NewLRUCache[*Dashboard](4, time.Minute)
	svc := NewDashboardService(NewAggregator(store, time.UTC).WithClock(fixedClock(aggNow)), c)

	ctx, cancel := context.WithCancel(context.Background())
	loaded := make(chan error, 1)
	go func() {
		_, err := svc.Load(ctx, "u1", period.Month)
		loaded <- err
	}()
	<-store.entered

	cancel()
	assert.ErrorIs(t, <-loaded, context.Canceled)

	// The shared computation still completes and fills the cache.
	store.open()
	require.Eventually(t, func() bool { return c.Size() == 1 }, time.Second, 5*time.Millisecond)

	dash, err := svc.Load(context.Background(), "u1", period.Month)
	require.NoError(t, err)
	assert.Equal(t, period.Month, dash.Period)
}
