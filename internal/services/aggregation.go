package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tracker/internal/core"
	"tracker/internal/observability"
	"tracker/internal/period"
	"tracker/internal/storage"
)

// Aggregator computes per-user statistics over stored records. Calendar
// grouping happens in loc, so a day or week starts at local midnight.
type Aggregator struct {
	store storage.Store
	loc   *time.Location
	now   func() time.Time
}

// NewAggregator builds an Aggregator. A nil loc means UTC.
func NewAggregator(store storage.Store, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: store, loc: loc, now: time.Now}
}

// WithClock returns a copy of the aggregator using now as its time source.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	c := *a
	c.now = now
	return &c
}

// Location returns the location used for calendar grouping.
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// DailyTotals groups all of the user's activities by the calendar day they
// started on. Days without activities are not reported. Activities without a
// duration count toward the total as zero.
func (a *Aggregator) DailyTotals(ctx context.Context, userID string) ([]core.DailyTotal, error) {
	defer observability.ObserveAggregation("daily_totals", time.Now())

	activities, err := a.store.ListActivities(ctx, userID, storage.ActivityQuery{})
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}

	index := make(map[core.Date]int)
	out := []core.DailyTotal{}
	for _, act := range activities {
		day := core.DateOf(act.StartTime.In(a.loc))
		i, ok := index[day]
		if !ok {
			i = len(out)
			index[day] = i
			out = append(out, core.DailyTotal{Day: day})
		}
		out[i].ActivityCount++
		out[i].TotalDuration += act.Duration
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day.Time) })
	return out, nil
}

// ActivitiesByType counts the user's activities in the current period,
// bucketed by period and activity type. Rows are ordered by bucket, then by
// type code.
func (a *Aggregator) ActivitiesByType(ctx context.Context, userID string, token period.Token) ([]core.TypeCount, error) {
	defer observability.ObserveAggregation("activities_by_type", time.Now())

	since, err := period.WindowStart(token, a.now().In(a.loc))
	if err != nil {
		return nil, err
	}

	activities, err := a.store.ListActivities(ctx, userID, storage.ActivityQuery{Since: since})
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}

	type key struct {
		bucket int64
		typ    core.ActivityType
	}
	index := make(map[key]int)
	out := []core.TypeCount{}
	for _, act := range activities {
		bucket, err := period.Truncate(act.StartTime.In(a.loc), token)
		if err != nil {
			return nil, err
		}
		k := key{bucket.Unix(), act.Type}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, core.TypeCount{Bucket: bucket, Type: act.Type})
		}
		out[i].ActivityCount++
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Bucket.Equal(out[j].Bucket) {
			return out[i].Bucket.Before(out[j].Bucket)
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

// ExpensesByCategory sums the user's expenses per category. A user with no
// expenses gets a single "No data" row with a zero total.
func (a *Aggregator) ExpensesByCategory(ctx context.Context, userID string) ([]core.CategoryTotal, error) {
	defer observability.ObserveAggregation("expenses_by_category", time.Now())

	totals, err := a.store.SumExpensesByCategory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sum expenses by category: %w", err)
	}
	if len(totals) == 0 {
		return []core.CategoryTotal{{Category: core.NoDataCategory, Total: core.Money{}}}, nil
	}
	return totals, nil
}

// ExpenseTotalsByPeriod rolls expenses up on their derived year, month, week
// or date fields.
func (a *Aggregator) ExpenseTotalsByPeriod(ctx context.Context, userID string, token period.Token) ([]core.PeriodTotal, error) {
	defer observability.ObserveAggregation("expense_totals_by_period", time.Now())

	if !token.IsValid() {
		return nil, fmt.Errorf("%w: %q", period.ErrInvalidPeriod, string(token))
	}
	totals, err := a.store.SumExpensesByPeriod(ctx, userID, token)
	if err != nil {
		return nil, fmt.Errorf("sum expenses by period: %w", err)
	}
	return totals, nil
}
