// Package storagetest holds a behavioural test suite shared by every
// storage.Store implementation.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker/internal/core"
	"tracker/internal/period"
	"tracker/internal/storage"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

var base = time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC) // a Monday

func activity(id, user string, start time.Time, typ core.ActivityType) core.Activity {
	return core.Activity{
		ID:        id,
		UserID:    user,
		Name:      "activity " + id,
		StartTime: start,
		Type:      typ,
	}
}

func expense(id, user string, cents int64, cat core.ExpenseCategory, d core.Date) core.Expense {
	return core.DeriveExpense(core.Expense{
		ID:       id,
		UserID:   user,
		Amount:   core.Money{Cents: cents},
		Category: cat,
		Date:     d,
	})
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"ActivityRoundTrip", testActivityRoundTrip},
		{"ActivityNotFound", testActivityNotFound},
		{"ListActivitiesSince", testListActivitiesSince},
		{"ExpenseRoundTrip", testExpenseRoundTrip},
		{"DeleteActivityClearsLinks", testDeleteActivityClearsLinks},
		{"CreateActivityWithExpense", testCreateActivityWithExpense},
		{"SumExpensesByCategory", testSumExpensesByCategory},
		{"SumExpensesByPeriod", testSumExpensesByPeriod},
		{"SumExpensesByWeekAcrossYears", testSumExpensesByWeekAcrossYears},
		{"DeleteUser", testDeleteUser},
		{"UserIsolation", testUserIsolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testActivityRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := activity("a1", "u1", base, core.ActivityExercise)
	a.Description = "morning run"
	a.EndTime = base.Add(45 * time.Minute)
	a.Duration = 45 * time.Minute

	require.NoError(t, s.CreateActivity(ctx, a))

	got, err := s.GetActivity(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.True(t, a.StartTime.Equal(got.StartTime))
	assert.True(t, a.EndTime.Equal(got.EndTime))
	assert.Equal(t, a.Duration, got.Duration)
	assert.Equal(t, a.Name, got.Name)
	assert.Equal(t, a.Description, got.Description)
	assert.Equal(t, a.Type, got.Type)

	a.Name = "evening run"
	a.EndTime = time.Time{}
	a.Duration = 0
	require.NoError(t, s.UpdateActivity(ctx, a))

	got, err = s.GetActivity(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "evening run", got.Name)
	assert.True(t, got.EndTime.IsZero())
	assert.Zero(t, got.Duration)
}

func testActivityNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.GetActivity(ctx, "u1", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.UpdateActivity(ctx, activity("missing", "u1", base, core.ActivityOther))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, s.DeleteActivity(ctx, "u1", "missing"), storage.ErrNotFound)
	assert.ErrorIs(t, s.DeleteExpense(ctx, "u1", "missing"), storage.ErrNotFound)

	_, err = s.GetExpense(ctx, "u1", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testListActivitiesSince(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateActivity(ctx, activity("late", "u1", base.Add(48*time.Hour), core.ActivityWork)))
	require.NoError(t, s.CreateActivity(ctx, activity("early", "u1", base.Add(-48*time.Hour), core.ActivityWork)))
	require.NoError(t, s.CreateActivity(ctx, activity("edge", "u1", base, core.ActivityWork)))

	all, err := s.ListActivities(ctx, "u1", storage.ActivityQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"early", "edge", "late"}, activityIDs(all))

	since, err := s.ListActivities(ctx, "u1", storage.ActivityQuery{Since: base})
	require.NoError(t, err)
	assert.Equal(t, []string{"edge", "late"}, activityIDs(since))

	none, err := s.ListActivities(ctx, "nobody", storage.ActivityQuery{})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testExpenseRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e := expense("e1", "u1", 1234, core.CategoryFood, core.NewDate(2023, 10, 1))
	e.Description = "groceries"

	require.NoError(t, s.CreateExpense(ctx, e))

	got, err := s.GetExpense(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.Equal(t, 39, got.Week)

	e = expense("e1", "u1", 999, core.CategoryTravel, core.NewDate(2024, 1, 2))
	require.NoError(t, s.UpdateExpense(ctx, e))

	got, err = s.GetExpense(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.Equal(t, e, got)

	list, err := s.ListExpenses(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteExpense(ctx, "u1", "e1"))
	_, err = s.GetExpense(ctx, "u1", "e1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDeleteActivityClearsLinks(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateActivity(ctx, activity("a1", "u1", base, core.ActivityShopping)))
	e := expense("e1", "u1", 500, core.CategoryShopping, core.NewDate(2024, 3, 11))
	e.ActivityID = "a1"
	require.NoError(t, s.CreateExpense(ctx, e))

	require.NoError(t, s.DeleteActivity(ctx, "u1", "a1"))

	_, err := s.GetActivity(ctx, "u1", "a1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := s.GetExpense(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.Empty(t, got.ActivityID)
	assert.Equal(t, int64(500), got.Amount.Cents)
}

func testCreateActivityWithExpense(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := activity("a1", "u1", base, core.ActivityHobby)
	e := expense("e1", "u1", 2500, core.CategoryEntertainment, core.NewDate(2024, 3, 11))
	e.ActivityID = a.ID

	require.NoError(t, s.CreateActivityWithExpense(ctx, a, e))

	_, err := s.GetActivity(ctx, "u1", "a1")
	require.NoError(t, err)
	got, err := s.GetExpense(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ActivityID)

	// A conflicting expense id aborts the whole write.
	a2 := activity("a2", "u1", base, core.ActivityHobby)
	dup := expense("e1", "u1", 100, core.CategoryOther, core.NewDate(2024, 3, 12))
	dup.ActivityID = a2.ID
	require.Error(t, s.CreateActivityWithExpense(ctx, a2, dup))

	_, err = s.GetActivity(ctx, "u1", "a2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testSumExpensesByCategory(t *testing.T, s storage.Store) {
	ctx := context.Background()

	empty, err := s.SumExpensesByCategory(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.CreateExpense(ctx, expense("e1", "u1", 1000, core.CategoryFood, core.NewDate(2024, 1, 1))))
	require.NoError(t, s.CreateExpense(ctx, expense("e2", "u1", 250, core.CategoryFood, core.NewDate(2024, 2, 1))))
	require.NoError(t, s.CreateExpense(ctx, expense("e3", "u1", 4000, core.CategoryTravel, core.NewDate(2024, 2, 3))))

	got, err := s.SumExpensesByCategory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []core.CategoryTotal{
		{Category: "food", Total: core.Money{Cents: 1250}},
		{Category: "travel", Total: core.Money{Cents: 4000}},
	}, got)
}

func testSumExpensesByPeriod(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateExpense(ctx, expense("e1", "u1", 100, core.CategoryFood, core.NewDate(2024, 1, 1))))
	require.NoError(t, s.CreateExpense(ctx, expense("e2", "u1", 200, core.CategoryFood, core.NewDate(2024, 1, 1))))
	require.NoError(t, s.CreateExpense(ctx, expense("e3", "u1", 300, core.CategoryFood, core.NewDate(2024, 1, 9))))
	require.NoError(t, s.CreateExpense(ctx, expense("e4", "u1", 400, core.CategoryFood, core.NewDate(2024, 2, 5))))
	require.NoError(t, s.CreateExpense(ctx, expense("e5", "u1", 500, core.CategoryFood, core.NewDate(2023, 12, 20))))

	byYear, err := s.SumExpensesByPeriod(ctx, "u1", period.Year)
	require.NoError(t, err)
	assert.Equal(t, []core.PeriodTotal{
		{Year: 2023, Total: core.Money{Cents: 500}, Count: 1},
		{Year: 2024, Total: core.Money{Cents: 1000}, Count: 4},
	}, byYear)

	byMonth, err := s.SumExpensesByPeriod(ctx, "u1", period.Month)
	require.NoError(t, err)
	assert.Equal(t, []core.PeriodTotal{
		{Year: 2023, Month: 12, Total: core.Money{Cents: 500}, Count: 1},
		{Year: 2024, Month: 1, Total: core.Money{Cents: 600}, Count: 3},
		{Year: 2024, Month: 2, Total: core.Money{Cents: 400}, Count: 1},
	}, byMonth)

	byWeek, err := s.SumExpensesByPeriod(ctx, "u1", period.Week)
	require.NoError(t, err)
	assert.Equal(t, []core.PeriodTotal{
		{Year: 2023, Week: 51, Total: core.Money{Cents: 500}, Count: 1},
		{Year: 2024, Week: 1, Total: core.Money{Cents: 300}, Count: 2},
		{Year: 2024, Week: 2, Total: core.Money{Cents: 300}, Count: 1},
		{Year: 2024, Week: 6, Total: core.Money{Cents: 400}, Count: 1},
	}, byWeek)

	byDay, err := s.SumExpensesByPeriod(ctx, "u1", period.Day)
	require.NoError(t, err)
	require.Len(t, byDay, 4)
	assert.Equal(t, core.NewDate(2023, 12, 20), byDay[0].Day)
	assert.Equal(t, core.PeriodTotal{
		Year: 2024, Month: 1, Week: 1, Day: core.NewDate(2024, 1, 1),
		Total: core.Money{Cents: 300}, Count: 2,
	}, byDay[1])

	_, err = s.SumExpensesByPeriod(ctx, "u1", "fortnight")
	assert.ErrorIs(t, err, period.ErrInvalidPeriod)
}

func testSumExpensesByWeekAcrossYears(t *testing.T, s storage.Store) {
	ctx := context.Background()
	// 2021-01-01 is in ISO week 53 of 2020; 2024-12-31 and 2025-01-03 are both
	// in week 1 of 2025, a year after 2024-01-02.
	require.NoError(t, s.CreateExpense(ctx, expense("e1", "u1", 100, core.CategoryFood, core.NewDate(2024, 1, 2))))
	require.NoError(t, s.CreateExpense(ctx, expense("e2", "u1", 500, core.CategoryFood, core.NewDate(2024, 12, 31))))
	require.NoError(t, s.CreateExpense(ctx, expense("e3", "u1", 700, core.CategoryFood, core.NewDate(2025, 1, 3))))
	require.NoError(t, s.CreateExpense(ctx, expense("e4", "u1", 900, core.CategoryFood, core.NewDate(2021, 1, 1))))

	byWeek, err := s.SumExpensesByPeriod(ctx, "u1", period.Week)
	require.NoError(t, err)
	assert.Equal(t, []core.PeriodTotal{
		{Year: 2020, Week: 53, Total: core.Money{Cents: 900}, Count: 1},
		{Year: 2024, Week: 1, Total: core.Money{Cents: 100}, Count: 1},
		{Year: 2025, Week: 1, Total: core.Money{Cents: 1200}, Count: 2},
	}, byWeek)

	// Calendar rollups keep the calendar year.
	byYear, err := s.SumExpensesByPeriod(ctx, "u1", period.Year)
	require.NoError(t, err)
	assert.Equal(t, []core.PeriodTotal{
		{Year: 2021, Total: core.Money{Cents: 900}, Count: 1},
		{Year: 2024, Total: core.Money{Cents: 600}, Count: 2},
		{Year: 2025, Total: core.Money{Cents: 700}, Count: 1},
	}, byYear)
}

func testDeleteUser(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateActivity(ctx, activity("a1", "u1", base, core.ActivityWork)))
	e := expense("e1", "u1", 100, core.CategoryOther, core.NewDate(2024, 3, 11))
	e.ActivityID = "a1"
	require.NoError(t, s.CreateExpense(ctx, e))
	require.NoError(t, s.CreateActivity(ctx, activity("a2", "u2", base, core.ActivityWork)))

	require.NoError(t, s.DeleteUser(ctx, "u1"))

	acts, err := s.ListActivities(ctx, "u1", storage.ActivityQuery{})
	require.NoError(t, err)
	assert.Empty(t, acts)
	exps, err := s.ListExpenses(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, exps)

	others, err := s.ListActivities(ctx, "u2", storage.ActivityQuery{})
	require.NoError(t, err)
	assert.Len(t, others, 1)

	// Deleting a user without records is not an error.
	assert.NoError(t, s.DeleteUser(ctx, "u1"))
}

func testUserIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateActivity(ctx, activity("a1", "u1", base, core.ActivityWork)))
	require.NoError(t, s.CreateExpense(ctx, expense("e1", "u1", 100, core.CategoryOther, core.NewDate(2024, 3, 11))))

	_, err := s.GetActivity(ctx, "u2", "a1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetExpense(ctx, "u2", "e1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.DeleteActivity(ctx, "u2", "a1"), storage.ErrNotFound)

	totals, err := s.SumExpensesByCategory(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func activityIDs(as []core.Activity) []string {
	ids := make([]string, len(as))
	for i, a := range as {
		ids[i] = a.ID
	}
	return ids
}
