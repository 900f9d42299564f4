// Package memory provides an in-process storage.Store used for local
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tracker/internal/core"
	"tracker/internal/period"
	"tracker/internal/storage"
)

// Store keeps all records in maps guarded by a single mutex, which makes
// every multi-record operation atomic.
type Store struct {
	mu         sync.RWMutex
	activities map[string]core.Activity
	expenses   map[string]core.Expense
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		activities: make(map[string]core.Activity),
		expenses:   make(map[string]core.Expense),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) CreateActivity(_ context.Context, a core.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.activities[a.ID]; exists {
		return fmt.Errorf("create activity: duplicate id %q", a.ID)
	}
	s.activities[a.ID] = a
	return nil
}

func (s *Store) UpdateActivity(_ context.Context, a core.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ownedActivity(a.UserID, a.ID); !ok {
		return storage.ErrNotFound
	}
	s.activities[a.ID] = a
	return nil
}

func (s *Store) GetActivity(_ context.Context, userID, id string) (core.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.ownedActivity(userID, id)
	if !ok {
		return core.Activity{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *Store) DeleteActivity(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ownedActivity(userID, id); !ok {
		return storage.ErrNotFound
	}
	for eid, e := range s.expenses {
		if e.ActivityID == id {
			e.ActivityID = ""
			s.expenses[eid] = e
		}
	}
	delete(s.activities, id)
	return nil
}

func (s *Store) ListActivities(_ context.Context, userID string, q storage.ActivityQuery) ([]core.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.Activity{}
	for _, a := range s.activities {
		if a.UserID != userID {
			continue
		}
		if !q.Since.IsZero() && a.StartTime.Before(q.Since) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateExpense(_ context.Context, e core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkExpenseInsert(e); err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	s.expenses[e.ID] = e
	return nil
}

func (s *Store) UpdateExpense(_ context.Context, e core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ownedExpense(e.UserID, e.ID); !ok {
		return storage.ErrNotFound
	}
	if e.Linked() {
		if _, ok := s.activities[e.ActivityID]; !ok {
			return fmt.Errorf("update expense: unknown activity %q", e.ActivityID)
		}
	}
	s.expenses[e.ID] = e
	return nil
}

func (s *Store) GetExpense(_ context.Context, userID, id string) (core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.ownedExpense(userID, id)
	if !ok {
		return core.Expense{}, storage.ErrNotFound
	}
	return e, nil
}

func (s *Store) DeleteExpense(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ownedExpense(userID, id); !ok {
		return storage.ErrNotFound
	}
	delete(s.expenses, id)
	return nil
}

func (s *Store) ListExpenses(_ context.Context, userID string) ([]core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userExpenses(userID), nil
}

func (s *Store) SumExpensesByCategory(_ context.Context, userID string) ([]core.CategoryTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[string]core.Money)
	for _, e := range s.userExpenses(userID) {
		sums[string(e.Category)] = sums[string(e.Category)].Add(e.Amount)
	}
	out := make([]core.CategoryTotal, 0, len(sums))
	for cat, total := range sums {
		out = append(out, core.CategoryTotal{Category: cat, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// periodKey projects an expense onto the derived fields a rollup groups by.
var periodKey = map[period.Token]func(e core.Expense) core.PeriodTotal{
	period.Day: func(e core.Expense) core.PeriodTotal {
		return core.PeriodTotal{Year: e.Year, Month: e.Month, Week: e.Week, Day: e.Date}
	},
	period.Week: func(e core.Expense) core.PeriodTotal {
		year, _ := e.Date.ISOWeek()
		return core.PeriodTotal{Year: year, Week: e.Week}
	},
	period.Month: func(e core.Expense) core.PeriodTotal { return core.PeriodTotal{Year: e.Year, Month: e.Month} },
	period.Year:  func(e core.Expense) core.PeriodTotal { return core.PeriodTotal{Year: e.Year} },
}

func (s *Store) SumExpensesByPeriod(_ context.Context, userID string, token period.Token) ([]core.PeriodTotal, error) {
	keyOf, ok := periodKey[token]
	if !ok {
		return nil, fmt.Errorf("sum expenses by period: %w", period.ErrInvalidPeriod)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type bucket struct {
		y, m, w int
		d       string
	}
	index := make(map[bucket]int)
	out := []core.PeriodTotal{}
	for _, e := range s.userExpenses(userID) {
		k := keyOf(e)
		b := bucket{k.Year, k.Month, k.Week, ""}
		if !k.Day.IsZero() {
			b.d = k.Day.String()
		}
		i, seen := index[b]
		if !seen {
			i = len(out)
			index[b] = i
			out = append(out, k)
		}
		out[i].Total = out[i].Total.Add(e.Amount)
		out[i].Count++
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Day.Equal(b.Day.Time) {
			return a.Day.Before(b.Day.Time)
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.Week < b.Week
	})
	return out, nil
}

func (s *Store) CreateActivityWithExpense(_ context.Context, a core.Activity, e core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.activities[a.ID]; exists {
		return fmt.Errorf("create activity: duplicate id %q", a.ID)
	}
	if _, exists := s.expenses[e.ID]; exists {
		return fmt.Errorf("create expense: duplicate id %q", e.ID)
	}
	s.activities[a.ID] = a
	s.expenses[e.ID] = e
	return nil
}

func (s *Store) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.expenses {
		if e.UserID == userID {
			delete(s.expenses, id)
		}
	}
	for id, a := range s.activities {
		if a.UserID == userID {
			delete(s.activities, id)
		}
	}
	return nil
}

func (s *Store) ownedActivity(userID, id string) (core.Activity, bool) {
	a, ok := s.activities[id]
	if !ok || a.UserID != userID {
		return core.Activity{}, false
	}
	return a, true
}

func (s *Store) ownedExpense(userID, id string) (core.Expense, bool) {
	e, ok := s.expenses[id]
	if !ok || e.UserID != userID {
		return core.Expense{}, false
	}
	return e, true
}

func (s *Store) checkExpenseInsert(e core.Expense) error {
	if _, exists := s.expenses[e.ID]; exists {
		return fmt.Errorf("duplicate id %q", e.ID)
	}
	if e.Linked() {
		if _, ok := s.activities[e.ActivityID]; !ok {
			return fmt.Errorf("unknown activity %q", e.ActivityID)
		}
	}
	return nil
}

// userExpenses returns the user's expenses ordered by date. Callers hold the lock.
func (s *Store) userExpenses(userID string) []core.Expense {
	out := []core.Expense{}
	for _, e := range s.expenses {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.Before(out[j].Date.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
