package storage

import (
	"context"
	"errors"
	"time"

	"tracker/internal/core"
	"tracker/internal/period"
)

// ErrNotFound is returned when a record does not exist for the given user.
var ErrNotFound = errors.New("record not found")

// ActivityQuery filters activity listings. A zero Since returns every activity.
type ActivityQuery struct {
	Since time.Time
}

// ActivityStore persists activities. Every method is scoped to one user.
type ActivityStore interface {
	CreateActivity(ctx context.Context, a core.Activity) error
	UpdateActivity(ctx context.Context, a core.Activity) error
	GetActivity(ctx context.Context, userID, id string) (core.Activity, error)
	// DeleteActivity removes the activity and clears the link on any
	// expense that referenced it. Expenses themselves are kept.
	DeleteActivity(ctx context.Context, userID, id string) error
	// ListActivities returns activities ordered by start time.
	ListActivities(ctx context.Context, userID string, q ActivityQuery) ([]core.Activity, error)
}

// ExpenseStore persists expenses. Every method is scoped to one user.
type ExpenseStore interface {
	CreateExpense(ctx context.Context, e core.Expense) error
	UpdateExpense(ctx context.Context, e core.Expense) error
	GetExpense(ctx context.Context, userID, id string) (core.Expense, error)
	DeleteExpense(ctx context.Context, userID, id string) error
	// ListExpenses returns expenses ordered by date.
	ListExpenses(ctx context.Context, userID string) ([]core.Expense, error)
	// SumExpensesByCategory returns one row per category the user has spent
	// in, ordered by category code. No rows means no expenses.
	SumExpensesByCategory(ctx context.Context, userID string) ([]core.CategoryTotal, error)
	// SumExpensesByPeriod groups expenses on their derived calendar fields.
	SumExpensesByPeriod(ctx context.Context, userID string, token period.Token) ([]core.PeriodTotal, error)
}

// Store is the full record store used by the services.
type Store interface {
	ActivityStore
	ExpenseStore

	// CreateActivityWithExpense persists both records atomically.
	CreateActivityWithExpense(ctx context.Context, a core.Activity, e core.Expense) error
	// DeleteUser removes every record owned by the user.
	DeleteUser(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
	Close() error
}
