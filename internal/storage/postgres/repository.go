// Package postgres provides a storage.Store backed by PostgreSQL through a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tracker/internal/core"
	"tracker/internal/period"
	"tracker/internal/storage"
)

// Repository provides Postgres-backed persistence for activities and expenses.
type Repository struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Repository)(nil)

// NewRepository constructs a Repository on an existing pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Open migrates the database at url and connects a pool to it.
func Open(ctx context.Context, url string) (*Repository, error) {
	if err := RunMigrations(url); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewRepository(pool), nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const activityColumns = `id, user_id, name, description, start_time, end_time, duration_ns, activity_type`

const expenseColumns = `id, user_id, activity_id, amount_cents, category, date, description, year, month, week`

func insertActivity(ctx context.Context, x execer, a core.Activity) error {
	_, err := x.Exec(ctx,
		`INSERT INTO activities (`+activityColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.UserID, a.Name, a.Description, a.StartTime.UTC(),
		nullTime(a.EndTime), nullDuration(a.Duration), string(a.Type))
	return err
}

func insertExpense(ctx context.Context, x execer, e core.Expense) error {
	_, err := x.Exec(ctx,
		`INSERT INTO expenses (`+expenseColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.UserID, nullIfEmpty(e.ActivityID), e.Amount.Cents, string(e.Category),
		e.Date.Time, e.Description, e.Year, e.Month, e.Week)
	return err
}

func (r *Repository) CreateActivity(ctx context.Context, a core.Activity) error {
	if err := insertActivity(ctx, r.pool, a); err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	return nil
}

func (r *Repository) UpdateActivity(ctx context.Context, a core.Activity) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE activities
		 SET name=$1, description=$2, start_time=$3, end_time=$4, duration_ns=$5, activity_type=$6
		 WHERE id=$7 AND user_id=$8`,
		a.Name, a.Description, a.StartTime.UTC(), nullTime(a.EndTime),
		nullDuration(a.Duration), string(a.Type), a.ID, a.UserID)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repository) GetActivity(ctx context.Context, userID, id string) (core.Activity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id=$1 AND user_id=$2`, id, userID)
	a, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Activity{}, storage.ErrNotFound
	}
	if err != nil {
		return core.Activity{}, fmt.Errorf("get activity: %w", err)
	}
	return a, nil
}

func (r *Repository) DeleteActivity(ctx context.Context, userID, id string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE expenses SET activity_id = NULL WHERE activity_id=$1 AND user_id=$2`, id, userID); err != nil {
		return fmt.Errorf("unlink expenses: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM activities WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) ListActivities(ctx context.Context, userID string, q storage.ActivityQuery) ([]core.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE user_id=$1`
	args := []any{userID}
	if !q.Since.IsZero() {
		query += ` AND start_time >= $2`
		args = append(args, q.Since.UTC())
	}
	query += ` ORDER BY start_time, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	activities := []core.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return activities, nil
}

func (r *Repository) CreateExpense(ctx context.Context, e core.Expense) error {
	if err := insertExpense(ctx, r.pool, e); err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	return nil
}

func (r *Repository) UpdateExpense(ctx context.Context, e core.Expense) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE expenses
		 SET activity_id=$1, amount_cents=$2, category=$3, date=$4, description=$5, year=$6, month=$7, week=$8
		 WHERE id=$9 AND user_id=$10`,
		nullIfEmpty(e.ActivityID), e.Amount.Cents, string(e.Category), e.Date.Time,
		e.Description, e.Year, e.Month, e.Week, e.ID, e.UserID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repository) GetExpense(ctx context.Context, userID, id string) (core.Expense, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id=$1 AND user_id=$2`, id, userID)
	e, err := scanExpense(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Expense{}, storage.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

func (r *Repository) DeleteExpense(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM expenses WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repository) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE user_id=$1 ORDER BY date, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	expenses := []core.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return expenses, nil
}

func (r *Repository) SumExpensesByCategory(ctx context.Context, userID string) ([]core.CategoryTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT category, SUM(amount_cents)::bigint FROM expenses
		 WHERE user_id=$1 GROUP BY category ORDER BY category`, userID)
	if err != nil {
		return nil, fmt.Errorf("sum expenses by category: %w", err)
	}
	defer rows.Close()

	totals := []core.CategoryTotal{}
	for rows.Next() {
		var t core.CategoryTotal
		if err := rows.Scan(&t.Category, &t.Total.Cents); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category totals: %w", err)
	}
	return totals, nil
}

// periodGroupings selects and groups on the derived calendar columns. Weeks
// are keyed by ISO year.
var periodGroupings = map[period.Token]struct{ sel, group string }{
	period.Day:   {"year, month, week, to_char(date, 'YYYY-MM-DD')", "date, year, month, week"},
	period.Week:  {"EXTRACT(ISOYEAR FROM date)::int, 0, week, ''", "EXTRACT(ISOYEAR FROM date)::int, week"},
	period.Month: {"year, month, 0, ''", "year, month"},
	period.Year:  {"year, 0, 0, ''", "year"},
}

func (r *Repository) SumExpensesByPeriod(ctx context.Context, userID string, token period.Token) ([]core.PeriodTotal, error) {
	g, ok := periodGroupings[token]
	if !ok {
		return nil, fmt.Errorf("sum expenses by period: %w", period.ErrInvalidPeriod)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+g.sel+`, SUM(amount_cents)::bigint, COUNT(*) FROM expenses
		 WHERE user_id=$1 GROUP BY `+g.group+` ORDER BY `+g.group, userID)
	if err != nil {
		return nil, fmt.Errorf("sum expenses by period: %w", err)
	}
	defer rows.Close()

	totals := []core.PeriodTotal{}
	for rows.Next() {
		var (
			t   core.PeriodTotal
			day string
		)
		if err := rows.Scan(&t.Year, &t.Month, &t.Week, &day, &t.Total.Cents, &t.Count); err != nil {
			return nil, fmt.Errorf("scan period total: %w", err)
		}
		if day != "" {
			if t.Day, err = core.ParseDate(day); err != nil {
				return nil, fmt.Errorf("parse period date: %w", err)
			}
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate period totals: %w", err)
	}
	return totals, nil
}

// CreateActivityWithExpense persists both records inside a single transaction.
func (r *Repository) CreateActivityWithExpense(ctx context.Context, a core.Activity, e core.Expense) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertActivity(ctx, tx, a); err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	if err := insertExpense(ctx, tx, e); err != nil {
		return fmt.Errorf("create expense: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) DeleteUser(ctx context.Context, userID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM expenses WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("delete user expenses: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM activities WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("delete user activities: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanActivity(row pgx.Row) (core.Activity, error) {
	var (
		a        core.Activity
		end      *time.Time
		duration *int64
		typ      string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Description, &a.StartTime, &end, &duration, &typ); err != nil {
		return core.Activity{}, err
	}
	a.StartTime = a.StartTime.UTC()
	if end != nil {
		a.EndTime = end.UTC()
	}
	if duration != nil {
		a.Duration = time.Duration(*duration)
	}
	a.Type = core.ActivityType(typ)
	return a, nil
}

func scanExpense(row pgx.Row) (core.Expense, error) {
	var (
		e          core.Expense
		activityID *string
		category   string
		date       time.Time
	)
	if err := row.Scan(&e.ID, &e.UserID, &activityID, &e.Amount.Cents, &category, &date,
		&e.Description, &e.Year, &e.Month, &e.Week); err != nil {
		return core.Expense{}, err
	}
	if activityID != nil {
		e.ActivityID = *activityID
	}
	e.Category = core.ExpenseCategory(category)
	e.Date = core.DateOf(date)
	return e, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullDuration(d time.Duration) *int64 {
	if d == 0 {
		return nil
	}
	n := int64(d)
	return &n
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
