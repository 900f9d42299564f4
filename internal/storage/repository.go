package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tracker/internal/core"
	"tracker/internal/period"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteRepository struct {
	db *sql.DB
}

var _ Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := sqliteDSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const activityColumns = `id, user_id, name, description, start_time, end_time, duration_ns, activity_type`

const expenseColumns = `id, user_id, activity_id, amount_cents, category, date, description, year, month, week`

func insertActivity(ctx context.Context, x execer, a core.Activity) error {
	_, err := x.ExecContext(ctx,
		`INSERT INTO activities (`+activityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Description,
		formatTime(a.StartTime), nullTime(a.EndTime), nullDuration(a.Duration), string(a.Type))
	return err
}

func insertExpense(ctx context.Context, x execer, e core.Expense) error {
	_, err := x.ExecContext(ctx,
		`INSERT INTO expenses (`+expenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, nullString(e.ActivityID), e.Amount.Cents, string(e.Category),
		e.Date.String(), e.Description, e.Year, e.Month, e.Week)
	return err
}

func (r *SQLiteRepository) CreateActivity(ctx context.Context, a core.Activity) error {
	if err := insertActivity(ctx, r.db, a); err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	slog.DebugContext(ctx, "Activity saved to SQLite", "id", a.ID, "user_id", a.UserID)
	return nil
}

func (r *SQLiteRepository) UpdateActivity(ctx context.Context, a core.Activity) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE activities
		 SET name = ?, description = ?, start_time = ?, end_time = ?, duration_ns = ?, activity_type = ?
		 WHERE id = ? AND user_id = ?`,
		a.Name, a.Description, formatTime(a.StartTime), nullTime(a.EndTime),
		nullDuration(a.Duration), string(a.Type), a.ID, a.UserID)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	return requireAffected(res, "update activity")
}

func (r *SQLiteRepository) GetActivity(ctx context.Context, userID, id string) (core.Activity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = ? AND user_id = ?`, id, userID)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Activity{}, ErrNotFound
	}
	if err != nil {
		return core.Activity{}, fmt.Errorf("get activity: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) DeleteActivity(ctx context.Context, userID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE expenses SET activity_id = NULL WHERE activity_id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("unlink expenses: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if err := requireAffected(res, "delete activity"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListActivities(ctx context.Context, userID string, q ActivityQuery) ([]core.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE user_id = ?`
	args := []any{userID}
	if !q.Since.IsZero() {
		query += ` AND start_time >= ?`
		args = append(args, formatTime(q.Since))
	}
	query += ` ORDER BY start_time, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
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

func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) error {
	if err := insertExpense(ctx, r.db, e); err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	slog.DebugContext(ctx, "Expense saved to SQLite",
		"id", e.ID,
		"amount_cents", e.Amount.Cents,
		"year", e.Year,
		"month", e.Month,
		"week", e.Week)
	return nil
}

func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses
		 SET activity_id = ?, amount_cents = ?, category = ?, date = ?, description = ?, year = ?, month = ?, week = ?
		 WHERE id = ? AND user_id = ?`,
		nullString(e.ActivityID), e.Amount.Cents, string(e.Category), e.Date.String(),
		e.Description, e.Year, e.Month, e.Week, e.ID, e.UserID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return requireAffected(res, "update expense")
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, userID, id string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return requireAffected(res, "delete expense")
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE user_id = ? ORDER BY date, id`, userID)
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

func (r *SQLiteRepository) SumExpensesByCategory(ctx context.Context, userID string) ([]core.CategoryTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, SUM(amount_cents) FROM expenses WHERE user_id = ? GROUP BY category ORDER BY category`,
		userID)
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

// isoYear is the ISO week-numbering year of date: the calendar year of the
// Thursday in its ISO week.
const isoYear = `CAST(strftime('%Y', date, '-3 days', 'weekday 4') AS INTEGER)`

// periodGroupings selects and groups on the derived calendar columns. Weeks
// are keyed by ISO year, so late-December days in week 1 join the next year.
var periodGroupings = map[period.Token]struct{ sel, group string }{
	period.Day:   {"year, month, week, date", "date, year, month, week"},
	period.Week:  {isoYear + ", 0, week, ''", isoYear + ", week"},
	period.Month: {"year, month, 0, ''", "year, month"},
	period.Year:  {"year, 0, 0, ''", "year"},
}

func (r *SQLiteRepository) SumExpensesByPeriod(ctx context.Context, userID string, token period.Token) ([]core.PeriodTotal, error) {
	g, ok := periodGroupings[token]
	if !ok {
		return nil, fmt.Errorf("sum expenses by period: %w", period.ErrInvalidPeriod)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+g.sel+`, SUM(amount_cents), COUNT(*) FROM expenses
		 WHERE user_id = ? GROUP BY `+g.group+` ORDER BY `+g.group,
		userID)
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

func (r *SQLiteRepository) CreateActivityWithExpense(ctx context.Context, a core.Activity, e core.Expense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertActivity(ctx, tx, a); err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	if err := insertExpense(ctx, tx, e); err != nil {
		return fmt.Errorf("create expense: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteUser(ctx context.Context, userID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete user expenses: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete user activities: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanActivity(s rowScanner) (core.Activity, error) {
	var (
		a        core.Activity
		start    string
		end      sql.NullString
		duration sql.NullInt64
		typ      string
	)
	if err := s.Scan(&a.ID, &a.UserID, &a.Name, &a.Description, &start, &end, &duration, &typ); err != nil {
		return core.Activity{}, err
	}
	var err error
	if a.StartTime, err = parseTime(start); err != nil {
		return core.Activity{}, fmt.Errorf("parse start time: %w", err)
	}
	if end.Valid {
		if a.EndTime, err = parseTime(end.String); err != nil {
			return core.Activity{}, fmt.Errorf("parse end time: %w", err)
		}
	}
	if duration.Valid {
		a.Duration = time.Duration(duration.Int64)
	}
	a.Type = core.ActivityType(typ)
	return a, nil
}

func scanExpense(s rowScanner) (core.Expense, error) {
	var (
		e          core.Expense
		activityID sql.NullString
		category   string
		date       string
	)
	if err := s.Scan(&e.ID, &e.UserID, &activityID, &e.Amount.Cents, &category, &date,
		&e.Description, &e.Year, &e.Month, &e.Week); err != nil {
		return core.Expense{}, err
	}
	var err error
	if e.Date, err = core.ParseDate(date); err != nil {
		return core.Expense{}, fmt.Errorf("parse date: %w", err)
	}
	e.ActivityID = activityID.String
	e.Category = core.ExpenseCategory(category)
	return e, nil
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullDuration(d time.Duration) sql.NullInt64 {
	if d == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(d), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
