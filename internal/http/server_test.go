package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker/internal/cache"
	"tracker/internal/core"
	"tracker/internal/log"
	"tracker/internal/middleware/ratelimit"
	"tracker/internal/services"
	"tracker/internal/storage"
	"tracker/internal/storage/memory"
)

// testNow is Wednesday 2024-03-13, ISO week 11.
var testNow = time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)

type downStore struct {
	*memory.Store
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func (downStore) ListExpenses(context.Context, string) ([]core.Expense, error) {
	return nil, errors.New("connection refused")
}

func newTestServer(t *testing.T, store storage.Store, limits *ratelimit.Config) *Server {
	t.Helper()
	clock := func() time.Time { return testNow }

	agg := services.NewAggregator(store, time.UTC).WithClock(clock)
	dashboards := services.NewDashboardService(agg, cache.NewLRUCache[*services.Dashboard](16, time.Minute))
	records := services.NewRecordService(store, nil,
		services.WithClock(clock),
		services.WithLogger(log.Discard()),
		services.OnChange(dashboards.Invalidate))

	srv := NewServer(":0", Dependencies{
		Records:    records,
		Stats:      agg,
		Dashboards: dashboards,
		Logger:     log.Discard(),
		RateLimit:  limits,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, memory.NewStore(), nil)

	rr := do(t, srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = do(t, srv, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	down := newTestServer(t, downStore{memory.NewStore()}, nil)
	rr = do(t, down, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, memory.NewStore(), nil)
	rr := do(t, srv, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "tracker_http_rate_limited_total")
}

func TestCommonHeadersAndNotFound(t *testing.T) {
	srv := newTestServer(t, memory.NewStore(), nil)
	rr := do(t, srv, http.MethodGet, "/nope", "", "")

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not found", decode[ErrorBody](t, rr).Error)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestAPIRequiresUser(t *testing.T) {
	srv := newTestServer(t, memory.NewStore(), nil)
	for _, user := range []string{"", strings.Repeat("u", maxUserIDLength+1)} {
		rr := do(t, srv, http.MethodGet, "/api/activities", user, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	}
}

func TestActivityLifecycle(t *testing.T) {
	srv := newTestServer(t, memory.NewStore(), nil)

	rr := do(t, srv, http.MethodPost, "/api/activities", "u1",
		`{"name":"Deep work","start_time":"2024-03-13T09:00:00Z","end_time":"2024-03-13T10:30:00Z","type":"work"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[activityResponse](t, rr)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, int64(5400), created.DurationSeconds)
	require.NotNil(t, created.EndTime)

	rr = do(t, srv, http.MethodGet, "/api/activities/"+created.ID, "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Deep work", decode[activityResponse](t, rr).Name)

	rr = do(t, srv, http.MethodPut, "/api/activities/"+created.ID, "u1",
		`{"name":"Shallow work","start_time":"2024-03-13T09:00:00Z","duration_seconds":600}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[activityResponse](t, rr)
	assert.Equal(t, "Shallow work", updated.Name)
	assert.Equal(t, int64(600), updated.DurationSeconds)
	assert.Equal(t, string(core.ActivityOther), updated.Type)
	assert.Nil(t, updated.EndTime)

	rr = do(t, srv, http.MethodGet, "/api/activities?since=2024-03-13T08:00:00Z", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]activityResponse](t, rr), 1)

	rr = do(t, srv, http.MethodGet, "/api/activities?since=yesterday", "u1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, http.MethodDelete, "/api/activities/"+created.ID, "u1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, srv, http.MethodGet, "/api/activities/"+created.ID, "u1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateActivityRejected(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
		wantField  string
	}{
		{
			name:       "malformed json",
			body:       `{"name":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing name",
			body:       `{"start_time":"2024-03-13T09:00:00Z"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  "name",
		},
		{
			name:       "missing start time",
			body:       `{"name":"Run"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "unknown type",
			body:       `{"name":"Nap","start_time":"2024-03-13T09:00:00Z","type":"sleep"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  "type",
		},
		{
			name:       "negative duration",
			body:       `{"name":"Run","start_time":"2024-03-13T09:00:00Z","duration_seconds":-5}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  "duration_seconds",
		},
		{
			name:       "end before start",
			body:       `{"name":"Run","start_time":"2024-03-13T09:00:00Z","end_time":"2024-03-13T08:00:00Z"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  core.ErrInvalidTimeRange.Error(),
		},
		{
			name:       "blank name",
			body:       `{"name":"   ","start_time":"2024-03-13T09:00:00Z"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  core.ErrEmptyName.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, memory.NewStore(), nil)
			rr := do(t, srv, http.MethodPost, "/api/activities", "u1", tt.body)
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())

			body := decode[ErrorBody](t, rr)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body.Error)
			}
			if tt.wantField != "" {
				require.NotEmpty(t, body.Violations)
				assert.Equal(t, tt.wantField, body.Violations[0].Field)
				assert.NotEmpty(t, body.Violations[0].Message)
			}

			rr = do(t, srv, http.MethodGet, "/api/activities", "u1", "")
			assert.Empty(t, decode[[]activityResponse](t, rr))
		})
	}
}

func TestExpenseDerivedFieldsIgnoreClientValues(t *testing.T) {
	srv := newTestServer(t, memory.NewStore(), nil)

	rr := do(t, srv, http.MethodPost, "/api/expenses", "u1",
		`{"amount":"19.99","category":"travel","date":"2023-10-01","description":"Train","year":1999,"week":1}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	e := decode[expenseResponse](t, rr)
	assert.Equal(t, core.Money{Cents: 1999}, e.Amount)
	assert.Equal(t, "travel", e.Category)
	assert.Equal(t, []int{2023, 10, 39}, []int{e.Year, e.Month, e.Week})

	// Without a date the expense lands on today.
	rr = do(t, srv, http.MethodPost, "/api/expenses", "u1", `{"amount":4.5}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	e = decode[expenseResponse](t, rr)
	assert.Equal(t, "2024-03-13", e.Date)
	assert.Equal(t, "other", e.Category)
	assert.Equal(t, 11, e.Week)

	rr = do(t, srv, http.MethodPut, "/api/expenses/"+e.ID, "u1", `{"amount":"5","date":"2024-12-31","category":"food"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	e = decode[expenseResponse](t, rr)
	assert.Equal(t, []int{2024, 12, 1}, []int{e.Year, e.Month, e.Week})

	rr = do(t, srv, http.MethodGet, "/api/expenses", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]expenseResponse](t, rr), 2)
}

func TestExpenseRejected(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"unparseable amount", http.MethodPost, "/api/expenses", `{"amount":"abc"}`, http.StatusUnprocessableEntity, core.ErrInvalidAmount.Error()},
		{"zero amount", http.MethodPost, "/api/expenses", `{"amount":"0"}`, http.StatusUnprocessableEntity, core.ErrNonPositiveAmount.Error()},
		{"negative amount", http.MethodPost, "/api/expenses", `{"amount":-3}`, http.StatusUnprocessableEntity, core.ErrNonPositiveAmount.Error()},
		{"bad category", http.MethodPost, "/api/expenses", `{"amount":"3","category":"pets"}`, http.StatusUnprocessableEntity, "validation failed"},
		{"bad date", http.MethodPost, "/api/expenses", `{"amount":"3","date":"13/03/2024"}`, http.StatusUnprocessableEntity, "validation failed"},
		{"unknown activity", http.MethodPost, "/api/expenses", `{"amount":"3","activity_id":"nope"}`, http.StatusUnprocessableEntity, services.ErrUnknownActivity.Error()},
		{"update missing", http.MethodPut, "/api/expenses/missing", `{"amount":"3","date":"2024-03-01"}`, http.StatusNotFound, "not found"},
		{"update without date", http.MethodPut, "/api/expenses/missing", `{"amount":"3"}`, http.StatusUnprocessableEntity, core.ErrMissingDate.Error()},
		{"delete missing", http.MethodDelete, "/api/expenses/missing", "", http.StatusNotFound, "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, memory.NewStore(), nil)
			rr := do(t, srv, tt.method, tt.path, "u1", tt.body)
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantError, decode[ErrorBody](t, rr).Error)
		})
	}
}

func TestCreateActivityWithExpense(t *testing.T) {
	srv := newTestServer(t, memory.NewStore(), nil)

	rr := do(t, srv, http.MethodPost, "/api/activities/with-expense", "u1",
		`{"activity":{"name":"Cinema","start_time":"2024-03-12T20:00:00Z","type":"hobby"},
		  "expense":{"amount":"12","category":"entertainment","activity_id":"ignored"}}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	got := decode[activityWithExpenseResponse](t, rr)
	assert.Equal(t, got.Activity.ID, got.Expense.ActivityID)
	assert.Equal(t, "u1", got.Expense.UserID)
	assert.Equal(t, "2024-03-13", got.Expense.Date)

	// Either record failing validation writes nothing.
	rr = do(t, srv, http.MethodPost, "/api/activities/with-expense", "u1",
		`{"activity":{"name":"Dinner","start_time":"2024-03-12T20:00:00Z"},"expense":{"amount":"0"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, srv, http.MethodGet, "/api/activities", "u1", "")
	assert.Len(t, decode[[]activityResponse](t, rr), 1)
}

func TestUsersAreIsolated(t *testing.T) {
	srv := newTestServer(t, memory.NewStore(), nil)

	rr := do(t, srv, http.MethodPost, "/api/activities", "u1", `{"name":"Run","start_time":"2024-03-13T07:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decode[activityResponse](t, rr).ID

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/activities/"+id, "u2", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodDelete, "/api/activities/"+id, "u2", "").Code)

	rr = do(t, srv, http.MethodPost, "/api/expenses", "u2", `{"amount":"3","activity_id":"`+id+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestStatsEndpoints(t *testing.T) {
	srv := newTestServer(t, memory.NewStore(), nil)

	for _, body := range []string{
		`{"name":"Run","start_time":"2024-03-12T07:00:00Z","duration_seconds":1800,"type":"exercise"}`,
		`{"name":"Swim","start_time":"2024-03-12T18:00:00Z","duration_seconds":3600,"type":"exercise"}`,
		`{"name":"Code","start_time":"2024-03-13T09:00:00Z","duration_seconds":7200,"type":"work"}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/activities", "u1", body).Code)
	}
	for _, body := range []string{
		`{"amount":"10","category":"food","date":"2024-03-12"}`,
		`{"amount":"2.5","category":"food","date":"2024-02-10"}`,
		`{"amount":"40","category":"travel","date":"2024-03-13"}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/expenses", "u1", body).Code)
	}

	rr := do(t, srv, http.MethodGet, "/api/stats/daily", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []dailyTotalView{
		{Day: "2024-03-12", ActivityCount: 2, TotalDurationSeconds: 5400},
		{Day: "2024-03-13", ActivityCount: 1, TotalDurationSeconds: 7200},
	}, decode[[]dailyTotalView](t, rr))

	rr = do(t, srv, http.MethodGet, "/api/stats/activity-types?period=day", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	types := decode[[]typeCountView](t, rr)
	require.Len(t, types, 1)
	assert.Equal(t, "work", types[0].Type)

	rr = do(t, srv, http.MethodGet, "/api/stats/activity-types?period=fortnight", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]typeCountView](t, rr), 2)

	rr = do(t, srv, http.MethodGet, "/api/stats/expense-categories", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []categoryTotalView{
		{Category: "food", Total: core.Money{Cents: 1250}},
		{Category: "travel", Total: core.Money{Cents: 4000}},
	}, decode[[]categoryTotalView](t, rr))

	rr = do(t, srv, http.MethodGet, "/api/stats/expense-categories", "nobody", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []categoryTotalView{{Category: core.NoDataCategory}}, decode[[]categoryTotalView](t, rr))

	rr = do(t, srv, http.MethodGet, "/api/stats/expense-periods?period=month", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []periodTotalView{
		{Year: 2024, Month: 2, Total: core.Money{Cents: 250}, Count: 1},
		{Year: 2024, Month: 3, Total: core.Money{Cents: 5000}, Count: 2},
	}, decode[[]periodTotalView](t, rr))

	rr = do(t, srv, http.MethodGet, "/api/dashboard?period=week", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	dash := decode[dashboardView](t, rr)
	assert.Equal(t, "week", string(dash.Period))
	assert.Len(t, dash.Daily, 2)
	assert.Len(t, dash.ByType, 2)
	assert.Len(t, dash.ByCategory, 2)
}

func TestDashboardSeesNewWrites(t *testing.T) {
	srv := newTestServer(t, memory.NewStore(), nil)

	rr := do(t, srv, http.MethodGet, "/api/dashboard", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "year", string(decode[dashboardView](t, rr).Period))

	require.Equal(t, http.StatusCreated,
		do(t, srv, http.MethodPost, "/api/expenses", "u1", `{"amount":"8","category":"health"}`).Code)

	rr = do(t, srv, http.MethodGet, "/api/dashboard", "u1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []categoryTotalView{{Category: "health", Total: core.Money{Cents: 800}}},
		decode[dashboardView](t, rr).ByCategory)
}

func TestDeleteUser(t *testing.T) {
	srv := newTestServer(t, memory.NewStore(), nil)
	require.Equal(t, http.StatusCreated,
		do(t, srv, http.MethodPost, "/api/expenses", "u1", `{"amount":"8"}`).Code)

	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, "/api/users/me", "u1", "").Code)

	rr := do(t, srv, http.MethodGet, "/api/expenses", "u1", "")
	assert.Empty(t, decode[[]expenseResponse](t, rr))
}

func TestStoreFailureIsRetryable(t *testing.T) {
	srv := newTestServer(t, downStore{memory.NewStore()}, nil)
	rr := do(t, srv, http.MethodGet, "/api/expenses", "u1", "")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, unavailableMessage, decode[ErrorBody](t, rr).Error)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestWritesAreRateLimited(t *testing.T) {
	srv := newTestServer(t, memory.NewStore(), &ratelimit.Config{RequestsPerMinute: 2})

	for i := 0; i < 2; i++ {
		rr := do(t, srv, http.MethodPost, "/api/expenses", "u1", `{"amount":"1"}`)
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	rr := do(t, srv, http.MethodPost, "/api/expenses", "u1", `{"amount":"1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	// Reads and other users are unaffected.
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/expenses", "u1", "").Code)
	assert.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/expenses", "u2", `{"amount":"1"}`).Code)
}
