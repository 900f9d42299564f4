package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker/internal/core"
)

func TestActivityRequestToActivity(t *testing.T) {
	start := time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	seconds := int64(90)

	a, err := activityRequest{
		Name:            "  Guitar ",
		StartTime:       start,
		EndTime:         &end,
		DurationSeconds: &seconds,
		Type:            "Hobby",
	}.toActivity("u1", "a1")
	require.NoError(t, err)

	assert.Equal(t, core.Activity{
		ID:        "a1",
		UserID:    "u1",
		Name:      "Guitar",
		StartTime: start,
		EndTime:   end,
		Duration:  90 * time.Second,
		Type:      core.ActivityHobby,
	}, a)

	a, err = activityRequest{Name: "Walk", StartTime: start}.toActivity("u1", "")
	require.NoError(t, err)
	assert.Equal(t, core.ActivityOther, a.Type)
	assert.Zero(t, a.Duration)
	assert.True(t, a.EndTime.IsZero())
}

func TestExpenseRequestToExpense(t *testing.T) {
	e, err := expenseRequest{
		Amount:      core.Money{Cents: 250},
		Category:    "FOOD",
		Date:        "2024-02-10",
		Description: "Coffee\x00",
		ActivityID:  " a1 ",
	}.toExpense("u1", "")
	require.NoError(t, err)

	assert.Equal(t, core.CategoryFood, e.Category)
	assert.Equal(t, core.NewDate(2024, 2, 10), e.Date)
	assert.Equal(t, "Coffee", e.Description)
	assert.Equal(t, "a1", e.ActivityID)
	assert.Zero(t, e.Year, "derived fields are left to the record service")

	e, err = expenseRequest{Amount: core.Money{Cents: 1}}.toExpense("u1", "e1")
	require.NoError(t, err)
	assert.True(t, e.Date.IsZero())
	assert.Equal(t, core.CategoryOther, e.Category)

	_, err = expenseRequest{Category: "pets"}.toExpense("u1", "")
	assert.ErrorIs(t, err, core.ErrInvalidCategory)
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"valid", `{"amount":"1.50","category":"food"}`, nil},
		{"unknown fields ignored", `{"amount":"1","year":1999}`, nil},
		{"malformed", `{"amount":`, errBadBody},
		{"wrong type", `{"description":12}`, errBadBody},
		{"bad amount", `{"amount":"x"}`, core.ErrInvalidAmount},
		{"too large", `{"description":"` + strings.Repeat("a", maxBodyBytes) + `"}`, errBadBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/expenses", strings.NewReader(tt.body))
			var req expenseRequest
			err := decodeJSON(httptest.NewRecorder(), r, &req)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseSince(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/activities", nil)
	since, ok := parseSince(r)
	assert.True(t, ok)
	assert.True(t, since.IsZero())

	r = httptest.NewRequest(http.MethodGet, "/api/activities?since=2024-03-11T00:00:00%2B01:00", nil)
	since, ok = parseSince(r)
	assert.True(t, ok)
	assert.True(t, since.Equal(time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)))
}
