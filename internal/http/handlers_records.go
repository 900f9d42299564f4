package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tracker/internal/core"
)

type activityResponse struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
	Type            string     `json:"type"`
}

type expenseResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ActivityID  string     `json:"activity_id,omitempty"`
	Amount      core.Money `json:"amount"`
	Category    string     `json:"category"`
	Date        string     `json:"date"`
	Description string     `json:"description,omitempty"`
	Year        int        `json:"year"`
	Month       int        `json:"month"`
	Week        int        `json:"week"`
}

type activityWithExpenseResponse struct {
	Activity activityResponse `json:"activity"`
	Expense  expenseResponse  `json:"expense"`
}

func newActivityResponse(a core.Activity) activityResponse {
	resp := activityResponse{
		ID:              a.ID,
		UserID:          a.UserID,
		Name:            a.Name,
		Description:     a.Description,
		StartTime:       a.StartTime,
		DurationSeconds: int64(a.Duration / time.Second),
		Type:            string(a.Type),
	}
	if a.HasEnd() {
		end := a.EndTime
		resp.EndTime = &end
	}
	return resp
}

func newExpenseResponse(e core.Expense) expenseResponse {
	return expenseResponse{
		ID:          e.ID,
		UserID:      e.UserID,
		ActivityID:  e.ActivityID,
		Amount:      e.Amount,
		Category:    string(e.Category),
		Date:        e.Date.String(),
		Description: e.Description,
		Year:        e.Year,
		Month:       e.Month,
		Week:        e.Week,
	}
}

func (s *Server) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	s.saveActivity(w, r, "", http.StatusCreated)
}

func (s *Server) handleUpdateActivity(w http.ResponseWriter, r *http.Request) {
	s.saveActivity(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

// saveActivity decodes the body and hands it to the record service. An empty
// id creates a new activity.
func (s *Server) saveActivity(w http.ResponseWriter, r *http.Request, id string, status int) {
	ctx := r.Context()
	var req activityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	a, err := req.toActivity(userFromContext(ctx), id)
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	saved, err := s.records.SaveActivity(ctx, a)
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().Status(status).JSON(newActivityResponse(saved)).Write(w)
}

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.records.GetActivity(ctx, userFromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().JSON(newActivityResponse(a)).Write(w)
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	since, ok := parseSince(r)
	if !ok {
		BadRequestError("since must be an RFC 3339 timestamp").Write(w)
		return
	}
	activities, err := s.records.ListActivities(ctx, userFromContext(ctx), since)
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	out := make([]activityResponse, 0, len(activities))
	for _, a := range activities {
		out = append(out, newActivityResponse(a))
	}
	NewResponse().JSON(out).Write(w)
}

func (s *Server) handleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.records.DeleteActivity(ctx, userFromContext(ctx), chi.URLParam(r, "id")); err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleCreateActivityWithExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFromContext(ctx)

	var req activityWithExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	a, err := req.Activity.toActivity(userID, "")
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	e, err := req.Expense.toExpense(userID, "")
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	// The link is assigned by the service.
	e.ActivityID = ""

	savedActivity, savedExpense, err := s.records.SaveActivityWithExpense(ctx, a, e)
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(activityWithExpenseResponse{
		Activity: newActivityResponse(savedActivity),
		Expense:  newExpenseResponse(savedExpense),
	}).Write(w)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	s.saveExpense(w, r, "", http.StatusCreated)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	s.saveExpense(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

func (s *Server) saveExpense(w http.ResponseWriter, r *http.Request, id string, status int) {
	ctx := r.Context()
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	e, err := req.toExpense(userFromContext(ctx), id)
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	saved, err := s.records.SaveExpense(ctx, e)
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().Status(status).JSON(newExpenseResponse(saved)).Write(w)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := s.records.GetExpense(ctx, userFromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().JSON(newExpenseResponse(e)).Write(w)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	expenses, err := s.records.ListExpenses(ctx, userFromContext(ctx))
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, newExpenseResponse(e))
	}
	NewResponse().JSON(out).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.records.DeleteExpense(ctx, userFromContext(ctx), chi.URLParam(r, "id")); err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.records.DeleteUser(ctx, userFromContext(ctx)); err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}
