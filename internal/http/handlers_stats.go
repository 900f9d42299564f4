package http

import (
	"net/http"
	"time"

	"tracker/internal/core"
	"tracker/internal/period"
	"tracker/internal/services"
)

type dailyTotalView struct {
	Day                  string `json:"day"`
	ActivityCount        int    `json:"activity_count"`
	TotalDurationSeconds int64  `json:"total_duration_seconds"`
}

type typeCountView struct {
	Bucket        time.Time `json:"bucket"`
	Type          string    `json:"type"`
	ActivityCount int       `json:"activity_count"`
}

type categoryTotalView struct {
	Category string     `json:"category"`
	Total    core.Money `json:"total"`
}

type periodTotalView struct {
	Year  int        `json:"year"`
	Month int        `json:"month,omitempty"`
	Week  int        `json:"week,omitempty"`
	Day   string     `json:"day,omitempty"`
	Total core.Money `json:"total"`
	Count int        `json:"count"`
}

type dashboardView struct {
	Period      period.Token        `json:"period"`
	Daily       []dailyTotalView    `json:"daily"`
	ByType      []typeCountView     `json:"by_type"`
	ByCategory  []categoryTotalView `json:"by_category"`
	GeneratedAt time.Time           `json:"generated_at"`
}

func dailyViews(rows []core.DailyTotal) []dailyTotalView {
	out := make([]dailyTotalView, 0, len(rows))
	for _, d := range rows {
		out = append(out, dailyTotalView{
			Day:                  d.Day.String(),
			ActivityCount:        d.ActivityCount,
			TotalDurationSeconds: int64(d.TotalDuration / time.Second),
		})
	}
	return out
}

func typeViews(rows []core.TypeCount) []typeCountView {
	out := make([]typeCountView, 0, len(rows))
	for _, t := range rows {
		out = append(out, typeCountView{Bucket: t.Bucket, Type: string(t.Type), ActivityCount: t.ActivityCount})
	}
	return out
}

func categoryViews(rows []core.CategoryTotal) []categoryTotalView {
	out := make([]categoryTotalView, 0, len(rows))
	for _, c := range rows {
		out = append(out, categoryTotalView{Category: c.Category, Total: c.Total})
	}
	return out
}

func periodViews(rows []core.PeriodTotal) []periodTotalView {
	out := make([]periodTotalView, 0, len(rows))
	for _, p := range rows {
		v := periodTotalView{Year: p.Year, Month: p.Month, Week: p.Week, Total: p.Total, Count: p.Count}
		if !p.Day.IsZero() {
			v.Day = p.Day.String()
		}
		out = append(out, v)
	}
	return out
}

func newDashboardView(d *services.Dashboard) dashboardView {
	return dashboardView{
		Period:      d.Period,
		Daily:       dailyViews(d.Daily),
		ByType:      typeViews(d.ByType),
		ByCategory:  categoryViews(d.ByCategory),
		GeneratedAt: d.GeneratedAt,
	}
}

func (s *Server) handleDailyTotals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := s.stats.DailyTotals(ctx, userFromContext(ctx))
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().JSON(dailyViews(rows)).Write(w)
}

func (s *Server) handleActivityTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := s.stats.ActivitiesByType(ctx, userFromContext(ctx), parsePeriod(r))
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().JSON(typeViews(rows)).Write(w)
}

func (s *Server) handleExpenseCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := s.stats.ExpensesByCategory(ctx, userFromContext(ctx))
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().JSON(categoryViews(rows)).Write(w)
}

func (s *Server) handleExpensePeriods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := s.stats.ExpenseTotalsByPeriod(ctx, userFromContext(ctx), parsePeriod(r))
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().JSON(periodViews(rows)).Write(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dash, err := s.dashboards.Load(ctx, userFromContext(ctx), parsePeriod(r))
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewResponse().JSON(newDashboardView(dash)).Write(w)
}
