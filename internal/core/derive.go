package core

// Calendar holds the fields derived from an expense date. Year is the
// calendar year; Week is the ISO-8601 week number, which may belong to the
// neighbouring ISO year around New Year.
type Calendar struct {
	Year  int
	Month int
	Week  int
}

// CalendarOf computes the derived calendar fields for d.
func CalendarOf(d Date) Calendar {
	_, week := d.Time.ISOWeek()
	return Calendar{
		Year:  d.Year(),
		Month: d.Month(),
		Week:  week,
	}
}

// DeriveActivity fills Duration from the time range when no duration was
// given. An explicit duration is kept as is, even if it disagrees with
// EndTime - StartTime.
func DeriveActivity(a Activity) Activity {
	if a.Duration == 0 && !a.StartTime.IsZero() && !a.EndTime.IsZero() {
		a.Duration = a.EndTime.Sub(a.StartTime)
	}
	return a
}

// DeriveExpense recomputes Year, Month and Week from Date, discarding any
// values already present.
func DeriveExpense(e Expense) Expense {
	if e.Date.IsZero() {
		e.Year, e.Month, e.Week = 0, 0, 0
		return e
	}
	c := CalendarOf(e.Date)
	e.Year, e.Month, e.Week = c.Year, c.Month, c.Week
	return e
}
