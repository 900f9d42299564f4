package core

import "time"

// NoDataCategory labels the placeholder row returned for users without expenses.
const NoDataCategory = "No data"

// DailyTotal aggregates the activities that started on one calendar day.
type DailyTotal struct {
	Day           Date
	ActivityCount int
	TotalDuration time.Duration
}

// TypeCount counts activities of one type within one period bucket.
type TypeCount struct {
	Bucket        time.Time
	Type          ActivityType
	ActivityCount int
}

// CategoryTotal is the summed amount for an expense category name.
type CategoryTotal struct {
	Category string
	Total    Money
}

// PeriodTotal is the expense sum for one period, keyed by the derived
// calendar fields. Fields finer than the period granularity are zero; Day is
// only set for daily rollups. In weekly rollups Year is the ISO year the week
// belongs to, which differs from the calendar year around New Year.
type PeriodTotal struct {
	Year  int
	Month int
	Week  int
	Day   Date
	Total Money
	Count int
}
