package core

import (
	"errors"
	"strings"
	"time"
)

// MaxNameLength bounds Activity.Name.
const MaxNameLength = 200

const (
	ActivityWork     ActivityType = "work"
	ActivityHobby    ActivityType = "hobby"
	ActivityExercise ActivityType = "exercise"
	ActivityPersonal ActivityType = "personal"
	ActivityShopping ActivityType = "shopping"
	ActivityLearning ActivityType = "learning"
	ActivityOther    ActivityType = "other"
)

const (
	CategoryFood          ExpenseCategory = "food"
	CategoryTransport     ExpenseCategory = "transport"
	CategoryHousing       ExpenseCategory = "housing"
	CategoryUtilities     ExpenseCategory = "utilities"
	CategoryEntertainment ExpenseCategory = "entertainment"
	CategoryHealth        ExpenseCategory = "health"
	CategoryShopping      ExpenseCategory = "shopping"
	CategoryEducation     ExpenseCategory = "education"
	CategoryTravel        ExpenseCategory = "travel"
	CategoryOther         ExpenseCategory = "other"
)

type (
	ActivityType    string
	ExpenseCategory string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Activity is a time-bounded event. A zero EndTime means the activity has
	// no recorded end; a zero Duration means no duration is known.
	Activity struct {
		ID          string
		UserID      string
		Name        string
		Description string
		StartTime   time.Time
		EndTime     time.Time
		Duration    time.Duration
		Type        ActivityType
	}

	// Expense is a monetary record. Year, Month and Week are derived from
	// Date on every write and never accepted from callers.
	Expense struct {
		ID          string
		UserID      string
		ActivityID  string // empty when not linked
		Amount      Money
		Category    ExpenseCategory
		Date        Date
		Description string
		Year        int
		Month       int
		Week        int
	}
)

var (
	ErrInvalidTimeRange    = errors.New("end time must be after the start time")
	ErrNegativeDuration    = errors.New("duration cannot be negative")
	ErrNonPositiveAmount   = errors.New("amount must be greater than zero")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrEmptyName           = errors.New("empty name")
	ErrNameTooLong         = errors.New("name too long (max 200 characters)")
	ErrMissingStartTime    = errors.New("missing start time")
	ErrMissingDate         = errors.New("missing date")
	ErrMissingUser         = errors.New("missing user")
	ErrInvalidActivityType = errors.New("invalid activity type")
	ErrInvalidCategory     = errors.New("invalid expense category")
)

var validationErrors = []error{
	ErrInvalidTimeRange,
	ErrNegativeDuration,
	ErrNonPositiveAmount,
	ErrInvalidAmount,
	ErrEmptyName,
	ErrNameTooLong,
	ErrMissingStartTime,
	ErrMissingDate,
	ErrMissingUser,
	ErrInvalidActivityType,
	ErrInvalidCategory,
}

// IsValidation reports whether err was produced by record validation.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ActivityTypes lists every activity type in code order.
func ActivityTypes() []ActivityType {
	return []ActivityType{
		ActivityExercise, ActivityHobby, ActivityLearning, ActivityOther,
		ActivityPersonal, ActivityShopping, ActivityWork,
	}
}

func (t ActivityType) IsValid() bool {
	switch t {
	case ActivityWork, ActivityHobby, ActivityExercise, ActivityPersonal,
		ActivityShopping, ActivityLearning, ActivityOther:
		return true
	}
	return false
}

// ParseActivityType maps a code to an ActivityType. An empty code yields the
// default ActivityOther.
func ParseActivityType(s string) (ActivityType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ActivityOther, nil
	}
	t := ActivityType(s)
	if !t.IsValid() {
		return "", ErrInvalidActivityType
	}
	return t, nil
}

// Categories lists every expense category in code order.
func Categories() []ExpenseCategory {
	return []ExpenseCategory{
		CategoryEducation, CategoryEntertainment, CategoryFood, CategoryHealth,
		CategoryHousing, CategoryOther, CategoryShopping, CategoryTransport,
		CategoryTravel, CategoryUtilities,
	}
}

func (c ExpenseCategory) IsValid() bool {
	switch c {
	case CategoryFood, CategoryTransport, CategoryHousing, CategoryUtilities,
		CategoryEntertainment, CategoryHealth, CategoryShopping, CategoryEducation,
		CategoryTravel, CategoryOther:
		return true
	}
	return false
}

// ParseCategory maps a code to an ExpenseCategory. An empty code yields the
// default CategoryOther.
func ParseCategory(s string) (ExpenseCategory, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CategoryOther, nil
	}
	c := ExpenseCategory(s)
	if !c.IsValid() {
		return "", ErrInvalidCategory
	}
	return c, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrMissingDate
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// DateLayout is the canonical textual form of a Date.
const DateLayout = "2006-01-02"

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t as seen in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrNonPositiveAmount
	}
	return nil
}

// Validate checks an activity's field presence and temporal invariants. It
// never modifies the receiver.
func (a Activity) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if len([]rune(a.Name)) > MaxNameLength {
		return ErrNameTooLong
	}
	if a.StartTime.IsZero() {
		return ErrMissingStartTime
	}
	if !a.Type.IsValid() {
		return ErrInvalidActivityType
	}
	if !a.EndTime.IsZero() && !a.EndTime.After(a.StartTime) {
		return ErrInvalidTimeRange
	}
	if a.Duration < 0 {
		return ErrNegativeDuration
	}
	return nil
}

// HasEnd reports whether the activity has a recorded end time.
func (a Activity) HasEnd() bool {
	return !a.EndTime.IsZero()
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return ErrMissingUser
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if !e.Category.IsValid() {
		return ErrInvalidCategory
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	return nil
}

// Linked reports whether the expense references an activity.
func (e Expense) Linked() bool {
	return e.ActivityID != ""
}
