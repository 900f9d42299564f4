// Package period resolves period tokens (day, week, month, year) into
// calendar-anchored windows and buckets.
//
// Each token has its own Resolver. Windows always start on a calendar
// boundary in the location of the reference instant: midnight for days,
// Monday midnight for ISO weeks, the 1st for months, January 1st for years.
package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Token names an aggregation granularity.
type Token string

const (
	Day   Token = "day"
	Week  Token = "week"
	Month Token = "month"
	Year  Token = "year"
)

// Default is the token used when a caller supplies none.
const Default = Year

var ErrInvalidPeriod = errors.New("invalid period")

// Resolver truncates instants to the start of the bucket that contains them.
type Resolver interface {
	// Start returns the first instant of the bucket containing t.
	Start(t time.Time) time.Time
}

type dayResolver struct{}

func (dayResolver) Start(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

type weekResolver struct{}

// Start returns the Monday of t's ISO week. Building the result with
// time.Date keeps it at local midnight across DST changes.
func (weekResolver) Start(t time.Time) time.Time {
	y, m, d := t.Date()
	offset := (int(t.Weekday()) + 6) % 7
	return time.Date(y, m, d-offset, 0, 0, 0, 0, t.Location())
}

type monthResolver struct{}

func (monthResolver) Start(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

type yearResolver struct{}

func (yearResolver) Start(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}

var resolvers = map[Token]Resolver{
	Day:   dayResolver{},
	Week:  weekResolver{},
	Month: monthResolver{},
	Year:  yearResolver{},
}

// Tokens lists the supported tokens from finest to coarsest.
func Tokens() []Token {
	return []Token{Day, Week, Month, Year}
}

func (t Token) String() string {
	return string(t)
}

func (t Token) IsValid() bool {
	_, ok := resolvers[t]
	return ok
}

// Parse maps a textual token to a Token, ignoring case and surrounding space.
func Parse(s string) (Token, error) {
	t := Token(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return t, nil
}

// ParseOrDefault behaves like Parse but falls back to Default for empty or
// unrecognised input.
func ParseOrDefault(s string) Token {
	t, err := Parse(s)
	if err != nil {
		return Default
	}
	return t
}

// Get returns the resolver registered for token.
func Get(token Token) (Resolver, error) {
	r, ok := resolvers[token]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, string(token))
	}
	return r, nil
}

// WindowStart returns the start of the current period containing ref.
func WindowStart(token Token, ref time.Time) (time.Time, error) {
	r, err := Get(token)
	if err != nil {
		return time.Time{}, err
	}
	return r.Start(ref), nil
}

// Truncate returns the start of the bucket containing ts. It uses the same
// boundaries as WindowStart.
func Truncate(ts time.Time, token Token) (time.Time, error) {
	return WindowStart(token, ts)
}
