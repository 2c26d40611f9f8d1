// Package filter selects and orders transactions for the history view.
//
// Every function here is pure: the input slice is never modified and the
// result only depends on the arguments (Apply reads the wall clock once).
package filter

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"fintrack/internal/core"
)

// DateBucket is a named window relative to "now".
type DateBucket string

const (
	All       DateBucket = "All"
	Today     DateBucket = "Today"
	ThisWeek  DateBucket = "This Week"
	ThisMonth DateBucket = "This Month"
)

// Spec is the set of active criteria. Zero values are neutral: an empty
// Category or Type means "All", an empty Bucket means All and a blank Query
// matches everything. A Bucket outside the declared constants matches
// nothing; use ParseBucket to build one from user input.
type Spec struct {
	Category core.Category
	Type     core.TxType
	Bucket   DateBucket
	Query    string
}

// ParseBucket accepts the CLI/query spellings as well as the display labels.
func ParseBucket(s string) (DateBucket, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return All, nil
	case "today":
		return Today, nil
	case "week", "this-week", "this week", "this_week", "thisweek":
		return ThisWeek, nil
	case "month", "this-month", "this month", "this_month", "thismonth":
		return ThisMonth, nil
	default:
		return "", fmt.Errorf("unknown date filter %q", s)
	}
}

// IsNeutral reports whether the filter imposes no constraint at all.
func (s Spec) IsNeutral() bool {
	return s.Category == "" && s.Type == "" && (s.Bucket == "" || s.Bucket == All) &&
		strings.TrimSpace(s.Query) == ""
}

// Apply filters list against spec using the current local time.
func Apply(list []core.Transaction, spec Spec) []core.Transaction {
	return ApplyAt(list, spec, time.Now())
}

// ApplyAt returns the transactions matching every active criterion of spec,
// most recent first. Ties keep their input order.
func ApplyAt(list []core.Transaction, spec Spec, now time.Time) []core.Transaction {
	m := newMatcher(spec, now)
	out := make([]core.Transaction, 0, len(list))
	for _, t := range list {
		if m.match(t) {
			out = append(out, t)
		}
	}
	SortByDateDesc(out)
	return out
}

// SortByDateDesc orders transactions most recent first, in place and stable.
func SortByDateDesc(list []core.Transaction) {
	slices.SortStableFunc(list, func(a, b core.Transaction) int {
		return b.Date.Compare(a.Date)
	})
}

type matcher struct {
	spec       Spec
	never      bool
	now        time.Time
	start      time.Time
	query      string
	checkRange bool
}

func newMatcher(spec Spec, now time.Time) matcher {
	m := matcher{
		spec:  spec,
		now:   now,
		query: strings.ToLower(strings.TrimSpace(spec.Query)),
	}
	switch spec.Bucket {
	case "", All, Today:
	case ThisWeek:
		m.start = StartOfWeek(now)
		m.checkRange = true
	case ThisMonth:
		m.start = StartOfMonth(now)
		m.checkRange = true
	default:
		m.never = true
	}
	return m
}

func (m matcher) match(t core.Transaction) bool {
	if m.never {
		return false
	}
	if m.spec.Category != "" && t.Category != m.spec.Category {
		return false
	}
	if m.spec.Type != "" && t.Type != m.spec.Type {
		return false
	}
	if m.spec.Bucket == Today && !SameDay(t.Date, m.now) {
		return false
	}
	if m.checkRange && (t.Date.Before(m.start) || t.Date.After(m.now)) {
		return false
	}
	if m.query != "" && !strings.Contains(haystack(t), m.query) {
		return false
	}
	return true
}

func haystack(t core.Transaction) string {
	return strings.ToLower(t.Title + " " + t.Note + " " + string(t.Category) + " " + string(t.Type))
}

// StartOfWeek returns Monday 00:00 of the week containing now, in now's
// location. Sunday belongs to the week that started six days earlier.
func StartOfWeek(now time.Time) time.Time {
	offset := (int(now.Weekday()) + 6) % 7
	y, mo, d := now.Date()
	return time.Date(y, mo, d-offset, 0, 0, 0, 0, now.Location())
}

// StartOfMonth returns the first day of now's month at 00:00.
func StartOfMonth(now time.Time) time.Time {
	y, mo, _ := now.Date()
	return time.Date(y, mo, 1, 0, 0, 0, 0, now.Location())
}

// SameDay compares calendar dates, viewing t in ref's location.
func SameDay(t, ref time.Time) bool {
	ty, tm, td := t.In(ref.Location()).Date()
	ry, rm, rd := ref.Date()
	return ty == ry && tm == rm && td == rd
}
