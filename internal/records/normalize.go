package records

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// ErrParseFailure matches every *ParseFailure through errors.Is.
var ErrParseFailure = errors.New("record parse failure")

// Field names reported in ParseFailure.Field.
const (
	FieldID        = "id"
	FieldTitle     = "title"
	FieldAmount    = "amount"
	FieldType      = "type"
	FieldCreatedAt = "created_at"
)

// ParseFailure describes a record field that could not be interpreted.
type ParseFailure struct {
	RecordID string
	Field    string
	Value    string
	Err      error
}

func (e *ParseFailure) Error() string {
	id := e.RecordID
	if id == "" {
		id = "?"
	}
	if e.Err != nil {
		return fmt.Sprintf("record %s: invalid %s %q: %v", id, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("record %s: invalid %s %q", id, e.Field, e.Value)
}

func (e *ParseFailure) Unwrap() error { return e.Err }

func (e *ParseFailure) Is(target error) bool { return target == ErrParseFailure }

// DateOnly reports whether only the timestamp was unusable, in which case the
// record itself is still meaningful.
func (e *ParseFailure) DateOnly() bool { return e.Field == FieldCreatedAt }

// Policy decides what NormalizeAll does with records that fail to parse.
type Policy string

const (
	// FallbackNow keeps records whose timestamp is unparseable, dated at
	// normalization time, and drops records with any other failure.
	FallbackNow Policy = "fallback-now"
	// Drop discards every record with a failure.
	Drop Policy = "drop"
	// Reject aborts the whole batch on the first failure.
	Reject Policy = "reject"
)

// ParsePolicy reads a policy name as used in configuration.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FallbackNow, "fallback", "now":
		return FallbackNow, nil
	case Drop:
		return Drop, nil
	case Reject:
		return Reject, nil
	default:
		return "", fmt.Errorf("unknown normalize policy %q", s)
	}
}

// Batch is the result of normalizing a full records payload.
type Batch struct {
	Transactions []core.Transaction
	Issues       []ParseFailure
}

// Normalizer converts Raw records to core transactions. The zero value uses
// the local time zone, the wall clock and the FallbackNow policy.
type Normalizer struct {
	Location *time.Location
	Now      func() time.Time
	Policy   Policy
}

func (n Normalizer) location() *time.Location {
	if n.Location != nil {
		return n.Location
	}
	return time.Local
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now().In(n.location())
	}
	return time.Now().In(n.location())
}

// Normalize converts one record. When only the timestamp is invalid it
// returns the transaction dated now together with a *ParseFailure; any other
// failure returns a zero transaction and a *ParseFailure.
func (n Normalizer) Normalize(r Raw) (core.Transaction, error) {
	id := strings.TrimSpace(r.ID.String())
	fail := func(field, value string, err error) (core.Transaction, error) {
		return core.Transaction{}, &ParseFailure{RecordID: id, Field: field, Value: value, Err: err}
	}

	if id == "" {
		return fail(FieldID, "", errors.New("missing id"))
	}
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return fail(FieldTitle, r.Title, core.ErrEmptyTitle)
	}
	cents, err := ParseAmount(r.Amount.String())
	if err != nil {
		return fail(FieldAmount, r.Amount.String(), err)
	}
	typ, err := core.ParseType(r.Type.Text())
	if err != nil {
		return fail(FieldType, r.Type.Text(), err)
	}

	t := core.Transaction{
		ID:       id,
		Title:    title,
		Amount:   core.Money{Cents: cents},
		Type:     typ,
		Category: core.CanonicalCategory(r.Category.Text()),
		Note:     strings.TrimSpace(r.Note),
	}

	when, err := ParseTimestamp(r.CreatedAt, n.location())
	if err != nil {
		t.Date = n.now()
		return t, &ParseFailure{RecordID: id, Field: FieldCreatedAt, Value: r.CreatedAt, Err: err}
	}
	t.Date = when
	return t, nil
}

// NormalizeAll normalizes a payload according to n.Policy. Issues lists every
// failure encountered, including the ones the policy recovered from. Under
// Reject the first failure is returned as the error.
func (n Normalizer) NormalizeAll(raws []Raw) (Batch, error) {
	b := Batch{Transactions: make([]core.Transaction, 0, len(raws))}
	for _, r := range raws {
		t, err := n.Normalize(r)
		if err == nil {
			b.Transactions = append(b.Transactions, t)
			continue
		}
		var pf *ParseFailure
		if !errors.As(err, &pf) {
			return Batch{}, err
		}
		b.Issues = append(b.Issues, *pf)

		switch n.Policy {
		case Reject:
			return Batch{Issues: b.Issues}, pf
		case Drop:
			continue
		default:
			if pf.DateOnly() {
				b.Transactions = append(b.Transactions, t)
			}
		}
	}
	return b, nil
}

var maxCents = decimal.NewFromInt(core.MaxAmountCents)

// ParseAmount parses a decimal amount into non-negative cents, rounding half
// up at the third decimal place.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", core.ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrInvalidAmount, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative", core.ErrInvalidAmount)
	}
	c := d.Shift(2).Round(0)
	if c.GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: out of range", core.ErrInvalidAmount)
	}
	return c.IntPart(), nil
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
}

var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
	"Jan 2, 2006 3:04:05 PM",
	"Jan 2, 2006, 3:04:05 PM",
	"January 2, 2006 3:04:05 PM",
}

// ParseTimestamp reads the timestamp formats the service is known to emit.
// Values carrying an offset keep it; the rest are read in loc, including the
// locale fallback "Sep 3, 2025 2:46:27 PM".
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	// Some locales separate the time from AM/PM with a narrow no-break space.
	s = strings.TrimSpace(strings.NewReplacer("\u202f", " ", "\u00a0", " ").Replace(s))
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp format %q", s)
}
