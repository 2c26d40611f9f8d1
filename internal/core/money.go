// Package core provides money parsing and handling utilities.
//
// Amounts are carried as integer minor units (cents) everywhere inside the
// module; decimal strings only exist at the input and presentation edges.
package core

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// MaxAmountCents bounds a single amount (100 billion units). Sums of
// bounded amounts stay far from the int64 range.
const MaxAmountCents int64 = 10_000_000_000_000

// ParseDecimalToCents converts a decimal string to cents with proper rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place. The result is always positive cents.
// Returns an error for invalid formats, negative values, zero amounts and
// amounts above MaxAmountCents.
//
// Examples:
//
//	ParseDecimalToCents("12.34") -> 1234, nil
//	ParseDecimalToCents("12,34") -> 1234, nil
//	ParseDecimalToCents("12.345") -> 1235, nil (rounds half up)
//	ParseDecimalToCents("12.344") -> 1234, nil
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidAmount
	}
	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}
	cents := iv*100 + fracCents
	if cents <= 0 || cents > MaxAmountCents {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// Add returns the sum of two amounts, saturating at the int64 bounds.
func (m Money) Add(o Money) Money {
	sum := m.Cents + o.Cents
	switch {
	case o.Cents > 0 && sum < m.Cents:
		return Money{Cents: math.MaxInt64}
	case o.Cents < 0 && sum > m.Cents:
		return Money{Cents: math.MinInt64}
	}
	return Money{Cents: sum}
}

// Sub returns m minus o; the result may be negative (a balance). It
// saturates like Add.
func (m Money) Sub(o Money) Money {
	diff := m.Cents - o.Cents
	switch {
	case o.Cents > 0 && diff > m.Cents:
		return Money{Cents: math.MinInt64}
	case o.Cents < 0 && diff < m.Cents:
		return Money{Cents: math.MaxInt64}
	}
	return Money{Cents: diff}
}

// String formats the amount with two decimals and thousands separators.
func (m Money) String() string {
	return FormatCents(m.Cents)
}

// FormatCents formats minor units as "1,234.50" (negative values get a
// leading minus sign).
func FormatCents(cents int64) string {
	neg := cents < 0
	abs := uint64(cents)
	if neg {
		abs = -abs
	}
	units := strconv.FormatUint(abs/100, 10)
	rem := int64(abs % 100)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range units {
		if i > 0 && (len(units)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	if rem < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.FormatInt(rem, 10))
	return b.String()
}

// SignedAmount renders a transaction amount with "+" for income and "-" for
// expense, matching how lists display records.
func SignedAmount(t Transaction) string {
	if t.IsIncome() {
		return "+" + FormatCents(t.Amount.Cents)
	}
	return "-" + FormatCents(t.Amount.Cents)
}
