package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income  TxType = "Income"
	Expense TxType = "Expense"
)

const (
	Food          Category = "Food"
	Transport     Category = "Transport"
	Bills         Category = "Bills"
	Shopping      Category = "Shopping"
	Salary        Category = "Salary"
	Other         Category = "Other"
	Entertainment Category = "Entertainment"
	Health        Category = "Health"
	Education     Category = "Education"
	Travel        Category = "Travel"
	Groceries     Category = "Groceries"
	Freelance     Category = "Freelance"
	Investment    Category = "Investment"
)

type (
	// TxType is either Income or Expense.
	TxType string

	// Category is descriptive only; it never affects aggregation.
	Category string

	Money struct {
		Cents int64
	}

	// Transaction is a single income or expense record. Values are treated
	// as immutable once they leave the normalizer.
	Transaction struct {
		ID       string
		Title    string
		Amount   Money
		Type     TxType
		Category Category
		Date     time.Time
		Note     string
	}
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidType   = errors.New("invalid transaction type")
	ErrEmptyTitle    = errors.New("empty title")
	ErrEmptyCategory = errors.New("empty category")
	ErrZeroDate      = errors.New("date cannot be zero")
)

// KnownCategories lists the built-in categories in display order.
var KnownCategories = []Category{
	Food, Transport, Bills, Shopping, Salary, Other,
	Entertainment, Health, Education, Travel, Groceries, Freelance, Investment,
}

// categoryAliases maps lowercase identifiers and labels used by the add form
// and the data service onto canonical categories.
var categoryAliases = map[string]Category{
	"food & dining":     Food,
	"dining":            Food,
	"transportation":    Transport,
	"bills & utilities": Bills,
	"utilities":         Bills,
	"health & medical":  Health,
	"medical":           Health,
}

func init() {
	for _, c := range KnownCategories {
		categoryAliases[strings.ToLower(string(c))] = c
	}
}

// ParseType accepts "income" or "expense" in any letter case.
func ParseType(s string) (TxType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income":
		return Income, nil
	case "expense":
		return Expense, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
}

func (t TxType) Valid() bool {
	return t == Income || t == Expense
}

func (t TxType) String() string {
	return string(t)
}

// CanonicalCategory maps known identifiers and labels onto the built-in
// categories. Unknown non-empty values are kept verbatim (trimmed) and an
// empty value becomes Other.
func CanonicalCategory(s string) Category {
	s = strings.TrimSpace(s)
	if s == "" {
		return Other
	}
	if c, ok := categoryAliases[strings.ToLower(s)]; ok {
		return c
	}
	return Category(s)
}

// Known reports whether c is one of the built-in categories.
func (c Category) Known() bool {
	for _, k := range KnownCategories {
		if c == k {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// Slug is the lowercase identifier the data service and the add form use.
func (c Category) Slug() string {
	if c == Transport {
		return "transportation"
	}
	return strings.ToLower(strings.TrimSpace(string(c)))
}

func (m Money) Validate() error {
	if m.Cents < 0 || m.Cents > MaxAmountCents {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyTitle
	}
	if len(t.Title) > 200 {
		return errors.New("title too long (max 200 characters)")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, t.Type)
	}
	if strings.TrimSpace(string(t.Category)) == "" {
		return ErrEmptyCategory
	}
	if t.Date.IsZero() {
		return ErrZeroDate
	}
	return nil
}

// IsIncome is a convenience used by presentation code for sign and color.
func (t Transaction) IsIncome() bool {
	return t.Type == Income
}

// Account is the signed-in user's profile as returned by the data service.
type Account struct {
	ID       string `json:"id"`
	FullName string `json:"fullName,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}
