package http

import (
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/records"
	"fintrack/internal/services"
)

type transactionDTO struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amount_cents"`
	Type        string `json:"type"`
	Category    string `json:"category"`
	Date        string `json:"date"`
	Note        string `json:"note,omitempty"`
}

type summaryDTO struct {
	Income       string `json:"income"`
	Expense      string `json:"expense"`
	Balance      string `json:"balance"`
	IncomeCents  int64  `json:"income_cents"`
	ExpenseCents int64  `json:"expense_cents"`
	BalanceCents int64  `json:"balance_cents"`
}

type categoryDTO struct {
	Category    string `json:"category"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amount_cents"`
	Count       int    `json:"count"`
}

type dashboardDTO struct {
	Summary   summaryDTO       `json:"summary"`
	Expenses  []categoryDTO    `json:"expenses_by_category"`
	Income    []categoryDTO    `json:"income_by_category"`
	Recent    []transactionDTO `json:"recent"`
	Count     int              `json:"count"`
	Issues    int              `json:"issues"`
	FetchedAt *time.Time       `json:"fetched_at,omitempty"`
	Stale     bool             `json:"stale"`
}

type historyDTO struct {
	Transactions []transactionDTO `json:"transactions"`
	Summary      summaryDTO       `json:"summary"`
	Matched      int              `json:"matched"`
	Total        int              `json:"total"`
	Stale        bool             `json:"stale"`
}

type accountDTO struct {
	ID       string `json:"id"`
	FullName string `json:"fullName,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

type authResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	Account   accountDTO `json:"account"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	FullName        string `json:"fullName"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// addRequest accepts the amount as a JSON number or string.
type addRequest struct {
	Title    string             `json:"title"`
	Amount   records.FlexString `json:"amount"`
	Type     string             `json:"type"`
	Category string             `json:"category"`
	Note     string             `json:"note"`
	Date     string             `json:"date"`
}

type addResponse struct {
	Transaction transactionDTO `json:"transaction"`
	Queued      bool           `json:"queued"`
	PendingID   string         `json:"pending_id,omitempty"`
}

type syncResponse struct {
	Count     int       `json:"count"`
	Issues    int       `json:"issues"`
	Stale     bool      `json:"stale"`
	FetchedAt time.Time `json:"fetched_at"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func amountString(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func toTransactionDTO(t core.Transaction) transactionDTO {
	return transactionDTO{
		ID:          t.ID,
		Title:       t.Title,
		Amount:      amountString(t.Amount.Cents),
		AmountCents: t.Amount.Cents,
		Type:        string(t.Type),
		Category:    string(t.Category),
		Date:        t.Date.Format(time.RFC3339),
		Note:        t.Note,
	}
}

func toTransactionDTOs(list []core.Transaction) []transactionDTO {
	out := make([]transactionDTO, len(list))
	for i, t := range list {
		out[i] = toTransactionDTO(t)
	}
	return out
}

func toSummaryDTO(s core.Summary) summaryDTO {
	return summaryDTO{
		Income:       amountString(s.Income.Cents),
		Expense:      amountString(s.Expense.Cents),
		Balance:      amountString(s.Balance.Cents),
		IncomeCents:  s.Income.Cents,
		ExpenseCents: s.Expense.Cents,
		BalanceCents: s.Balance.Cents,
	}
}

func toCategoryDTOs(list []core.CategoryAmount) []categoryDTO {
	out := make([]categoryDTO, len(list))
	for i, c := range list {
		out[i] = categoryDTO{
			Category:    string(c.Name),
			Amount:      amountString(c.Amount.Cents),
			AmountCents: c.Amount.Cents,
			Count:       c.Count,
		}
	}
	return out
}

func toDashboardDTO(d services.Dashboard) dashboardDTO {
	dto := dashboardDTO{
		Summary:  toSummaryDTO(d.Summary),
		Expenses: toCategoryDTOs(d.Expenses),
		Income:   toCategoryDTOs(d.Income),
		Recent:   toTransactionDTOs(d.Recent),
		Count:    d.Count,
		Issues:   d.Issues,
		Stale:    d.Stale,
	}
	if !d.FetchedAt.IsZero() {
		at := d.FetchedAt
		dto.FetchedAt = &at
	}
	return dto
}

func toAccountDTO(a core.Account) accountDTO {
	return accountDTO{ID: a.ID, FullName: a.FullName, Username: a.Username, Email: a.Email}
}
