package remote

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/records"
)

// NewRecord is the body of a record save.
type NewRecord struct {
	UserID   string      `json:"userId"`
	Title    string      `json:"title"`
	Amount   json.Number `json:"amount"`
	Type     string      `json:"type"`
	Category string      `json:"category"`
	Date     string      `json:"date"`
	Note     string      `json:"note,omitempty"`
}

// NewRecordFrom builds the save body for a transaction. The service expects
// lowercase type and category identifiers and an ISO timestamp.
func NewRecordFrom(userID string, t core.Transaction) NewRecord {
	return NewRecord{
		UserID:   userID,
		Title:    t.Title,
		Amount:   json.Number(decimal.New(t.Amount.Cents, -2).StringFixed(2)),
		Type:     strings.ToLower(string(t.Type)),
		Category: t.Category.Slug(),
		Date:     t.Date.UTC().Format(time.RFC3339),
		Note:     t.Note,
	}
}

type SignUpRequest struct {
	FullName string `json:"fullName"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type recordsResponse struct {
	Status  bool          `json:"status"`
	Records []records.Raw `json:"records"`
	Message string        `json:"message"`
}

type idResponse struct {
	ID       records.FlexString `json:"id"`
	Success  *bool              `json:"success,omitempty"`
	Status   *bool              `json:"status,omitempty"`
	Message  string             `json:"message,omitempty"`
	FullName string             `json:"fullName,omitempty"`
	Username string             `json:"username,omitempty"`
	Email    string             `json:"email,omitempty"`
}

// failed reports an explicit success=false or status=false in the body.
func (r idResponse) failed() bool {
	return (r.Success != nil && !*r.Success) || (r.Status != nil && !*r.Status)
}
