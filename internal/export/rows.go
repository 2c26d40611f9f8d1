// Package export writes transaction lists to spreadsheets: a local XLSX
// workbook or an append to a Google Sheet.
package export

import (
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

const dateLayout = "2006-01-02 15:04:05"

// Headers are the column titles of every export.
var Headers = []string{"Date", "Title", "Type", "Category", "Amount", "Note"}

// Row renders t as spreadsheet cells. The amount is a number in major
// units so the spreadsheet can sum it.
func Row(t core.Transaction, loc *time.Location) []any {
	if loc == nil {
		loc = time.Local
	}
	amount := decimal.New(t.Amount.Cents, -2).InexactFloat64()
	return []any{
		t.Date.In(loc).Format(dateLayout),
		t.Title,
		string(t.Type),
		string(t.Category),
		amount,
		t.Note,
	}
}
