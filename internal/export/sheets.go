package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

type SheetsConfig struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	CredentialsJSON string
	Location        *time.Location
	Logger          *log.Logger
	// Options replace the credential options, e.g. to point at a test server.
	Options []goption.ClientOption
}

// SheetsExporter appends transactions to a Google Sheet.
type SheetsExporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	loc           *time.Location
	logger        *log.Logger
}

func NewSheetsExporter(ctx context.Context, cfg SheetsConfig) (*SheetsExporter, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "FinTrack"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	logger := cfg.Logger.WithComponent(log.ComponentExport)

	opts := cfg.Options
	if len(opts) == 0 {
		creds, err := credentials(cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", cfg.SpreadsheetID, "sheet", cfg.SheetName)

	return &SheetsExporter{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		loc:           cfg.Location,
		logger:        logger,
	}, nil
}

func credentials(cfg SheetsConfig) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_CREDENTIALS_JSON or GOOGLE_CREDENTIALS_FILE)")
	}
}

// Append adds txs below the existing rows, writing the header first when
// the sheet is empty. It returns the number of rows written.
func (e *SheetsExporter) Append(ctx context.Context, txs []core.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	head, err := e.svc.Spreadsheets.Values.Get(e.spreadsheetID, e.sheetName+"!A1:F1").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read header of %s: %w", e.sheetName, err)
	}

	values := make([][]any, 0, len(txs)+1)
	if len(head.Values) == 0 {
		header := make([]any, len(Headers))
		for i, h := range Headers {
			header[i] = h
		}
		values = append(values, header)
	}
	for _, t := range txs {
		values = append(values, Row(t, e.loc))
	}

	resp, err := e.svc.Spreadsheets.Values.Append(e.spreadsheetID, e.sheetName+"!A:F", &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("append to %s: %w", e.sheetName, err)
	}

	written := len(values)
	if resp.Updates != nil {
		written = int(resp.Updates.UpdatedRows)
	}
	e.logger.InfoContext(ctx, "Transactions appended to sheet",
		"sheet", e.sheetName,
		log.FieldCount, len(txs),
		"rows", written)
	return written, nil
}
