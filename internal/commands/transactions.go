package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"fintrack/internal/core"
	"fintrack/internal/filter"
	"fintrack/internal/records"
	"fintrack/internal/services"
)

const listDateLayout = "2006-01-02 15:04"

func newSyncCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch the latest records from the data service",
		Args:  cobra.NoArgs,
		RunE: withApp(rt, func(cmd *cobra.Command, app *App, _ []string) error {
			snap, err := app.Transactions.Refresh(cmd.Context(), app.Session)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if snap.Stale {
				fmt.Fprintf(out, "Data service unreachable, showing snapshot from %s\n",
					snap.FetchedAt.In(app.Location).Format(listDateLayout))
			}
			fmt.Fprintf(out, "%d transactions", len(snap.Transactions))
			if n := len(snap.Issues); n > 0 {
				fmt.Fprintf(out, ", %d records could not be read", n)
			}
			fmt.Fprintln(out)
			return nil
		}),
	}
}

func newDashboardCommand(rt *runtime) *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show totals, spending by category and recent transactions",
		Args:  cobra.NoArgs,
		RunE: withApp(rt, func(cmd *cobra.Command, app *App, _ []string) error {
			d, err := app.Transactions.Dashboard(cmd.Context(), app.Session, recent)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			th := newTheme(out)
			if d.Stale {
				fmt.Fprintln(out, th.muted.Render("(offline: showing the last snapshot)"))
			}
			printSummary(out, th, d.Summary)

			if len(d.Expenses) > 0 {
				fmt.Fprintln(out, "\n"+th.heading.Render("Expenses by category"))
				printCategories(out, th, d.Expenses)
			}

			fmt.Fprintln(out, "\n"+th.heading.Render("Recent transactions"))
			printTransactions(out, th, d.Recent, app.Location)
			return nil
		}),
	}

	cmd.Flags().IntVar(&recent, "recent", 5, "number of recent transactions to show; 0 shows all")

	return cmd
}

type filterFlags struct {
	category string
	typ      string
	date     string
	query    string
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.category, "category", "", "only this category")
	cmd.Flags().StringVar(&f.typ, "type", "", "income or expense")
	cmd.Flags().StringVar(&f.date, "date", "all", "all, today, week or month")
	cmd.Flags().StringVar(&f.query, "query", "", "case-insensitive text search")
}

func (f *filterFlags) spec() (filter.Spec, error) {
	var spec filter.Spec
	if c := strings.TrimSpace(f.category); c != "" && !strings.EqualFold(c, "all") {
		spec.Category = core.CanonicalCategory(c)
	}
	if t := strings.TrimSpace(f.typ); t != "" && !strings.EqualFold(t, "all") {
		typ, err := core.ParseType(t)
		if err != nil {
			return filter.Spec{}, err
		}
		spec.Type = typ
	}
	bucket, err := filter.ParseBucket(f.date)
	if err != nil {
		return filter.Spec{}, err
	}
	spec.Bucket = bucket
	spec.Query = f.query
	return spec, nil
}

type jsonTransaction struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Amount   string `json:"amount"`
	Type     string `json:"type"`
	Category string `json:"category"`
	Date     string `json:"date"`
	Note     string `json:"note,omitempty"`
}

type jsonHistory struct {
	Transactions []jsonTransaction `json:"transactions"`
	Income       string            `json:"income"`
	Expense      string            `json:"expense"`
	Balance      string            `json:"balance"`
	Total        int               `json:"total"`
	Stale        bool              `json:"stale"`
}

func newHistoryCommand(rt *runtime) *cobra.Command {
	var filters filterFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List transactions, most recent first",
		Args:  cobra.NoArgs,
		RunE: withApp(rt, func(cmd *cobra.Command, app *App, _ []string) error {
			spec, err := filters.spec()
			if err != nil {
				return err
			}
			h, err := app.Transactions.History(cmd.Context(), app.Session, spec)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if asJSON {
				doc := jsonHistory{
					Transactions: make([]jsonTransaction, len(h.Transactions)),
					Income:       plainAmount(h.Summary.Income),
					Expense:      plainAmount(h.Summary.Expense),
					Balance:      plainAmount(h.Summary.Balance),
					Total:        h.Total,
					Stale:        h.Stale,
				}
				for i, t := range h.Transactions {
					doc.Transactions[i] = jsonTransaction{
						ID: t.ID, Title: t.Title, Amount: plainAmount(t.Amount),
						Type: string(t.Type), Category: string(t.Category),
						Date: t.Date.In(app.Location).Format(time.RFC3339), Note: t.Note,
					}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}

			if len(h.Transactions) == 0 {
				fmt.Fprintln(out, "No transactions match")
				return nil
			}
			th := newTheme(out)
			printTransactions(out, th, h.Transactions, app.Location)
			fmt.Fprintf(out, "\n%d of %d transactions\n", len(h.Transactions), h.Total)
			printSummary(out, th, h.Summary)
			return nil
		}),
	}

	filters.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func newAddCommand(rt *runtime) *cobra.Command {
	var in services.NewTransaction
	var date string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an income or expense",
		Args:  cobra.NoArgs,
		RunE: withApp(rt, func(cmd *cobra.Command, app *App, _ []string) error {
			if date != "" {
				at, err := records.ParseTimestamp(date, app.Location)
				if err != nil {
					return fmt.Errorf("date: %w", err)
				}
				in.Date = at
			}
			res, err := app.Transactions.Add(cmd.Context(), app.Session, in)
			if err != nil {
				var verr *services.ValidationError
				if errors.As(err, &verr) {
					return fmt.Errorf("%s: %s", verr.Field, verr.Message)
				}
				return err
			}
			out := cmd.OutOrStdout()
			if res.Queued {
				fmt.Fprintf(out, "Data service unreachable, %q queued for delivery (%s)\n", res.Transaction.Title, res.PendingID)
				return nil
			}
			fmt.Fprintf(out, "Added %s %s %q\n", strings.ToLower(string(res.Transaction.Type)),
				core.SignedAmount(res.Transaction), res.Transaction.Title)
			return nil
		}),
	}

	cmd.Flags().StringVar(&in.Title, "title", "", "title (required)")
	cmd.Flags().StringVar(&in.Amount, "amount", "", "amount, e.g. 12.50 (required)")
	cmd.Flags().StringVar(&in.Type, "type", "expense", "income or expense")
	cmd.Flags().StringVar(&in.Category, "category", "", "category (required)")
	cmd.Flags().StringVar(&in.Note, "note", "", "optional note")
	cmd.Flags().StringVar(&date, "date", "", "date and time; now when omitted")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

// plainAmount renders money for machine consumers: no grouping, two decimals.
func plainAmount(m core.Money) string {
	return decimal.New(m.Cents, -2).StringFixed(2)
}
