package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"fintrack/internal/core"
)

// theme holds the styles of one output stream. The renderer inspects the
// stream, so colors disappear when it is not a terminal.
type theme struct {
	r       *lipgloss.Renderer
	income  lipgloss.Style
	expense lipgloss.Style
	muted   lipgloss.Style
	heading lipgloss.Style
}

func newTheme(w io.Writer) theme {
	return themeFor(lipgloss.NewRenderer(w))
}

func themeFor(r *lipgloss.Renderer) theme {
	return theme{
		r:       r,
		income:  r.NewStyle().Foreground(lipgloss.Color("#a6e3a1")),
		expense: r.NewStyle().Foreground(lipgloss.Color("#f38ba8")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#7f849c")),
		heading: r.NewStyle().Bold(true),
	}
}

// amount picks the color of a transaction amount from its type.
func (th theme) amount(t core.TxType) lipgloss.Style {
	if t == core.Income {
		return th.income
	}
	return th.expense
}

// balance is green when the user is ahead, red otherwise.
func (th theme) balance(m core.Money) lipgloss.Style {
	if m.Cents < 0 {
		return th.expense
	}
	return th.income
}

// grid lays rows out in borderless columns; style colors each cell.
func (th theme) grid(rows [][]string, style func(row, col int) lipgloss.Style) string {
	return table.New().
		Border(lipgloss.HiddenBorder()).
		BorderStyle(th.r.NewStyle()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			return style(row, col).PaddingRight(1)
		}).
		String()
}

func printSummary(w io.Writer, th theme, s core.Summary) {
	rows := [][]string{
		{"Income", s.Income.String()},
		{"Expenses", s.Expense.String()},
		{"Balance", s.Balance.String()},
	}
	fmt.Fprintln(w, th.grid(rows, func(row, col int) lipgloss.Style {
		if col == 0 {
			return th.r.NewStyle()
		}
		switch row {
		case 0:
			return th.income.Align(lipgloss.Right)
		case 1:
			return th.expense.Align(lipgloss.Right)
		default:
			return th.balance(s.Balance).Align(lipgloss.Right)
		}
	}))
}

func printCategories(w io.Writer, th theme, list []core.CategoryAmount) {
	rows := make([][]string, len(list))
	for i, c := range list {
		rows[i] = []string{c.Name.String(), c.Amount.String()}
	}
	fmt.Fprintln(w, th.grid(rows, func(_, col int) lipgloss.Style {
		if col == 0 {
			return th.r.NewStyle()
		}
		return th.expense.Align(lipgloss.Right)
	}))
}

func printTransactions(w io.Writer, th theme, list []core.Transaction, loc *time.Location) {
	if len(list) == 0 {
		fmt.Fprintln(w, th.muted.Render("  none"))
		return
	}
	rows := make([][]string, len(list))
	for i, t := range list {
		rows[i] = []string{t.Date.In(loc).Format(listDateLayout), t.Title, t.Category.String(), core.SignedAmount(t)}
	}
	fmt.Fprintln(w, th.grid(rows, func(row, col int) lipgloss.Style {
		switch col {
		case 0:
			return th.muted
		case 3:
			if row >= 0 && row < len(list) {
				return th.amount(list[row].Type).Align(lipgloss.Right)
			}
			return th.r.NewStyle().Align(lipgloss.Right)
		default:
			return th.r.NewStyle()
		}
	}))
}
