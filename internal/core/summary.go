package core

import (
	"sort"
)

// Summary holds the dashboard totals for a list of transactions.
type Summary struct {
	Income  Money
	Expense Money
	Balance Money
}

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   Category
	Amount Money
	Count  int
}

// Aggregate sums income and expense amounts in integer cents. The balance is
// income minus expense and may be negative. An empty list yields zeros.
func Aggregate(list []Transaction) Summary {
	var s Summary
	for _, t := range list {
		switch t.Type {
		case Income:
			s.Income = s.Income.Add(t.Amount)
		case Expense:
			s.Expense = s.Expense.Add(t.Amount)
		}
	}
	s.Balance = s.Income.Sub(s.Expense)
	return s
}

// ByCategory totals the transactions of the given type per category, largest
// first; ties are ordered by category name.
func ByCategory(list []Transaction, typ TxType) []CategoryAmount {
	idx := map[Category]int{}
	var out []CategoryAmount
	for _, t := range list {
		if t.Type != typ {
			continue
		}
		i, ok := idx[t.Category]
		if !ok {
			i = len(out)
			idx[t.Category] = i
			out = append(out, CategoryAmount{Name: t.Category})
		}
		out[i].Amount = out[i].Amount.Add(t.Amount)
		out[i].Count++
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Amount.Cents != out[b].Amount.Cents {
			return out[a].Amount.Cents > out[b].Amount.Cents
		}
		return out[a].Name < out[b].Name
	})
	return out
}
