package report

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"accountant/internal/core"
)

type (
	// CurrencyAmount is a sum of original amounts in one foreign currency.
	CurrencyAmount struct {
		Currency string
		Amount   decimal.Decimal
	}

	// CategoryTotal is the home-currency sum of one category and the foreign
	// amounts that went into it, in first-seen order.
	CategoryTotal struct {
		Category  string
		Amount    decimal.Decimal
		Originals []CurrencyAmount
	}

	// Summary is an aggregation of entries. Categories are sorted by amount,
	// largest first.
	Summary struct {
		Categories []CategoryTotal
		Total      decimal.Decimal
		Originals  []CurrencyAmount
		Entries    int
	}
)

// Empty reports whether nothing was aggregated.
func (s Summary) Empty() bool { return s.Entries == 0 }

// Aggregate groups entries by category and sums them.
func Aggregate(entries []core.Entry) Summary {
	sum := Summary{Total: decimal.Zero, Entries: len(entries)}
	index := make(map[string]int)
	var grand originals

	for _, e := range entries {
		key := strings.ToLower(strings.TrimSpace(e.Category))
		i, ok := index[key]
		if !ok {
			i = len(sum.Categories)
			index[key] = i
			sum.Categories = append(sum.Categories, CategoryTotal{Category: key, Amount: decimal.Zero})
		}
		cat := &sum.Categories[i]
		cat.Amount = cat.Amount.Add(e.Amount)
		sum.Total = sum.Total.Add(e.Amount)

		if e.Conversion != nil {
			cur := strings.ToUpper(e.Conversion.OriginalCurrency)
			cat.Originals = originals(cat.Originals).add(cur, e.Conversion.OriginalAmount)
			grand = grand.add(cur, e.Conversion.OriginalAmount)
		}
	}
	sum.Originals = grand

	sort.SliceStable(sum.Categories, func(i, j int) bool {
		a, b := sum.Categories[i], sum.Categories[j]
		if c := a.Amount.Cmp(b.Amount); c != 0 {
			return c > 0
		}
		return a.Category < b.Category
	})
	return sum
}

type originals []CurrencyAmount

func (o originals) add(cur string, amount decimal.Decimal) originals {
	for i := range o {
		if o[i].Currency == cur {
			o[i].Amount = o[i].Amount.Add(amount)
			return o
		}
	}
	return append(o, CurrencyAmount{Currency: cur, Amount: amount})
}
