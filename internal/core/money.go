// Package core provides money parsing and handling utilities.
//
// This file contains the amount parser used for chat input, where commas are
// thousand separators ("1,000") and a dot starts the fraction ("5.50").
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user-typed amount into a positive decimal.
//
// Examples:
//
//	ParseAmount("345")      -> 345
//	ParseAmount("1,000")    -> 1000
//	ParseAmount("5.50")     -> 5.5
//	ParseAmount("12,345.6") -> 12345.6
//
// Signs, empty input, more than one dot and zero are rejected with ErrInvalidAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}
