package storage

import "database/sql"

// Spending is a row of the spendings table. Decimals are stored as text to
// keep them exact.
type Spending struct {
	ID               int64
	Date             string
	Category         string
	Amount           string
	MessageID        sql.NullInt64
	LineIndex        sql.NullInt64
	OriginalAmount   sql.NullString
	OriginalCurrency sql.NullString
	ExchangeRate     sql.NullString
	CreatedAt        string
}
