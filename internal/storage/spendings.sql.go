package storage

import (
	"context"
	"database/sql"
)

const spendingColumns = `id, date, category, amount, message_id, line_index, original_amount, original_currency, exchange_rate, created_at`

const createSpending = `
INSERT INTO spendings (date, category, amount, message_id, line_index, original_amount, original_currency, exchange_rate, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateSpendingParams struct {
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

func (q *Queries) CreateSpending(ctx context.Context, arg CreateSpendingParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, createSpending,
		arg.Date,
		arg.Category,
		arg.Amount,
		arg.MessageID,
		arg.LineIndex,
		arg.OriginalAmount,
		arg.OriginalCurrency,
		arg.ExchangeRate,
		arg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const spendingExists = `
SELECT EXISTS (
    SELECT 1 FROM spendings
    WHERE message_id = ?1 AND (?2 IS NULL OR line_index = ?2)
)
`

// SpendingExists matches any line of the message when lineIndex is null.
func (q *Queries) SpendingExists(ctx context.Context, messageID int64, lineIndex sql.NullInt64) (bool, error) {
	row := q.db.QueryRowContext(ctx, spendingExists, messageID, lineIndex)
	var exists int64
	err := row.Scan(&exists)
	return exists != 0, err
}

const listSpendingsByMessage = `
SELECT ` + spendingColumns + `
FROM spendings
WHERE message_id = ?
ORDER BY id
`

func (q *Queries) ListSpendingsByMessage(ctx context.Context, messageID int64) ([]Spending, error) {
	return q.list(ctx, listSpendingsByMessage, messageID)
}

const listSpendingsByDate = `
SELECT ` + spendingColumns + `
FROM spendings
WHERE date = ?
ORDER BY id
`

func (q *Queries) ListSpendingsByDate(ctx context.Context, date string) ([]Spending, error) {
	return q.list(ctx, listSpendingsByDate, date)
}

const listSpendingsByMonth = `
SELECT ` + spendingColumns + `
FROM spendings
WHERE substr(date, 1, 7) = ?
ORDER BY date, id
`

func (q *Queries) ListSpendingsByMonth(ctx context.Context, month string) ([]Spending, error) {
	return q.list(ctx, listSpendingsByMonth, month)
}

const countSpendingsByDate = `
SELECT COUNT(*) FROM spendings WHERE date = ?
`

func (q *Queries) CountSpendingsByDate(ctx context.Context, date string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countSpendingsByDate, date)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const updateSpending = `
UPDATE spendings
SET category = ?, amount = ?, original_amount = ?, original_currency = ?, exchange_rate = ?
WHERE id = ?
`

type UpdateSpendingParams struct {
	Category         string
	Amount           string
	OriginalAmount   sql.NullString
	OriginalCurrency sql.NullString
	ExchangeRate     sql.NullString
	ID               int64
}

func (q *Queries) UpdateSpending(ctx context.Context, arg UpdateSpendingParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateSpending,
		arg.Category,
		arg.Amount,
		arg.OriginalAmount,
		arg.OriginalCurrency,
		arg.ExchangeRate,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteSpendingsByMessage = `
DELETE FROM spendings WHERE message_id = ?
`

func (q *Queries) DeleteSpendingsByMessage(ctx context.Context, messageID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteSpendingsByMessage, messageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteSpendingsByDate = `
DELETE FROM spendings WHERE date = ?
`

func (q *Queries) DeleteSpendingsByDate(ctx context.Context, date string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteSpendingsByDate, date)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) list(ctx context.Context, query string, args ...interface{}) ([]Spending, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Spending
	for rows.Next() {
		var i Spending
		if err := rows.Scan(
			&i.ID,
			&i.Date,
			&i.Category,
			&i.Amount,
			&i.MessageID,
			&i.LineIndex,
			&i.OriginalAmount,
			&i.OriginalCurrency,
			&i.ExchangeRate,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
