package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"accountant/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, e core.Entry) (core.Entry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	params := CreateSpendingParams{
		Date:      e.Date.String(),
		Category:  e.Category,
		Amount:    e.Amount.String(),
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.Identity != nil {
		params.MessageID = sql.NullInt64{Int64: e.Identity.MessageID, Valid: true}
		params.LineIndex = nullLine(e.Identity.LineIndex)
	}
	params.OriginalAmount, params.OriginalCurrency, params.ExchangeRate = nullConversion(e.Conversion)

	id, err := r.queries.CreateSpending(ctx, params)
	if err != nil {
		return core.Entry{}, storageErr("insert spending", err)
	}
	e.ID = id

	slog.DebugContext(ctx, "Spending saved to SQLite",
		"id", id,
		"date", params.Date,
		"category", e.Category,
		"amount", params.Amount)

	return e, nil
}

func (r *SQLiteRepository) ExistsIdentity(ctx context.Context, id core.MessageIdentity) (bool, error) {
	ok, err := r.queries.SpendingExists(ctx, id.MessageID, nullLine(id.LineIndex))
	if err != nil {
		return false, storageErr("check spending identity", err)
	}
	return ok, nil
}

func (r *SQLiteRepository) FindByMessageID(ctx context.Context, messageID int64) (core.Entry, bool, error) {
	entries, err := r.ListByMessageID(ctx, messageID)
	if err != nil {
		return core.Entry{}, false, err
	}
	if len(entries) == 0 {
		return core.Entry{}, false, nil
	}
	return entries[0], true, nil
}

func (r *SQLiteRepository) ListByMessageID(ctx context.Context, messageID int64) ([]core.Entry, error) {
	rows, err := r.queries.ListSpendingsByMessage(ctx, messageID)
	if err != nil {
		return nil, storageErr("list spendings by message", err)
	}
	return toEntries(rows)
}

func (r *SQLiteRepository) Update(ctx context.Context, e core.Entry) error {
	params := UpdateSpendingParams{
		Category: e.Category,
		Amount:   e.Amount.String(),
		ID:       e.ID,
	}
	params.OriginalAmount, params.OriginalCurrency, params.ExchangeRate = nullConversion(e.Conversion)

	n, err := r.queries.UpdateSpending(ctx, params)
	if err != nil {
		return storageErr("update spending", err)
	}
	if n == 0 {
		return fmt.Errorf("update spending %d: %w", e.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByMessageID(ctx context.Context, messageID int64) (int64, error) {
	n, err := r.queries.DeleteSpendingsByMessage(ctx, messageID)
	if err != nil {
		return 0, storageErr("delete spendings by message", err)
	}
	return n, nil
}

func (r *SQLiteRepository) DeleteByDate(ctx context.Context, d core.Date) (int64, error) {
	n, err := r.queries.DeleteSpendingsByDate(ctx, d.String())
	if err != nil {
		return 0, storageErr("delete spendings by date", err)
	}
	return n, nil
}

func (r *SQLiteRepository) ListByDate(ctx context.Context, d core.Date) ([]core.Entry, error) {
	rows, err := r.queries.ListSpendingsByDate(ctx, d.String())
	if err != nil {
		return nil, storageErr("list spendings by date", err)
	}
	return toEntries(rows)
}

func (r *SQLiteRepository) ListByMonth(ctx context.Context, m core.Month) ([]core.Entry, error) {
	rows, err := r.queries.ListSpendingsByMonth(ctx, m.String())
	if err != nil {
		return nil, storageErr("list spendings by month", err)
	}
	return toEntries(rows)
}

func (r *SQLiteRepository) CountByDate(ctx context.Context, d core.Date) (int64, error) {
	n, err := r.queries.CountSpendingsByDate(ctx, d.String())
	if err != nil {
		return 0, storageErr("count spendings by date", err)
	}
	return n, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrStorage, op, err)
}

func nullLine(idx *int) sql.NullInt64 {
	if idx == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*idx), Valid: true}
}

func nullConversion(c *core.Conversion) (amount, currency, rate sql.NullString) {
	if c == nil {
		return
	}
	amount = sql.NullString{String: c.OriginalAmount.String(), Valid: true}
	currency = sql.NullString{String: c.OriginalCurrency, Valid: true}
	rate = sql.NullString{String: c.ExchangeRate.String(), Valid: true}
	return
}

func toEntries(rows []Spending) ([]core.Entry, error) {
	entries := make([]core.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := toEntry(row)
		if err != nil {
			return nil, storageErr(fmt.Sprintf("decode spending %d", row.ID), err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func toEntry(row Spending) (core.Entry, error) {
	date, err := core.ParseDate(row.Date)
	if err != nil {
		return core.Entry{}, err
	}
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.Entry{}, fmt.Errorf("amount: %w", err)
	}
	e := core.Entry{
		ID:       row.ID,
		Date:     date,
		Category: row.Category,
		Amount:   amount,
	}
	if row.MessageID.Valid {
		id := &core.MessageIdentity{MessageID: row.MessageID.Int64}
		if row.LineIndex.Valid {
			id.LineIndex = core.LineAt(int(row.LineIndex.Int64))
		}
		e.Identity = id
	}
	if row.OriginalAmount.Valid && row.OriginalCurrency.Valid && row.ExchangeRate.Valid {
		orig, err := decimal.NewFromString(row.OriginalAmount.String)
		if err != nil {
			return core.Entry{}, fmt.Errorf("original amount: %w", err)
		}
		rate, err := decimal.NewFromString(row.ExchangeRate.String)
		if err != nil {
			return core.Entry{}, fmt.Errorf("exchange rate: %w", err)
		}
		e.Conversion = &core.Conversion{
			OriginalAmount:   orig,
			OriginalCurrency: row.OriginalCurrency.String,
			ExchangeRate:     rate,
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, row.CreatedAt); err == nil {
		e.CreatedAt = t
	}
	return e, nil
}
