// Package memory is an in-process ledger store. Data does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"accountant/internal/core"
)

type Store struct {
	mu     sync.Mutex
	nextID int64
	items  []core.Entry
	now    func() time.Time
}

func New() *Store {
	return &Store{now: time.Now}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Insert(_ context.Context, e core.Entry) (core.Entry, error) {
	if err := e.Validate(); err != nil {
		return core.Entry{}, fmt.Errorf("%w: insert spending: %w", core.ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.items = append(s.items, clone(e))
	return clone(e), nil
}

func (s *Store) ExistsIdentity(_ context.Context, id core.MessageIdentity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.items {
		if e.Identity != nil && id.Matches(*e.Identity) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) FindByMessageID(_ context.Context, messageID int64) (core.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.items {
		if fromMessage(e, messageID) {
			return clone(e), true, nil
		}
	}
	return core.Entry{}, false, nil
}

func (s *Store) ListByMessageID(_ context.Context, messageID int64) ([]core.Entry, error) {
	return s.filter(func(e core.Entry) bool { return fromMessage(e, messageID) }), nil
}

func (s *Store) Update(_ context.Context, e core.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID != e.ID {
			continue
		}
		s.items[i].Category = e.Category
		s.items[i].Amount = e.Amount
		s.items[i].Conversion = nil
		if e.Conversion != nil {
			c := *e.Conversion
			s.items[i].Conversion = &c
		}
		return nil
	}
	return fmt.Errorf("update spending %d: %w", e.ID, core.ErrNotFound)
}

func (s *Store) DeleteByMessageID(_ context.Context, messageID int64) (int64, error) {
	return s.deleteWhere(func(e core.Entry) bool { return fromMessage(e, messageID) }), nil
}

func (s *Store) DeleteByDate(_ context.Context, d core.Date) (int64, error) {
	return s.deleteWhere(func(e core.Entry) bool { return e.Date.Equal(d.Time) }), nil
}

func (s *Store) ListByDate(_ context.Context, d core.Date) ([]core.Entry, error) {
	return s.filter(func(e core.Entry) bool { return e.Date.Equal(d.Time) }), nil
}

func (s *Store) ListByMonth(_ context.Context, m core.Month) ([]core.Entry, error) {
	return s.filter(func(e core.Entry) bool { return m.Contains(e.Date) }), nil
}

func (s *Store) CountByDate(ctx context.Context, d core.Date) (int64, error) {
	entries, _ := s.ListByDate(ctx, d)
	return int64(len(entries)), nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) filter(keep func(core.Entry) bool) []core.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Entry
	for _, e := range s.items {
		if keep(e) {
			out = append(out, clone(e))
		}
	}
	return out
}

func (s *Store) deleteWhere(drop func(core.Entry) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.items[:0]
	var n int64
	for _, e := range s.items {
		if drop(e) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.items = kept
	return n
}

func fromMessage(e core.Entry, messageID int64) bool {
	return e.Identity != nil && e.Identity.MessageID == messageID
}

// clone copies the pointer fields so callers cannot mutate stored entries.
func clone(e core.Entry) core.Entry {
	if e.Identity != nil {
		id := *e.Identity
		if id.LineIndex != nil {
			id.LineIndex = core.LineAt(*id.LineIndex)
		}
		e.Identity = &id
	}
	if e.Conversion != nil {
		c := *e.Conversion
		e.Conversion = &c
	}
	return e
}
