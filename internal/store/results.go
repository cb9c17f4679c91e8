package store

import (
	"context"
	"fmt"

	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/localstore"
	"github.com/and161185/quizdeck/internal/model"
)

// AppendResult stores a freshly submitted result. A result whose id is
// already present is left untouched.
func (s *Store) AppendResult(ctx context.Context, r model.Result) error {
	if r.Status == "" {
		r.Status = model.ResultActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editResults(ctx, func() error {
		if s.resultPos(r.ID) >= 0 {
			return errUnchanged
		}
		s.results = append(s.results, r)
		return nil
	})
}

// Results returns a copy of every local result in submission order.
func (s *Store) Results() []model.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Result(nil), s.results...)
}

// Result returns one result by id.
func (s *Store) Result(id string) (model.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.resultPos(id)
	if i < 0 {
		return model.Result{}, fmt.Errorf("result %s: %w", id, errs.ErrNotFound)
	}
	return s.results[i], nil
}

// SetResultStatus records a status confirmed by the backend. Unknown ids are
// ignored since results may exist only remotely.
func (s *Store) SetResultStatus(ctx context.Context, id string, status model.ResultStatus) error {
	if !status.Valid() {
		return errs.Invalid("status", "oneof=active archived")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editResults(ctx, func() error {
		i := s.resultPos(id)
		if i < 0 || s.results[i].Status == status {
			return errUnchanged
		}
		s.results[i].Status = status
		return nil
	})
}

// RemoveResult drops a result locally. Unknown ids are ignored.
func (s *Store) RemoveResult(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editResults(ctx, func() error {
		i := s.resultPos(id)
		if i < 0 {
			return errUnchanged
		}
		s.results = append(s.results[:i], s.results[i+1:]...)
		return nil
	})
}

func (s *Store) resultPos(id string) int {
	for i := range s.results {
		if s.results[i].ID == id {
			return i
		}
	}
	return -1
}

// Outbox returns a copy of the queued items as last loaded or written by
// this process.
func (s *Store) Outbox() []model.OutboxItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.OutboxItem(nil), s.outbox...)
}

// UpdateOutbox reloads the outbox, applies fn and writes the result back in
// one storage transaction, so items queued concurrently by other processes
// sharing the same storage are never overwritten. fn must not call back
// into the store.
func (s *Store) UpdateOutbox(ctx context.Context, fn func([]model.OutboxItem) []model.OutboxItem) ([]model.OutboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next []model.OutboxItem
	err := s.kv.Update(ctx, func(tx localstore.Tx) error {
		var current []model.OutboxItem
		if err := loadJSON(ctx, tx, KeyOutbox, &current); err != nil {
			return err
		}
		next = fn(current)
		if next == nil {
			next = []model.OutboxItem{}
		}
		return saveJSON(ctx, tx, KeyOutbox, next)
	})
	if err != nil {
		return nil, err
	}
	s.outbox = next
	return append([]model.OutboxItem(nil), next...), nil
}

// ReloadOutbox refreshes the in-memory outbox from durable storage.
func (s *Store) ReloadOutbox(ctx context.Context) ([]model.OutboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current []model.OutboxItem
	if err := loadJSON(ctx, s.kv, KeyOutbox, &current); err != nil {
		return nil, err
	}
	s.outbox = current
	return append([]model.OutboxItem(nil), current...), nil
}
