package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/quizdeck/internal/convert"
	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/repository"
)

// BackendService implements the remote actions of the quiz backend.
type BackendService interface {
	// List returns the catalog rows.
	List(ctx context.Context) (convert.Rows, error)
	// Results returns up to limit results, newest first.
	Results(ctx context.Context, limit int) ([]model.Result, error)
	// Submit stores a result idempotently on its idempotency key.
	Submit(ctx context.Context, r model.Result) (convert.SubmitAck, error)
	// Bulk applies a catalog snapshot plus results.
	Bulk(ctx context.Context, p convert.BulkPayload) (convert.BulkAck, error)
	// ArchiveMove moves a result between sets.
	ArchiveMove(ctx context.Context, m convert.ArchiveMove) error
	// DeleteForever removes a result from a set.
	DeleteForever(ctx context.Context, d convert.DeleteForever) error
}

type BackendServiceImpl struct {
	catalog      repository.CatalogRepository
	results      repository.ResultRepository
	maxBatch     int
	resultsLimit int
}

// NewBackendService constructs BackendService with batch and listing limits.
func NewBackendService(catalog repository.CatalogRepository, results repository.ResultRepository, maxBatch, resultsLimit int) *BackendServiceImpl {
	if maxBatch <= 0 {
		maxBatch = 5000
	}
	if resultsLimit <= 0 {
		resultsLimit = 100
	}
	return &BackendServiceImpl{catalog: catalog, results: results, maxBatch: maxBatch, resultsLimit: resultsLimit}
}

// List returns the stored catalog rows.
func (s *BackendServiceImpl) List(ctx context.Context) (convert.Rows, error) {
	return s.catalog.Rows(ctx)
}

// Results clamps limit to (0, resultsLimit].
func (s *BackendServiceImpl) Results(ctx context.Context, limit int) ([]model.Result, error) {
	if limit <= 0 || limit > s.resultsLimit {
		limit = s.resultsLimit
	}
	return s.results.List(ctx, limit)
}

// Submit validates r and inserts it. A replayed idempotency key is
// acknowledged with Duplicate set.
func (s *BackendServiceImpl) Submit(ctx context.Context, r model.Result) (convert.SubmitAck, error) {
	if r.Status == "" {
		r.Status = model.ResultActive
	}
	if err := errs.Validate(r); err != nil {
		return convert.SubmitAck{}, err
	}
	if !r.Status.Valid() {
		return convert.SubmitAck{}, errs.Invalid("status", "oneof")
	}
	dup, err := s.results.Insert(ctx, r)
	if err != nil {
		return convert.SubmitAck{}, fmt.Errorf("insert result: %w", err)
	}
	return convert.SubmitAck{ID: r.ID, Duplicate: dup}, nil
}

// Bulk validates the payload shape and size, then applies it atomically.
func (s *BackendServiceImpl) Bulk(ctx context.Context, p convert.BulkPayload) (convert.BulkAck, error) {
	if p.Mode == "" {
		p.Mode = model.PushMerge
	}
	if !p.Mode.Valid() {
		return convert.BulkAck{}, errs.Invalid("mode", "oneof")
	}
	if n := len(p.Decks) + len(p.Cards) + len(p.Tests) + len(p.Results); n > s.maxBatch {
		return convert.BulkAck{}, fmt.Errorf("%w: batch too large (%d > %d)", errs.Invalid("batch", "max"), n, s.maxBatch)
	}
	if err := convert.CheckRows(p.Rows()); err != nil {
		return convert.BulkAck{}, fmt.Errorf("%w: %v", errs.Invalid("rows", "required"), err)
	}
	for i, r := range p.Results {
		if r.ID == "" || r.IdempotencyKey == "" {
			return convert.BulkAck{}, fmt.Errorf("%w: results[%d]", errs.Invalid("results", "required"), i)
		}
	}
	return s.catalog.Apply(ctx, p)
}

// ArchiveMove moves a result to m.To.
func (s *BackendServiceImpl) ArchiveMove(ctx context.Context, m convert.ArchiveMove) error {
	if m.ID == "" {
		return errs.Invalid("id", "required")
	}
	if !m.To.Valid() {
		return errs.Invalid("to", "oneof")
	}
	return s.results.SetStatus(ctx, m.ID, m.To)
}

// DeleteForever removes a result. Deleting an already absent result
// succeeds so that queued replays settle.
func (s *BackendServiceImpl) DeleteForever(ctx context.Context, d convert.DeleteForever) error {
	if d.ID == "" {
		return errs.Invalid("id", "required")
	}
	if d.From == "" {
		d.From = model.ResultActive
	}
	if !d.From.Valid() {
		return errs.Invalid("from", "oneof")
	}
	if err := s.results.Delete(ctx, d.ID, d.From); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	return nil
}
