package repository

import (
	"context"

	"github.com/and161185/quizdeck/internal/model"
)

// ResultRepository stores submitted quiz results.
type ResultRepository interface {
	// Insert stores r unless its id or idempotency key is already present,
	// in which case duplicate is true and nothing is written.
	Insert(ctx context.Context, r model.Result) (duplicate bool, err error)
	// List returns up to limit results, newest submission first.
	List(ctx context.Context, limit int) ([]model.Result, error)
	// SetStatus moves a result to status; errs.ErrNotFound for unknown ids.
	SetStatus(ctx context.Context, id string, status model.ResultStatus) error
	// Delete removes a result currently in status from; errs.ErrNotFound if none.
	Delete(ctx context.Context, id string, from model.ResultStatus) error
}
