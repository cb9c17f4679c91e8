// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/quizdeck/internal/convert"
)

// CatalogRepository stores the denormalized deck, card and test rows.
type CatalogRepository interface {
	// Rows returns every stored row.
	Rows(ctx context.Context) (convert.Rows, error)
	// Apply writes a bulk payload in one transaction. PushReplace deletes the
	// stored catalog first; PushMerge upserts by id. Results are inserted,
	// skipping ids and idempotency keys already present.
	Apply(ctx context.Context, p convert.BulkPayload) (convert.BulkAck, error)
}
