// Package reconcile moves the catalog between the local store and the
// backend: pull replaces the local catalog, push sends a full snapshot.
// Both directions are last-writer-wins at whole-catalog granularity.
package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/quizdeck/internal/convert"
	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/merge"
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/store"
)

// Remote is the part of the backend the reconciler needs.
type Remote interface {
	List(ctx context.Context) (convert.Rows, error)
	Results(ctx context.Context, limit int) ([]model.Result, error)
	BulkUpsert(ctx context.Context, s model.Snapshot, mode model.PushMode) (convert.BulkAck, error)
	ArchiveMove(ctx context.Context, id string, to model.ResultStatus) error
	DeleteForever(ctx context.Context, id string, from model.ResultStatus) error
}

// PullReport describes a pull.
type PullReport struct {
	Skipped bool // local catalog already hydrated and force not set
	Decks   int
	Cards   int
	Tests   int
	Orphans int // cards whose deck was not listed
	Merge   merge.Report
}

// Reconciler syncs one store with one backend.
type Reconciler struct {
	store  *store.Store
	remote Remote
	log    *zap.Logger
	group  singleflight.Group
}

// New builds a Reconciler.
func New(st *store.Store, remote Remote, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{store: st, remote: remote, log: log}
}

// Pull replaces the local catalog with the backend's. Without force it only
// runs when the local catalog is empty. Concurrent pulls share one request.
func (r *Reconciler) Pull(ctx context.Context, force bool) (PullReport, error) {
	if !force {
		c := r.store.Catalog()
		if len(c.Decks) > 0 || len(c.Tests) > 0 {
			return PullReport{Skipped: true}, nil
		}
	}
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan("pull", func() (any, error) {
		return r.pull(detached)
	})
	select {
	case res := <-ch:
		rep, _ := res.Val.(PullReport)
		return rep, res.Err
	case <-ctx.Done():
		return PullReport{}, ctx.Err()
	}
}

func (r *Reconciler) pull(ctx context.Context) (PullReport, error) {
	rows, err := r.remote.List(ctx)
	if err != nil {
		return PullReport{}, fmt.Errorf("pull: %w", err)
	}
	catalog, orphans := convert.FromRows(rows)
	if len(orphans) > 0 {
		r.log.Warn("pulled cards reference unknown decks", zap.Int("count", len(orphans)))
	}
	mrep, err := r.store.ReplaceCatalog(ctx, catalog)
	if err != nil {
		return PullReport{}, fmt.Errorf("pull: %w", err)
	}

	rep := PullReport{
		Decks:   len(catalog.Decks) - len(mrep.Remap),
		Cards:   len(rows.Cards) - len(orphans),
		Tests:   len(catalog.Tests),
		Orphans: len(orphans),
		Merge:   mrep,
	}
	r.log.Info("catalog pulled",
		zap.Int("decks", rep.Decks),
		zap.Int("cards", rep.Cards),
		zap.Int("tests", rep.Tests),
		zap.Int("merged_decks", len(mrep.Remap)),
	)
	return rep, nil
}

// Push merges duplicate decks locally, then sends the catalog and every
// local result.
func (r *Reconciler) Push(ctx context.Context, mode model.PushMode) (convert.BulkAck, error) {
	if !mode.Valid() {
		return convert.BulkAck{}, errs.Invalid("mode", "oneof=merge replace")
	}
	if _, err := r.store.MergeDuplicates(ctx); err != nil {
		return convert.BulkAck{}, fmt.Errorf("push: %w", err)
	}
	snap := r.store.Snapshot()
	ack, err := r.remote.BulkUpsert(ctx, snap, mode)
	if err != nil {
		return convert.BulkAck{}, fmt.Errorf("push: %w", err)
	}
	r.log.Info("catalog pushed",
		zap.String("mode", string(mode)),
		zap.Int("decks", len(snap.Decks)),
		zap.Int("tests", len(snap.Tests)),
		zap.Int("results", len(snap.Results)),
	)
	return ack, nil
}

// Results fetches remote results and mirrors their status onto local copies.
func (r *Reconciler) Results(ctx context.Context, limit int) ([]model.Result, error) {
	out, err := r.remote.Results(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("results: %w", err)
	}
	for _, res := range out {
		if !res.Status.Valid() {
			continue
		}
		if err := r.store.SetResultStatus(ctx, res.ID, res.Status); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ArchiveMove moves a result to the active or archived set remotely, then
// locally.
func (r *Reconciler) ArchiveMove(ctx context.Context, id string, to model.ResultStatus) error {
	if id == "" {
		return errs.Invalid("id", "required")
	}
	if !to.Valid() {
		return errs.Invalid("to", "oneof=active archived")
	}
	if err := r.remote.ArchiveMove(ctx, id, to); err != nil {
		return fmt.Errorf("archive move: %w", err)
	}
	return r.store.SetResultStatus(ctx, id, to)
}

// DeleteForever removes a result remotely, then locally.
func (r *Reconciler) DeleteForever(ctx context.Context, id string, from model.ResultStatus) error {
	if id == "" {
		return errs.Invalid("id", "required")
	}
	if from == "" {
		from = model.ResultActive
	}
	if !from.Valid() {
		return errs.Invalid("from", "oneof=active archived")
	}
	if err := r.remote.DeleteForever(ctx, id, from); err != nil {
		return fmt.Errorf("delete forever: %w", err)
	}
	return r.store.RemoveResult(ctx, id)
}
