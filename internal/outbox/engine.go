// Package outbox delivers locally captured writes to the backend at least
// once. Items leave the queue only after a confirmed remote write or an
// explicit Discard; failures are rescheduled with capped exponential backoff.
package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/lease"
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/store"
)

// DefaultInterval is the background flush period.
const DefaultInterval = 30 * time.Second

// Sender performs one remote write.
type Sender interface {
	Send(ctx context.Context, it model.OutboxItem) error
}

// Prober checks backend reachability.
type Prober interface {
	Ping(ctx context.Context) error
}

// Report describes one flush pass.
type Report struct {
	Skipped   bool // lease held by another process
	Attempted int
	Sent      int
	Failed    int
	Remaining int
	At        time.Time
}

// Changed reports whether the pass touched any item.
func (r Report) Changed() bool { return r.Sent > 0 || r.Failed > 0 }

// Notifier receives flush reports.
type Notifier func(Report)

// Status is a snapshot of the queue for display.
type Status struct {
	Items      []model.OutboxItem
	Pending    int
	Due        int
	Online     bool
	LastReport Report
}

// Engine owns the outbox queue of one store.
type Engine struct {
	store  *store.Store
	sender Sender
	lease  *lease.Lease
	log    *zap.Logger

	now      func() time.Time
	interval time.Duration
	base     time.Duration
	max      time.Duration
	notify   Notifier
	prober   Prober

	group  singleflight.Group
	kick   chan struct{}
	online atomic.Bool

	mu   sync.Mutex
	last Report
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithBackoff overrides the retry delay base and cap.
func WithBackoff(base, max time.Duration) Option {
	return func(e *Engine) {
		if base > 0 && max >= base {
			e.base, e.max = base, max
		}
	}
}

// WithNotifier registers a callback for flush reports.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notify = n } }

// WithProber enables the connectivity probe in Run.
func WithProber(p Prober) Option { return func(e *Engine) { e.prober = p } }

// New builds an engine. The lease serializes flushes across processes
// sharing the store.
func New(st *store.Store, sender Sender, l *lease.Lease, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		store:    st,
		sender:   sender,
		lease:    l,
		log:      log,
		now:      time.Now,
		interval: DefaultInterval,
		base:     DefaultBaseDelay,
		max:      DefaultMaxDelay,
		kick:     make(chan struct{}, 1),
	}
	e.online.Store(true)
	for _, o := range opts {
		o(e)
	}
	return e
}

// --- queue ---

// Enqueue adds a write for (action, id). Enqueueing an existing pair keeps
// the item and its schedule; for actions other than submitresult the newer
// payload replaces the queued one. It reports whether a new item was added.
func (e *Engine) Enqueue(ctx context.Context, action model.Action, id string, payload any) (bool, error) {
	if id == "" {
		return false, errs.Invalid("id", "required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode %s payload: %w", action, err)
	}
	now := e.now()
	added := false
	_, err = e.store.UpdateOutbox(ctx, func(items []model.OutboxItem) []model.OutboxItem {
		for i := range items {
			if items[i].Action == action && items[i].ID == id {
				if action != model.ActionSubmitResult {
					items[i].Payload = raw
				}
				return items
			}
		}
		added = true
		return append(items, model.OutboxItem{
			ID:                 id,
			Action:             action,
			Payload:            raw,
			NextAttemptAtEpoch: now.UnixMilli(),
			CreatedAtEpoch:     now.UnixMilli(),
		})
	})
	if err != nil {
		return false, err
	}
	if added {
		e.log.Debug("outbox enqueued", zap.String("action", string(action)), zap.String("id", id))
	}
	return added, nil
}

// SubmitResult completes r, validates it, stores it locally and queues it
// for delivery. Invalid results are returned as *errs.ValidationError and
// never queued.
func (e *Engine) SubmitResult(ctx context.Context, r model.Result) (model.Result, error) {
	now := e.now()
	if r.ID == "" {
		r.ID = store.NewID()
	}
	if r.ClientID == "" {
		r.ClientID = e.store.ClientID()
	}
	if r.SubmittedAtEpoch == 0 {
		r.SubmittedAtEpoch = now.UnixMilli()
	}
	if r.IdempotencyKey == "" {
		r.IdempotencyKey = NewIdempotencyKey(r.ClientID, now)
	}
	if r.Status == "" {
		r.Status = model.ResultActive
	}
	if err := errs.Validate(r); err != nil {
		return model.Result{}, err
	}

	if err := e.store.AppendResult(ctx, r); err != nil {
		return model.Result{}, err
	}
	if _, err := e.Enqueue(ctx, model.ActionSubmitResult, r.OutboxID(), r); err != nil {
		return model.Result{}, err
	}
	e.Kick()
	return r, nil
}

// Discard drops every queued item with the given id.
func (e *Engine) Discard(ctx context.Context, id string) error {
	found := false
	_, err := e.store.UpdateOutbox(ctx, func(items []model.OutboxItem) []model.OutboxItem {
		out := items[:0]
		for _, it := range items {
			if it.ID == id {
				found = true
				continue
			}
			out = append(out, it)
		}
		return out
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("outbox item %s: %w", id, errs.ErrNotFound)
	}
	e.log.Info("outbox item discarded", zap.String("id", id))
	return nil
}

// Status reloads the queue and summarizes it.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	items, err := e.store.ReloadOutbox(ctx)
	if err != nil {
		return Status{}, err
	}
	now := e.now()
	st := Status{Items: items, Pending: len(items), Online: e.online.Load()}
	for _, it := range items {
		if it.Due(now) {
			st.Due++
		}
	}
	e.mu.Lock()
	st.LastReport = e.last
	e.mu.Unlock()
	return st, nil
}

// --- flushing ---

// Flush sends every due item once. Concurrent callers share one pass; a
// caller whose ctx ends stops waiting but the pass itself runs to completion.
// With forceNotify the notifier fires even if nothing changed.
func (e *Engine) Flush(ctx context.Context, forceNotify bool) (Report, error) {
	detached := context.WithoutCancel(ctx)
	ch := e.group.DoChan("flush", func() (any, error) {
		return e.flush(detached)
	})
	select {
	case res := <-ch:
		rep, _ := res.Val.(Report)
		if res.Err == nil && forceNotify && !rep.Changed() {
			e.emit(rep)
		}
		return rep, res.Err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

func (e *Engine) flush(ctx context.Context) (Report, error) {
	rep := Report{At: e.now()}

	if err := e.lease.Acquire(ctx); err != nil {
		if errors.Is(err, errs.ErrLeaseHeld) {
			rep.Skipped = true
			e.log.Debug("outbox flush skipped, lease held elsewhere")
			e.record(rep)
			return rep, nil
		}
		return rep, err
	}
	defer func() {
		if err := e.lease.Release(ctx); err != nil {
			e.log.Warn("release flush lease", zap.Error(err))
		}
	}()

	items, err := e.store.ReloadOutbox(ctx)
	if err != nil {
		return rep, err
	}
	rep.Remaining = len(items)

	for _, it := range items {
		if !it.Due(e.now()) {
			continue
		}
		// keep the lease alive across slow sends
		if err := e.lease.Acquire(ctx); err != nil {
			e.log.Warn("flush lease lost, stopping pass", zap.Error(err))
			break
		}
		rep.Attempted++
		sendErr := e.sender.Send(ctx, it)
		remaining, err := e.settle(ctx, it, sendErr)
		if err != nil {
			return rep, err
		}
		rep.Remaining = remaining
		if sendErr == nil {
			rep.Sent++
			continue
		}
		rep.Failed++
		e.log.Warn("outbox send failed",
			zap.String("action", string(it.Action)),
			zap.String("id", it.ID),
			zap.Int("attempt", it.AttemptCount+1),
			zap.Error(sendErr),
		)
	}

	e.record(rep)
	if rep.Changed() {
		e.emit(rep)
	}
	return rep, nil
}

// settle removes a confirmed item or reschedules a failed one.
func (e *Engine) settle(ctx context.Context, sent model.OutboxItem, sendErr error) (int, error) {
	now := e.now()
	items, err := e.store.UpdateOutbox(ctx, func(items []model.OutboxItem) []model.OutboxItem {
		for i := range items {
			cur := &items[i]
			if cur.Action != sent.Action || cur.ID != sent.ID {
				continue
			}
			if sendErr == nil {
				// a payload replaced during the send is delivered next pass
				if bytes.Equal(cur.Payload, sent.Payload) {
					return append(items[:i], items[i+1:]...)
				}
				return items
			}
			cur.AttemptCount++
			cur.LastError = sendErr.Error()
			cur.NextAttemptAtEpoch = now.Add(Delay(cur.AttemptCount, e.base, e.max)).UnixMilli()
			return items
		}
		return items
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (e *Engine) record(rep Report) {
	e.mu.Lock()
	e.last = rep
	e.mu.Unlock()
}

func (e *Engine) emit(rep Report) {
	e.log.Info("outbox flushed",
		zap.Bool("skipped", rep.Skipped),
		zap.Int("sent", rep.Sent),
		zap.Int("failed", rep.Failed),
		zap.Int("remaining", rep.Remaining),
	)
	if e.notify != nil {
		e.notify(rep)
	}
}

// --- triggers ---

// Kick asks a running Run loop to flush soon. It never blocks.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// NotifyOnline records a connectivity transition to online and triggers a flush.
func (e *Engine) NotifyOnline() {
	e.online.Store(true)
	e.Kick()
}

// NotifyOffline records loss of connectivity; Run skips flushing while offline.
func (e *Engine) NotifyOffline() { e.online.Store(false) }

// NotifyActive signals the user returned to the app.
func (e *Engine) NotifyActive() { e.Kick() }

// Online reports the last known connectivity.
func (e *Engine) Online() bool { return e.online.Load() }

// Run flushes on start, on every kick and every interval until ctx ends.
// An in-flight pass is allowed to finish before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.runPass(ctx, true)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.runPass(ctx, true)
		case <-e.kick:
			e.runPass(ctx, false)
		}
	}
}

func (e *Engine) runPass(ctx context.Context, probe bool) {
	if ctx.Err() != nil {
		return
	}
	if probe && e.prober != nil {
		err := e.prober.Ping(ctx)
		wasOnline := e.online.Swap(err == nil)
		switch {
		case err != nil && wasOnline:
			e.log.Info("backend unreachable", zap.Error(err))
		case err == nil && !wasOnline:
			e.log.Info("backend reachable again")
		}
	}
	if !e.online.Load() {
		return
	}
	if _, err := e.Flush(context.WithoutCancel(ctx), false); err != nil {
		e.log.Error("outbox flush", zap.Error(err))
	}
}
