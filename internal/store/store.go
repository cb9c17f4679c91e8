// Package store holds the client's entity store: decks, tests, results and
// the outbox, persisted as namespaced JSON blobs in a local KV store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/localstore"
	"github.com/and161185/quizdeck/internal/merge"
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/selection"
)

// SchemaVersion is written under KeySchemaVersion.
const SchemaVersion = 1

// Durable keys.
const (
	KeyPrefix        = "quizdeck."
	KeyDecks         = KeyPrefix + "decks"
	KeyTests         = KeyPrefix + "tests"
	KeyResults       = KeyPrefix + "results"
	KeyOutbox        = KeyPrefix + "outbox"
	KeyClient        = KeyPrefix + "client"
	KeySchemaVersion = KeyPrefix + "schema_version"
)

type clientInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the single source of truth the client components operate on.
// All methods are safe for concurrent use.
type Store struct {
	mu  sync.RWMutex
	kv  localstore.KV
	log *zap.Logger
	now func() time.Time
	id  func() string

	client  clientInfo
	decks   []model.Deck
	tests   []model.Test
	results []model.Result
	outbox  []model.OutboxItem
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithIDGenerator overrides ID generation.
func WithIDGenerator(id func() string) Option { return func(s *Store) { s.id = id } }

// NewID returns a random UUIDv4 string.
func NewID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// Open loads every blob from kv, creating the client identity on first use.
func Open(ctx context.Context, kv localstore.KV, log *zap.Logger, opts ...Option) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{kv: kv, log: log, now: time.Now, id: NewID}
	for _, o := range opts {
		o(s)
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	err := kv.Update(ctx, func(tx localstore.Tx) error {
		if err := loadJSON(ctx, tx, KeyClient, &s.client); err != nil {
			return err
		}
		if s.client.ID != "" {
			return errUnchanged
		}
		s.client = clientInfo{ID: s.id(), CreatedAt: s.now().UTC()}
		return saveJSON(ctx, tx, KeyClient, s.client)
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, err
	}
	for key, dst := range map[string]any{
		KeyDecks:   &s.decks,
		KeyTests:   &s.tests,
		KeyResults: &s.results,
		KeyOutbox:  &s.outbox,
	} {
		if err := loadJSON(ctx, kv, key, dst); err != nil {
			return nil, err
		}
	}

	log.Debug("store opened",
		zap.String("client", s.client.ID),
		zap.Int("decks", len(s.decks)),
		zap.Int("tests", len(s.tests)),
		zap.Int("results", len(s.results)),
		zap.Int("outbox", len(s.outbox)),
	)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, KeySchemaVersion)
	switch {
	case errors.Is(err, errs.ErrNotFound):
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	default:
		v, convErr := strconv.Atoi(string(raw))
		if convErr != nil {
			return fmt.Errorf("bad schema version %q: %w", raw, convErr)
		}
		if v > SchemaVersion {
			return fmt.Errorf("local data has schema %d, newer than supported %d", v, SchemaVersion)
		}
	}
	return s.kv.Set(ctx, KeySchemaVersion, []byte(strconv.Itoa(SchemaVersion)))
}

// ClientID returns the stable identity of this client installation.
func (s *Store) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client.ID
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time { return s.now() }

func loadJSON(ctx context.Context, kv localstore.Tx, key string, dst any) error {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func saveJSON(ctx context.Context, kv localstore.Tx, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// errUnchanged ends an edit without writing.
var errUnchanged = errors.New("unchanged")

// editCatalog reloads decks and tests inside one storage transaction, runs
// fn against the fresh copies and writes both back, so edits made by other
// processes since Open are kept. On error the previous state is restored.
// fn may return errUnchanged to skip the write. Callers hold mu.
func (s *Store) editCatalog(ctx context.Context, fn func() error) error {
	prevDecks, prevTests := s.decks, s.tests
	err := s.kv.Update(ctx, func(tx localstore.Tx) error {
		s.decks, s.tests = nil, nil
		if err := loadJSON(ctx, tx, KeyDecks, &s.decks); err != nil {
			return err
		}
		if err := loadJSON(ctx, tx, KeyTests, &s.tests); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		if err := saveJSON(ctx, tx, KeyDecks, s.decks); err != nil {
			return err
		}
		return saveJSON(ctx, tx, KeyTests, s.tests)
	})
	switch {
	case errors.Is(err, errUnchanged):
		return nil
	case err != nil:
		s.decks, s.tests = prevDecks, prevTests
		return err
	}
	return nil
}

// editResults is editCatalog for the results blob.
func (s *Store) editResults(ctx context.Context, fn func() error) error {
	prev := s.results
	err := s.kv.Update(ctx, func(tx localstore.Tx) error {
		s.results = nil
		if err := loadJSON(ctx, tx, KeyResults, &s.results); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		return saveJSON(ctx, tx, KeyResults, s.results)
	})
	switch {
	case errors.Is(err, errUnchanged):
		return nil
	case err != nil:
		s.results = prev
		return err
	}
	return nil
}

// Catalog returns a copy of decks and tests.
func (s *Store) Catalog() model.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Catalog{Decks: cloneDecks(s.decks), Tests: cloneTests(s.tests)}
}

// Snapshot returns the catalog plus every local result.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Snapshot{
		Catalog: model.Catalog{Decks: cloneDecks(s.decks), Tests: cloneTests(s.tests)},
		Results: append([]model.Result(nil), s.results...),
	}
}

// ReplaceCatalog swaps the whole catalog, then merges duplicate decks and
// normalizes every test.
func (s *Store) ReplaceCatalog(ctx context.Context, c model.Catalog) (merge.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rep merge.Report
	err := s.editCatalog(ctx, func() error {
		s.decks, s.tests, rep = merge.DuplicateDecks(c.Decks, c.Tests)
		return nil
	})
	return rep, err
}

// MergeDuplicates runs the deck identity merger over the current catalog.
// It is a no-op when there are no duplicates.
func (s *Store) MergeDuplicates(ctx context.Context) (merge.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rep merge.Report
	err := s.editCatalog(ctx, func() error {
		var decks []model.Deck
		var tests []model.Test
		decks, tests, rep = merge.DuplicateDecks(s.decks, s.tests)
		if !rep.Changed() {
			return errUnchanged
		}
		s.decks, s.tests = decks, tests
		return nil
	})
	if err != nil || !rep.Changed() {
		return rep, err
	}
	s.log.Info("merged duplicate decks",
		zap.Int("merged", len(rep.Remap)),
		zap.Int("moved_cards", rep.MovedCards),
		zap.Int("tests_rewritten", rep.TestsRewritten),
	)
	return rep, nil
}

func cloneDecks(in []model.Deck) []model.Deck {
	out := make([]model.Deck, len(in))
	for i, d := range in {
		out[i] = d
		out[i].Tags = append([]string(nil), d.Tags...)
		out[i].Cards = append([]model.Card(nil), d.Cards...)
	}
	return out
}

func cloneTests(in []model.Test) []model.Test {
	out := make([]model.Test, len(in))
	for i, t := range in {
		out[i] = t
		out[i].Selections = append([]model.Selection(nil), t.Selections...)
	}
	return out
}

// deckIndex is selection.DeckIndex over the live decks; callers hold mu.
func (s *Store) deckIndex() map[string]model.Deck {
	return selection.DeckIndex(s.decks)
}
