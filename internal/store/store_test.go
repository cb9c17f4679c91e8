package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/localstore"
	"github.com/and161185/quizdeck/internal/model"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func openStore(t *testing.T, kv localstore.KV) *Store {
	t.Helper()
	clk := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s, err := Open(context.Background(), kv, zaptest.NewLogger(t),
		WithClock(func() time.Time { return clk }), WithIDGenerator(seqIDs()))
	require.NoError(t, err)
	return s
}

func card(q, sub string) model.Card {
	return model.Card{Question: q, CorrectAnswer: "a", Distractors: []string{"b"}, SubTag: sub}
}

func TestOpen_ClientIdentityIsStable(t *testing.T) {
	ctx := context.Background()
	kv := localstore.NewMemory()

	s1, err := Open(ctx, kv, nil)
	require.NoError(t, err)
	require.NotEmpty(t, s1.ClientID())

	s2, err := Open(ctx, kv, nil)
	require.NoError(t, err)
	require.Equal(t, s1.ClientID(), s2.ClientID())

	v, err := kv.Get(ctx, KeySchemaVersion)
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	kv := localstore.NewMemory()
	require.NoError(t, kv.Set(ctx, KeySchemaVersion, []byte("99")))
	_, err := Open(ctx, kv, nil)
	require.Error(t, err)
}

func TestEnsureDeck_ByIdentityKey(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, localstore.NewMemory())

	d1, err := s.EnsureDeck(ctx, "Barista", "Espresso")
	require.NoError(t, err)
	d2, err := s.EnsureDeck(ctx, " barista ", "ESPRESSO")
	require.NoError(t, err)
	require.Equal(t, d1.ID, d2.ID)
	require.Len(t, s.Decks(), 1)

	_, err = s.EnsureDeck(ctx, "", " ")
	var ve *errs.ValidationError
	require.ErrorAs(t, err, &ve)
	require.True(t, ve.Has("className"))
	require.True(t, ve.Has("deckName"))
}

func TestAddCards_DeclaresSubTags(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, localstore.NewMemory())
	d, err := s.EnsureDeck(ctx, "Barista", "Espresso")
	require.NoError(t, err)

	added, err := s.AddCards(ctx, d.ID, card("q1", "milk"), card("q2", ""), card("q3", " syrup "))
	require.NoError(t, err)
	require.Len(t, added, 3)
	for _, c := range added {
		require.NotEmpty(t, c.ID)
		require.False(t, c.CreatedAt.IsZero())
	}

	got, err := s.Deck(d.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"milk", "syrup"}, got.Tags)
	require.Len(t, got.Cards, 3)

	_, err = s.AddCards(ctx, d.ID, card("ok", ""), model.Card{Question: "no answer"})
	require.True(t, errs.IsValidation(err))
	got, _ = s.Deck(d.ID)
	require.Len(t, got.Cards, 3, "invalid batch writes nothing")

	_, err = s.AddCards(ctx, "nope", card("q", ""))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestValidateCard(t *testing.T) {
	tests := []struct {
		name  string
		card  model.Card
		field string
	}{
		{"ok", card("q", ""), ""},
		{"no question", model.Card{CorrectAnswer: "a", Distractors: []string{"b"}}, "question"},
		{"no answer", model.Card{Question: "q", Distractors: []string{"b"}}, "correctAnswer"},
		{"no distractors", model.Card{Question: "q", CorrectAnswer: "a", Distractors: []string{" "}}, "distractors"},
		{"too many distractors", model.Card{Question: "q", CorrectAnswer: "a", Distractors: []string{"1", "2", "3", "4"}}, "distractors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCard(tt.card)
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var ve *errs.ValidationError
			require.ErrorAs(t, err, &ve)
			require.True(t, ve.Has(tt.field), ve.Error())
		})
	}
}

func TestDeleteCard(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, localstore.NewMemory())
	d, _ := s.EnsureDeck(ctx, "c", "d")
	added, err := s.AddCards(ctx, d.ID, card("q1", "x"), card("q2", "x"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteCard(ctx, d.ID, added[0].ID))
	got, _ := s.Deck(d.ID)
	require.Len(t, got.Cards, 1)
	require.Equal(t, "q2", got.Cards[0].Question)
	require.Equal(t, []string{"x"}, got.Tags)

	require.ErrorIs(t, s.DeleteCard(ctx, d.ID, added[0].ID), errs.ErrNotFound)
}

func TestSaveTest_NormalizesAndKeepsIDs(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, localstore.NewMemory())

	saved, err := s.SaveTest(ctx, TestDraft{
		Name: "Shift A",
		Selections: []model.RawSelection{
			{DeckID: "deck1", Whole: true},
			{DeckID: "deck1", Subs: []string{"syrup"}},
			{DeckID: "deck2"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Shift A", saved.Title)
	require.Equal(t, model.DefaultQuestionCount, saved.QuestionCount)
	require.Equal(t, []model.Selection{model.WholeDeck("deck1")}, saved.Selections)

	again, err := s.SaveTest(ctx, TestDraft{Name: "shift a", QuestionCount: 5})
	require.NoError(t, err)
	require.Equal(t, saved.ID, again.ID, "same name overwrites in place")
	require.Len(t, s.Tests(), 1)

	renamed, err := s.SaveTest(ctx, TestDraft{ID: saved.ID, Name: "Shift B", QuestionCount: 5})
	require.NoError(t, err)
	require.Equal(t, saved.ID, renamed.ID)

	other, err := s.SaveTest(ctx, TestDraft{Name: "Other"})
	require.NoError(t, err)
	_, err = s.SaveTest(ctx, TestDraft{ID: other.ID, Name: "SHIFT b"})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	byName, err := s.Test("shift B")
	require.NoError(t, err)
	require.Equal(t, saved.ID, byName.ID)
	byID, err := s.Test(other.ID)
	require.NoError(t, err)
	require.Equal(t, "Other", byID.Name)

	_, err = s.SaveTest(ctx, TestDraft{Name: "  "})
	require.True(t, errs.IsValidation(err))

	require.NoError(t, s.DeleteTest(ctx, other.ID))
	_, err = s.Test("Other")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPool_ResolvesAgainstDecks(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, localstore.NewMemory())
	d, _ := s.EnsureDeck(ctx, "Barista", "Espresso")
	_, err := s.AddCards(ctx, d.ID, card("q1", "milk"), card("q2", "syrup"), card("q3", ""))
	require.NoError(t, err)

	_, err = s.SaveTest(ctx, TestDraft{Name: "milk only", Selections: []model.RawSelection{
		{DeckID: d.ID, Subs: []string{"milk"}},
		{DeckID: "gone", Whole: true},
	}})
	require.NoError(t, err)

	tt, pool, err := s.Pool("milk only")
	require.NoError(t, err)
	require.Equal(t, "milk only", tt.Name)
	require.Len(t, pool, 1)
	require.Equal(t, "q1", pool[0].Question)
}

func TestMergeDuplicates_PersistsSurvivor(t *testing.T) {
	ctx := context.Background()
	kv := localstore.NewMemory()
	s := openStore(t, kv)

	_, err := s.ReplaceCatalog(ctx, model.Catalog{
		Decks: []model.Deck{
			{ID: "A", ClassName: "Barista", DeckName: "Espresso", Cards: []model.Card{{ID: "c1", SubTag: "Basics"}}},
			{ID: "B", ClassName: "barista", DeckName: "espresso ", Cards: []model.Card{{ID: "c2"}}},
		},
		Tests: []model.Test{{ID: "t1", Name: "T", QuestionCount: 1, Selections: []model.Selection{model.WholeDeck("B")}}},
	})
	require.NoError(t, err)

	rep, err := s.MergeDuplicates(ctx)
	require.NoError(t, err)
	require.False(t, rep.Changed(), "replace already merged")

	reopened := openStore(t, kv)
	decks := reopened.Decks()
	require.Len(t, decks, 1)
	require.Equal(t, "A", decks[0].ID)
	require.Len(t, decks[0].Cards, 2)
	require.Equal(t, []string{"Basics"}, decks[0].Tags)
	tt, err := reopened.Test("t1")
	require.NoError(t, err)
	require.Equal(t, []model.Selection{model.WholeDeck("A")}, tt.Selections)
}

func TestResults_AppendStatusRemove(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, localstore.NewMemory())

	r := model.Result{ID: "r1", TestName: "T"}
	require.NoError(t, s.AppendResult(ctx, r))
	require.NoError(t, s.AppendResult(ctx, r))
	require.Len(t, s.Results(), 1)

	got, err := s.Result("r1")
	require.NoError(t, err)
	require.Equal(t, model.ResultActive, got.Status)

	require.NoError(t, s.SetResultStatus(ctx, "r1", model.ResultArchived))
	got, _ = s.Result("r1")
	require.Equal(t, model.ResultArchived, got.Status)
	require.NoError(t, s.SetResultStatus(ctx, "remote-only", model.ResultArchived))
	require.True(t, errs.IsValidation(s.SetResultStatus(ctx, "r1", "lost")))

	require.NoError(t, s.RemoveResult(ctx, "r1"))
	_, err = s.Result("r1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpdateOutbox_SeesOtherProcessWrites(t *testing.T) {
	ctx := context.Background()
	kv := localstore.NewMemory()
	a := openStore(t, kv)
	b := openStore(t, kv)

	_, err := a.UpdateOutbox(ctx, func(items []model.OutboxItem) []model.OutboxItem {
		return append(items, model.OutboxItem{ID: "r1", Action: model.ActionSubmitResult})
	})
	require.NoError(t, err)
	require.Empty(t, b.Outbox(), "b has not reloaded yet")

	items, err := b.UpdateOutbox(ctx, func(items []model.OutboxItem) []model.OutboxItem {
		return append(items, model.OutboxItem{ID: "r2", Action: model.ActionSubmitResult})
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	items, err = a.ReloadOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Len(t, a.Outbox(), 2)
}

// twoHandles opens two stores on separate SQLite handles over one file, the
// way two qd processes share a store.
func twoHandles(t *testing.T) (a, b *Store, reopen func() *Store) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "qd.db")
	open := func() *Store {
		db, err := localstore.OpenSQLite(ctx, path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		s, err := Open(ctx, db, zaptest.NewLogger(t))
		require.NoError(t, err)
		return s
	}
	return open(), open(), open
}

func TestResults_TwoHandlesKeepEveryResult(t *testing.T) {
	ctx := context.Background()
	a, b, reopen := twoHandles(t)

	require.NoError(t, a.AppendResult(ctx, model.Result{ID: "r1", TestName: "T"}))
	require.NoError(t, b.AppendResult(ctx, model.Result{ID: "r2", TestName: "T"}))
	require.Len(t, b.Results(), 2, "b picks up a's result when it writes")

	require.NoError(t, a.SetResultStatus(ctx, "r2", model.ResultArchived))
	require.NoError(t, b.RemoveResult(ctx, "r1"))

	got := reopen().Results()
	require.Len(t, got, 1)
	require.Equal(t, "r2", got[0].ID)
	require.Equal(t, model.ResultArchived, got[0].Status)
}

func TestCatalog_TwoHandlesKeepEveryEdit(t *testing.T) {
	ctx := context.Background()
	a, b, reopen := twoHandles(t)

	da, err := a.EnsureDeck(ctx, "Coffee", "Espresso")
	require.NoError(t, err)
	_, err = b.EnsureDeck(ctx, "Tea", "Green")
	require.NoError(t, err)

	same, err := b.EnsureDeck(ctx, "coffee", "espresso")
	require.NoError(t, err)
	require.Equal(t, da.ID, same.ID, "b sees a's deck instead of creating a duplicate")

	_, err = a.AddCards(ctx, da.ID, card("crema?", "brew"))
	require.NoError(t, err)
	_, err = b.SaveTest(ctx, TestDraft{Name: "morning", Selections: []model.RawSelection{{DeckID: da.ID, Whole: true}}})
	require.NoError(t, err)

	c := reopen()
	require.Len(t, c.Decks(), 2)
	d, err := c.Deck(da.ID)
	require.NoError(t, err)
	require.Len(t, d.Cards, 1)
	_, pool, err := c.Pool("morning")
	require.NoError(t, err)
	require.Len(t, pool, 1)
}

func TestCatalog_FailedEditLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, localstore.NewMemory())
	d, err := s.EnsureDeck(ctx, "Coffee", "Espresso")
	require.NoError(t, err)

	require.ErrorIs(t, s.DeleteCard(ctx, d.ID, "nope"), errs.ErrNotFound)
	require.ErrorIs(t, s.DeleteDeck(ctx, "nope"), errs.ErrNotFound)
	require.Len(t, s.Decks(), 1)
}

func TestUpdateOutbox_TwoHandlesKeepEveryItem(t *testing.T) {
	ctx := context.Background()
	a, b, reopen := twoHandles(t)
	add := func(s *Store, id string) {
		_, err := s.UpdateOutbox(ctx, func(items []model.OutboxItem) []model.OutboxItem {
			return append(items, model.OutboxItem{ID: id, Action: model.ActionSubmitResult})
		})
		require.NoError(t, err)
	}

	add(a, "r1")
	add(b, "r2")
	// a settles r1 without having reloaded since b queued r2
	_, err := a.UpdateOutbox(ctx, func(items []model.OutboxItem) []model.OutboxItem {
		out := items[:0]
		for _, it := range items {
			if it.ID != "r1" {
				out = append(out, it)
			}
		}
		return out
	})
	require.NoError(t, err)

	items, err := reopen().ReloadOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "r2", items[0].ID)
}
