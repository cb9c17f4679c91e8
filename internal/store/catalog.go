package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/selection"
)

// Decks returns a copy of every deck, sorted by class then deck name.
func (s *Store) Decks() []model.Deck {
	s.mu.RLock()
	out := cloneDecks(s.decks)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Deck returns the deck with the given id.
func (s *Store) Deck(id string) (model.Deck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.deckPos(id)
	if i < 0 {
		return model.Deck{}, fmt.Errorf("deck %s: %w", id, errs.ErrNotFound)
	}
	return cloneDecks(s.decks[i : i+1])[0], nil
}

// FindDeck looks a deck up by its identity (class, name).
func (s *Store) FindDeck(className, deckName string) (model.Deck, error) {
	key := model.IdentityKey(className, deckName)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.decks {
		if s.decks[i].Key() == key {
			return cloneDecks(s.decks[i : i+1])[0], nil
		}
	}
	return model.Deck{}, fmt.Errorf("deck %q/%q: %w", className, deckName, errs.ErrNotFound)
}

func (s *Store) deckPos(id string) int {
	for i := range s.decks {
		if s.decks[i].ID == id {
			return i
		}
	}
	return -1
}

// EnsureDeck returns the deck with the given identity, creating it when absent.
func (s *Store) EnsureDeck(ctx context.Context, className, deckName string) (model.Deck, error) {
	className, deckName = strings.TrimSpace(className), strings.TrimSpace(deckName)
	ve := &errs.ValidationError{}
	if className == "" {
		ve.Fields = append(ve.Fields, errs.FieldError{Field: "className", Rule: "required"})
	}
	if deckName == "" {
		ve.Fields = append(ve.Fields, errs.FieldError{Field: "deckName", Rule: "required"})
	}
	if len(ve.Fields) > 0 {
		return model.Deck{}, ve
	}

	key := model.IdentityKey(className, deckName)
	s.mu.Lock()
	defer s.mu.Unlock()
	var d model.Deck
	err := s.editCatalog(ctx, func() error {
		for i := range s.decks {
			if s.decks[i].Key() == key {
				d = s.decks[i]
				return errUnchanged
			}
		}
		d = model.Deck{ID: s.id(), ClassName: className, DeckName: deckName, Tags: []string{}, Cards: []model.Card{}}
		s.decks = append(s.decks, d)
		return nil
	})
	if err != nil {
		return model.Deck{}, err
	}
	return cloneDecks([]model.Deck{d})[0], nil
}

// DeclareTags adds sub-deck names to a deck without adding cards.
func (s *Store) DeclareTags(ctx context.Context, deckID string, tags ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editCatalog(ctx, func() error {
		i := s.deckPos(deckID)
		if i < 0 {
			return fmt.Errorf("deck %s: %w", deckID, errs.ErrNotFound)
		}
		s.decks[i].Tags = model.UnionTags(s.decks[i].Tags, tags)
		return nil
	})
}

// DeleteDeck removes a deck with its cards. Tests that referenced it keep
// their selections; the resolver skips missing decks.
func (s *Store) DeleteDeck(ctx context.Context, deckID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editCatalog(ctx, func() error {
		i := s.deckPos(deckID)
		if i < 0 {
			return fmt.Errorf("deck %s: %w", deckID, errs.ErrNotFound)
		}
		s.decks = append(s.decks[:i], s.decks[i+1:]...)
		return nil
	})
}

// ValidateCard checks a card's fields before it is stored.
func ValidateCard(c model.Card) error {
	ve := &errs.ValidationError{}
	if strings.TrimSpace(c.Question) == "" {
		ve.Fields = append(ve.Fields, errs.FieldError{Field: "question", Rule: "required"})
	}
	if strings.TrimSpace(c.CorrectAnswer) == "" {
		ve.Fields = append(ve.Fields, errs.FieldError{Field: "correctAnswer", Rule: "required"})
	}
	wrong := 0
	for _, d := range c.Distractors {
		if strings.TrimSpace(d) != "" {
			wrong++
		}
	}
	if wrong < 1 || wrong > model.MaxDistractors {
		ve.Fields = append(ve.Fields, errs.FieldError{Field: "distractors", Rule: "1..3"})
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

// AddCards validates and appends cards to a deck, assigning ids and creation
// times. Every non-empty sub-tag is declared on the deck. Nothing is written
// if any card is invalid.
func (s *Store) AddCards(ctx context.Context, deckID string, cards ...model.Card) ([]model.Card, error) {
	prepared := make([]model.Card, 0, len(cards))
	for i, c := range cards {
		if err := ValidateCard(c); err != nil {
			return nil, fmt.Errorf("card %d: %w", i, err)
		}
		c.Question = strings.TrimSpace(c.Question)
		c.CorrectAnswer = strings.TrimSpace(c.CorrectAnswer)
		c.SubTag = strings.TrimSpace(c.SubTag)
		var wrong []string
		for _, d := range c.Distractors {
			if d = strings.TrimSpace(d); d != "" {
				wrong = append(wrong, d)
			}
		}
		c.Distractors = wrong
		prepared = append(prepared, c)
	}

	now := s.now().UTC()
	var tags []string
	for j := range prepared {
		if prepared[j].ID == "" {
			prepared[j].ID = s.id()
		}
		if prepared[j].CreatedAt.IsZero() {
			prepared[j].CreatedAt = now
		}
		if prepared[j].SubTag != "" {
			tags = append(tags, prepared[j].SubTag)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.editCatalog(ctx, func() error {
		i := s.deckPos(deckID)
		if i < 0 {
			return fmt.Errorf("deck %s: %w", deckID, errs.ErrNotFound)
		}
		d := &s.decks[i]
		d.Cards = append(d.Cards, prepared...)
		d.Tags = model.UnionTags(d.Tags, tags)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return append([]model.Card(nil), prepared...), nil
}

// DeleteCard removes one card from a deck. Declared tags are kept.
func (s *Store) DeleteCard(ctx context.Context, deckID, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editCatalog(ctx, func() error {
		i := s.deckPos(deckID)
		if i < 0 {
			return fmt.Errorf("deck %s: %w", deckID, errs.ErrNotFound)
		}
		cards := s.decks[i].Cards
		for j := range cards {
			if cards[j].ID == cardID {
				s.decks[i].Cards = append(cards[:j:j], cards[j+1:]...)
				return nil
			}
		}
		return fmt.Errorf("card %s: %w", cardID, errs.ErrNotFound)
	})
}

// TestDraft is the input of SaveTest.
type TestDraft struct {
	ID            string // empty: match by name or create
	Name          string
	Title         string
	QuestionCount int
	Selections    []model.RawSelection
}

// SaveTest normalizes the draft's selections and stores the test.
// A draft without ID overwrites the test with the same name, keeping its id.
// Renaming onto another test's name fails with errs.ErrAlreadyExists.
func (s *Store) SaveTest(ctx context.Context, in TestDraft) (model.Test, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Test{}, errs.Invalid("name", "required")
	}
	t := model.Test{
		ID:            in.ID,
		Name:          name,
		Title:         strings.TrimSpace(in.Title),
		QuestionCount: in.QuestionCount,
		Selections:    selection.Normalize(in.Selections),
	}
	if t.Title == "" {
		t.Title = name
	}
	if t.QuestionCount <= 0 {
		t.QuestionCount = model.DefaultQuestionCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.editCatalog(ctx, func() error {
		byName := s.testPosByName(name)
		switch {
		case t.ID == "" && byName >= 0:
			t.ID = s.tests[byName].ID
			s.tests[byName] = t
		case t.ID == "":
			t.ID = s.id()
			s.tests = append(s.tests, t)
		default:
			if byName >= 0 && s.tests[byName].ID != t.ID {
				return fmt.Errorf("test %q: %w", name, errs.ErrAlreadyExists)
			}
			if i := s.testPos(t.ID); i >= 0 {
				s.tests[i] = t
			} else {
				s.tests = append(s.tests, t)
			}
		}
		return nil
	})
	if err != nil {
		return model.Test{}, err
	}
	return cloneTests([]model.Test{t})[0], nil
}

// DeleteTest removes a test by id.
func (s *Store) DeleteTest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editCatalog(ctx, func() error {
		i := s.testPos(id)
		if i < 0 {
			return fmt.Errorf("test %s: %w", id, errs.ErrNotFound)
		}
		s.tests = append(s.tests[:i], s.tests[i+1:]...)
		return nil
	})
}

// Tests returns every test sorted by name.
func (s *Store) Tests() []model.Test {
	s.mu.RLock()
	out := cloneTests(s.tests)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

// Test looks a test up by id, then by case-insensitive name.
func (s *Store) Test(ref string) (model.Test, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.testPos(ref)
	if i < 0 {
		i = s.testPosByName(ref)
	}
	if i < 0 {
		return model.Test{}, fmt.Errorf("test %q: %w", ref, errs.ErrNotFound)
	}
	return cloneTests(s.tests[i : i+1])[0], nil
}

func (s *Store) testPos(id string) int {
	for i := range s.tests {
		if s.tests[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) testPosByName(name string) int {
	name = strings.TrimSpace(name)
	for i := range s.tests {
		if strings.EqualFold(s.tests[i].Name, name) {
			return i
		}
	}
	return -1
}

// Pool resolves a test's selections against the current decks.
func (s *Store) Pool(ref string) (model.Test, []model.Card, error) {
	t, err := s.Test(ref)
	if err != nil {
		return model.Test{}, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return t, selection.ResolvePool(t.Selections, s.deckIndex()), nil
}

// DeckIndex maps a copy of the current decks by id.
func (s *Store) DeckIndex() map[string]model.Deck {
	return selection.DeckIndex(s.Decks())
}
