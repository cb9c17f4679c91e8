// Package convert maps domain entities to the denormalized rows exchanged
// with the backend and back.
package convert

import (
	"fmt"
	"time"

	"github.com/and161185/quizdeck/internal/model"
	"github.com/and161185/quizdeck/internal/selection"
)

// --- rows ---

// DeckRow is a deck without its cards.
type DeckRow struct {
	ID        string   `json:"id"`
	ClassName string   `json:"className"`
	DeckName  string   `json:"deckName"`
	Tags      []string `json:"tags"`
}

// CardRow is a card carrying its owning deck id.
type CardRow struct {
	ID            string    `json:"id"`
	DeckID        string    `json:"deckId"`
	Question      string    `json:"question"`
	CorrectAnswer string    `json:"correctAnswer"`
	Distractors   []string  `json:"distractors"`
	SubTag        string    `json:"subTag"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TestRow is a test with raw selections.
type TestRow struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Title         string               `json:"title"`
	QuestionCount int                  `json:"questionCount"`
	Selections    []model.RawSelection `json:"selections"`
}

// Rows is the payload of the list action.
type Rows struct {
	Decks []DeckRow `json:"decks"`
	Cards []CardRow `json:"cards"`
	Tests []TestRow `json:"tests"`
}

// --- catalog -> rows ---

// ToRows flattens a catalog. Slices are never nil so they encode as [].
func ToRows(c model.Catalog) Rows {
	out := Rows{
		Decks: make([]DeckRow, 0, len(c.Decks)),
		Cards: []CardRow{},
		Tests: make([]TestRow, 0, len(c.Tests)),
	}
	for _, d := range c.Decks {
		out.Decks = append(out.Decks, DeckRow{
			ID:        d.ID,
			ClassName: d.ClassName,
			DeckName:  d.DeckName,
			Tags:      nonNil(d.Tags),
		})
		for _, card := range d.Cards {
			out.Cards = append(out.Cards, ToCardRow(d.ID, card))
		}
	}
	for _, t := range c.Tests {
		out.Tests = append(out.Tests, ToTestRow(t))
	}
	return out
}

// ToCardRow attaches a card to its deck.
func ToCardRow(deckID string, c model.Card) CardRow {
	return CardRow{
		ID:            c.ID,
		DeckID:        deckID,
		Question:      c.Question,
		CorrectAnswer: c.CorrectAnswer,
		Distractors:   nonNil(c.Distractors),
		SubTag:        c.SubTag,
		CreatedAt:     c.CreatedAt,
	}
}

// ToTestRow converts a test to its row.
func ToTestRow(t model.Test) TestRow {
	return TestRow{
		ID:            t.ID,
		Name:          t.Name,
		Title:         t.Title,
		QuestionCount: t.QuestionCount,
		Selections:    selection.ToRaw(t.Selections),
	}
}

// --- rows -> catalog ---

// FromRows reassembles decks with their cards. Cards whose deck is not
// listed are returned as orphans instead of being attached. Test selections
// are normalized.
func FromRows(r Rows) (model.Catalog, []CardRow) {
	out := model.Catalog{
		Decks: make([]model.Deck, 0, len(r.Decks)),
		Tests: make([]model.Test, 0, len(r.Tests)),
	}
	pos := make(map[string]int, len(r.Decks))
	for _, d := range r.Decks {
		if _, dup := pos[d.ID]; dup {
			continue
		}
		pos[d.ID] = len(out.Decks)
		out.Decks = append(out.Decks, model.Deck{
			ID:        d.ID,
			ClassName: d.ClassName,
			DeckName:  d.DeckName,
			Tags:      model.UnionTags(d.Tags),
			Cards:     []model.Card{},
		})
	}

	var orphans []CardRow
	for _, c := range r.Cards {
		i, ok := pos[c.DeckID]
		if !ok {
			orphans = append(orphans, c)
			continue
		}
		out.Decks[i].Cards = append(out.Decks[i].Cards, FromCardRow(c))
		if c.SubTag != "" {
			out.Decks[i].Tags = model.UnionTags(out.Decks[i].Tags, []string{c.SubTag})
		}
	}

	for _, t := range r.Tests {
		out.Tests = append(out.Tests, FromTestRow(t))
	}
	return out, orphans
}

// FromCardRow drops the deck reference and keeps at most
// model.MaxDistractors wrong answers.
func FromCardRow(c CardRow) model.Card {
	wrong := nonNil(c.Distractors)
	if len(wrong) > model.MaxDistractors {
		wrong = wrong[:model.MaxDistractors]
	}
	return model.Card{
		ID:            c.ID,
		Question:      c.Question,
		CorrectAnswer: c.CorrectAnswer,
		Distractors:   wrong,
		SubTag:        c.SubTag,
		CreatedAt:     c.CreatedAt,
	}
}

// FromTestRow normalizes the row's selections. A non-positive count falls
// back to model.DefaultQuestionCount.
func FromTestRow(t TestRow) model.Test {
	n := t.QuestionCount
	if n <= 0 {
		n = model.DefaultQuestionCount
	}
	return model.Test{
		ID:            t.ID,
		Name:          t.Name,
		Title:         t.Title,
		QuestionCount: n,
		Selections:    selection.Normalize(t.Selections),
	}
}

// --- validation ---

// CheckRows reports the first row missing a required identifier.
func CheckRows(r Rows) error {
	for i, d := range r.Decks {
		if d.ID == "" {
			return fmt.Errorf("decks[%d]: empty id", i)
		}
	}
	for i, c := range r.Cards {
		if c.ID == "" || c.DeckID == "" {
			return fmt.Errorf("cards[%d]: empty id or deckId", i)
		}
	}
	for i, t := range r.Tests {
		if t.ID == "" || t.Name == "" {
			return fmt.Errorf("tests[%d]: empty id or name", i)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
