package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/quizdeck/internal/convert"
	"github.com/and161185/quizdeck/internal/model"
)

// CatalogRepo implements CatalogRepository using PostgreSQL.
type CatalogRepo struct{ db *DB }

// NewCatalogRepo constructs a catalog repository.
func NewCatalogRepo(db *DB) *CatalogRepo { return &CatalogRepo{db: db} }

const (
	selDecks = `SELECT id, class_name, deck_name, tags FROM decks ORDER BY class_name, deck_name, id`
	selCards = `
SELECT id, deck_id, question, correct_answer, distractors, sub_tag, created_at
FROM cards ORDER BY deck_id, created_at, id`
	selTests = `SELECT id, name, title, question_count, selections FROM tests ORDER BY name, id`

	upsertDeck = `
INSERT INTO decks (id, class_name, deck_name, tags) VALUES ($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE
SET class_name=EXCLUDED.class_name, deck_name=EXCLUDED.deck_name, tags=EXCLUDED.tags, updated_at=now()`
	upsertCard = `
INSERT INTO cards (id, deck_id, question, correct_answer, distractors, sub_tag, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE
SET deck_id=EXCLUDED.deck_id, question=EXCLUDED.question, correct_answer=EXCLUDED.correct_answer,
    distractors=EXCLUDED.distractors, sub_tag=EXCLUDED.sub_tag, updated_at=now()`
	upsertTest = `
INSERT INTO tests (id, name, title, question_count, selections) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE
SET name=EXCLUDED.name, title=EXCLUDED.title, question_count=EXCLUDED.question_count,
    selections=EXCLUDED.selections, updated_at=now()`

	clearCards = `DELETE FROM cards`
	clearDecks = `DELETE FROM decks`
	clearTests = `DELETE FROM tests`
)

// Rows returns all catalog rows. Slices are never nil.
func (r *CatalogRepo) Rows(ctx context.Context) (convert.Rows, error) {
	out := convert.Rows{Decks: []convert.DeckRow{}, Cards: []convert.CardRow{}, Tests: []convert.TestRow{}}

	decks, err := r.db.Pool.Query(ctx, selDecks)
	if err != nil {
		return convert.Rows{}, err
	}
	for decks.Next() {
		var d convert.DeckRow
		if err := decks.Scan(&d.ID, &d.ClassName, &d.DeckName, &d.Tags); err != nil {
			decks.Close()
			return convert.Rows{}, err
		}
		out.Decks = append(out.Decks, d)
	}
	decks.Close()
	if err := decks.Err(); err != nil {
		return convert.Rows{}, err
	}

	cards, err := r.db.Pool.Query(ctx, selCards)
	if err != nil {
		return convert.Rows{}, err
	}
	for cards.Next() {
		var c convert.CardRow
		if err := cards.Scan(&c.ID, &c.DeckID, &c.Question, &c.CorrectAnswer, &c.Distractors, &c.SubTag, &c.CreatedAt); err != nil {
			cards.Close()
			return convert.Rows{}, err
		}
		out.Cards = append(out.Cards, c)
	}
	cards.Close()
	if err := cards.Err(); err != nil {
		return convert.Rows{}, err
	}

	tests, err := r.db.Pool.Query(ctx, selTests)
	if err != nil {
		return convert.Rows{}, err
	}
	defer tests.Close()
	for tests.Next() {
		var t convert.TestRow
		if err := tests.Scan(&t.ID, &t.Name, &t.Title, &t.QuestionCount, &t.Selections); err != nil {
			return convert.Rows{}, err
		}
		out.Tests = append(out.Tests, t)
	}
	return out, tests.Err()
}

// Apply writes p in a single transaction.
func (r *CatalogRepo) Apply(ctx context.Context, p convert.BulkPayload) (convert.BulkAck, error) {
	var ack convert.BulkAck
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		if p.Mode == model.PushReplace {
			for _, q := range []string{clearCards, clearDecks, clearTests} {
				if _, err := tx.Exec(ctx, q); err != nil {
					return err
				}
			}
		}
		for i, d := range p.Decks {
			if _, err := tx.Exec(ctx, upsertDeck, d.ID, d.ClassName, d.DeckName, nonNil(d.Tags)); err != nil {
				return fmt.Errorf("decks[%d]: %w", i, err)
			}
			ack.Decks++
		}
		for i, c := range p.Cards {
			if _, err := tx.Exec(ctx, upsertCard,
				c.ID, c.DeckID, c.Question, c.CorrectAnswer, nonNil(c.Distractors), c.SubTag, c.CreatedAt,
			); err != nil {
				return fmt.Errorf("cards[%d]: %w", i, err)
			}
			ack.Cards++
		}
		for i, t := range p.Tests {
			sel := t.Selections
			if sel == nil {
				sel = []model.RawSelection{}
			}
			if _, err := tx.Exec(ctx, upsertTest, t.ID, t.Name, t.Title, t.QuestionCount, sel); err != nil {
				return fmt.Errorf("tests[%d]: %w", i, err)
			}
			ack.Tests++
		}
		for i, res := range p.Results {
			if _, err := insertResult(ctx, tx, res); err != nil {
				return fmt.Errorf("results[%d]: %w", i, err)
			}
			ack.Results++
		}
		return nil
	})
	if err != nil {
		return convert.BulkAck{}, err
	}
	return ack, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
