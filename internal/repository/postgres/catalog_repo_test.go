package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/quizdeck/internal/convert"
	"github.com/and161185/quizdeck/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func sqlRe(q string) string { return regexp.QuoteMeta(q) }

func TestCatalogRepo_Rows(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCatalogRepo(db)

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	sel := []model.RawSelection{{DeckID: "d1", Subs: []string{"Basics"}}}

	mock.ExpectQuery(sqlRe(selDecks)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "class_name", "deck_name", "tags"}).
			AddRow("d1", "Barista", "Espresso", []string{"Basics"}))
	mock.ExpectQuery(sqlRe(selCards)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "deck_id", "question", "correct_answer", "distractors", "sub_tag", "created_at"}).
			AddRow("c1", "d1", "q", "a", []string{"b"}, "Basics", at))
	mock.ExpectQuery(sqlRe(selTests)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "title", "question_count", "selections"}).
			AddRow("t1", "morning", "Morning", 10, sel))

	rows, err := r.Rows(context.Background())
	require.NoError(t, err)
	require.Equal(t, []convert.DeckRow{{ID: "d1", ClassName: "Barista", DeckName: "Espresso", Tags: []string{"Basics"}}}, rows.Decks)
	require.Equal(t, convert.CardRow{ID: "c1", DeckID: "d1", Question: "q", CorrectAnswer: "a", Distractors: []string{"b"}, SubTag: "Basics", CreatedAt: at}, rows.Cards[0])
	require.Equal(t, "morning", rows.Tests[0].Name)
	require.Equal(t, sel, rows.Tests[0].Selections)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepo_Rows_Empty(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCatalogRepo(db)

	mock.ExpectQuery(sqlRe(selDecks)).WillReturnRows(pgxmock.NewRows([]string{"id", "class_name", "deck_name", "tags"}))
	mock.ExpectQuery(sqlRe(selCards)).WillReturnRows(pgxmock.NewRows([]string{"id", "deck_id", "question", "correct_answer", "distractors", "sub_tag", "created_at"}))
	mock.ExpectQuery(sqlRe(selTests)).WillReturnRows(pgxmock.NewRows([]string{"id", "name", "title", "question_count", "selections"}))

	rows, err := r.Rows(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rows.Decks)
	require.NotNil(t, rows.Cards)
	require.NotNil(t, rows.Tests)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepo_Rows_QueryError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCatalogRepo(db)

	mock.ExpectQuery(sqlRe(selDecks)).WillReturnError(errors.New("db down"))
	_, err := r.Rows(context.Background())
	require.Error(t, err)
}

func bulk(mode model.PushMode) convert.BulkPayload {
	return convert.BulkPayload{
		Mode:  mode,
		Decks: []convert.DeckRow{{ID: "d1", ClassName: "Barista", DeckName: "Espresso"}},
		Cards: []convert.CardRow{{ID: "c1", DeckID: "d1", Question: "q", CorrectAnswer: "a", Distractors: []string{"b"}}},
		Tests: []convert.TestRow{{ID: "t1", Name: "morning", Title: "Morning", QuestionCount: 5}},
		Results: []model.Result{{
			ID: "r1", IdempotencyKey: "k1", ClientID: "cl", LearnerName: "Ann", Location: "North",
			Date: "2025-03-01", TestName: "morning", Score: 100, CorrectCount: 1, TotalCount: 1,
		}},
	}
}

func TestCatalogRepo_Apply_Merge(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCatalogRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(sqlRe(upsertDeck)).
		WithArgs("d1", "Barista", "Espresso", []string{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(sqlRe(upsertCard)).
		WithArgs("c1", "d1", "q", "a", []string{"b"}, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(sqlRe(upsertTest)).
		WithArgs("t1", "morning", "Morning", 5, []model.RawSelection{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(sqlRe(insResult)).
		WithArgs("r1", "k1", "cl", "Ann", "North", "2025-03-01", int64(0), "", "morning", 100, 1, 1, []model.Answer{}, "active").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	ack, err := r.Apply(context.Background(), bulk(model.PushMerge))
	require.NoError(t, err)
	require.Equal(t, convert.BulkAck{Decks: 1, Cards: 1, Tests: 1, Results: 1}, ack)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepo_Apply_ReplaceClearsFirst(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCatalogRepo(db)

	p := bulk(model.PushReplace)
	p.Cards, p.Tests, p.Results = nil, nil, nil

	mock.ExpectBegin()
	mock.ExpectExec(sqlRe(clearCards)).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(sqlRe(clearDecks)).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(sqlRe(clearTests)).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(sqlRe(upsertDeck)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ack, err := r.Apply(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 1, ack.Decks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepo_Apply_RollsBackOnError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCatalogRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(sqlRe(upsertDeck)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(sqlRe(upsertCard)).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err := r.Apply(context.Background(), bulk(model.PushMerge))
	require.ErrorContains(t, err, "cards[0]")
	require.NoError(t, mock.ExpectationsWereMet())
}
