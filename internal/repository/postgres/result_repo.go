package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/and161185/quizdeck/internal/errs"
	"github.com/and161185/quizdeck/internal/model"
)

// ResultRepo implements ResultRepository using PostgreSQL.
type ResultRepo struct{ db *DB }

// NewResultRepo constructs a result repository.
func NewResultRepo(db *DB) *ResultRepo { return &ResultRepo{db: db} }

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insResult = `
INSERT INTO results (id, idempotency_key, client_id, learner_name, location, date, submitted_at_epoch,
                     test_id, test_name, score, correct_count, total_count, answers, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT DO NOTHING`

// insertResult reports whether the row was actually written.
func insertResult(ctx context.Context, q execer, r model.Result) (bool, error) {
	status := r.Status
	if status == "" {
		status = model.ResultActive
	}
	answers := r.Answers
	if answers == nil {
		answers = []model.Answer{}
	}
	tag, err := q.Exec(ctx, insResult,
		r.ID, r.IdempotencyKey, r.ClientID, r.LearnerName, r.Location, r.Date, r.SubmittedAtEpoch,
		r.TestID, r.TestName, r.Score, r.CorrectCount, r.TotalCount, answers, string(status),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Insert stores r; replays of the same id or idempotency key are no-ops.
func (r *ResultRepo) Insert(ctx context.Context, res model.Result) (bool, error) {
	inserted, err := insertResult(ctx, r.db.Pool, res)
	if err != nil {
		return false, err
	}
	return !inserted, nil
}

// List returns up to limit results, newest first.
func (r *ResultRepo) List(ctx context.Context, limit int) ([]model.Result, error) {
	const q = `
SELECT id, idempotency_key, client_id, learner_name, location, date, submitted_at_epoch,
       test_id, test_name, score, correct_count, total_count, answers, status
FROM results
ORDER BY submitted_at_epoch DESC, id
LIMIT $1`
	rows, err := r.db.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Result{}
	for rows.Next() {
		var (
			res    model.Result
			status string
		)
		if err := rows.Scan(
			&res.ID, &res.IdempotencyKey, &res.ClientID, &res.LearnerName, &res.Location, &res.Date,
			&res.SubmittedAtEpoch, &res.TestID, &res.TestName, &res.Score, &res.CorrectCount,
			&res.TotalCount, &res.Answers, &status,
		); err != nil {
			return nil, err
		}
		res.Status = model.ResultStatus(status)
		out = append(out, res)
	}
	return out, rows.Err()
}

// SetStatus moves a result between the active and archived sets.
func (r *ResultRepo) SetStatus(ctx context.Context, id string, status model.ResultStatus) error {
	const q = `UPDATE results SET status=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes a result from the given set.
func (r *ResultRepo) Delete(ctx context.Context, id string, from model.ResultStatus) error {
	const q = `DELETE FROM results WHERE id=$1 AND status=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
