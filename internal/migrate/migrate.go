// Package migrate applies the embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/and161185/quizdeck/migrations"
)

// Up runs all pending migrations against dsn and logs each applied version.
func Up(ctx context.Context, dsn string, log *zap.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations db: %w", err)
	}
	defer db.Close()
	return UpDB(ctx, db, migrations.FS, log)
}

// UpDB runs the migrations found at the root of fsys on an open database.
func UpDB(ctx context.Context, db *sql.DB, fsys fs.FS, log *zap.Logger) error {
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	res, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	for _, r := range res {
		log.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("file", r.Source.Path),
			zap.Duration("dur", r.Duration),
		)
	}
	if len(res) == 0 {
		log.Debug("schema up to date")
	}
	return nil
}
