package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
)

//go:embed schema.sql
var schema string

// Migrate creates missing tables and indexes. It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		slog.Error("failed to apply schema", "method", "Migrate", "error", err)
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	slog.Info("schema applied", "method", "Migrate")
	return nil
}
