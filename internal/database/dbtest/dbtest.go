// Package dbtest builds throwaway SQLite databases with the raffle schema.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"ms-raffle/internal/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

// New opens an in-memory SQLite database with every table created. A single
// connection keeps the database alive and serializes writers.
func New(t testing.TB) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	tables := []interface{}{
		(*models.Raffle)(nil),
		(*models.Ticket)(nil),
		(*models.Participant)(nil),
		(*models.Promoter)(nil),
		(*models.Payment)(nil),
		(*models.TicketAudit)(nil),
	}
	for _, model := range tables {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(context.Background()); err != nil {
			t.Fatalf("Failed to create table for %T: %v", model, err)
		}
	}
	_, err = bunDB.NewCreateIndex().
		Model((*models.Ticket)(nil)).
		Index("tickets_raffle_number_idx").
		Unique().
		Column("raffle_id", "number").
		Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create ticket index: %v", err)
	}

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}
