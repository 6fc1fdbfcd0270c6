package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-raffle/internal/models"

	"github.com/uptrace/bun"
)

const insertChunkSize = 1000

type DB struct {
	Bun *bun.DB
}

// WithTx runs fn inside a transaction. Returning an error rolls back.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

func (d *DB) conn(idb bun.IDB) bun.IDB {
	if idb == nil {
		return d.Bun
	}
	return idb
}

// ListAvailable returns the raffle's available tickets ordered by number.
func (d *DB) ListAvailable(ctx context.Context, raffleID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("raffle_id = ?", raffleID).
		Where("status = ?", models.TicketStatusAvailable).
		Order("number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list available tickets: %w", err)
	}
	return tickets, nil
}

// ListByRaffle returns all tickets of a raffle, optionally filtered by status.
func (d *DB) ListByRaffle(ctx context.Context, raffleID string, status models.TicketStatus) ([]models.Ticket, error) {
	var tickets []models.Ticket
	q := d.Bun.NewSelect().
		Model(&tickets).
		Where("raffle_id = ?", raffleID).
		Order("number ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

// GetByIDs returns the tickets that exist among ids. Missing ids are simply
// absent from the result.
func (d *DB) GetByIDs(ctx context.Context, idb bun.IDB, ids []string) ([]models.Ticket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tickets []models.Ticket
	err := d.conn(idb).NewSelect().
		Model(&tickets).
		Where("id IN (?)", bun.In(ids)).
		Order("number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get tickets by id: %w", err)
	}
	return tickets, nil
}

func (d *DB) GetByNumbers(ctx context.Context, raffleID string, numbers []string) ([]models.Ticket, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("raffle_id = ?", raffleID).
		Where("number IN (?)", bun.In(numbers)).
		Order("number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get tickets by number: %w", err)
	}
	return tickets, nil
}

func (d *DB) GetByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{IDs: []string{id}}
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return &ticket, nil
}

// ListExpired returns reserved tickets whose reserved_at is strictly before
// cutoff. raffleID narrows the scan when non-empty.
func (d *DB) ListExpired(ctx context.Context, cutoff time.Time, raffleID string, limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	q := d.Bun.NewSelect().
		Model(&tickets).
		Where("status = ?", models.TicketStatusReserved).
		Where("reserved_at < ?", cutoff).
		Order("reserved_at ASC").
		Limit(limit)
	if raffleID != "" {
		q = q.Where("raffle_id = ?", raffleID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	return tickets, nil
}

// ReplaceTickets deletes every ticket of the raffle and inserts the given set,
// updating the raffle's ticket count in the same transaction.
func (d *DB) ReplaceTickets(ctx context.Context, raffleID string, tickets []models.Ticket) (deleted int64, err error) {
	err = d.WithTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		res, err := tx.NewDelete().
			Model((*models.Ticket)(nil)).
			Where("raffle_id = ?", raffleID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete tickets: %w", err)
		}
		deleted, _ = res.RowsAffected()

		for start := 0; start < len(tickets); start += insertChunkSize {
			end := start + insertChunkSize
			if end > len(tickets) {
				end = len(tickets)
			}
			chunk := tickets[start:end]
			if _, err := tx.NewInsert().Model(&chunk).Exec(ctx); err != nil {
				return fmt.Errorf("insert tickets %d-%d: %w", start, end, err)
			}
		}

		_, err = tx.NewUpdate().
			Model((*models.Raffle)(nil)).
			Set("total_tickets = ?", len(tickets)).
			Where("id = ?", raffleID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update raffle ticket count: %w", err)
		}
		return nil
	})
	return deleted, err
}

func (d *DB) InsertAudits(ctx context.Context, idb bun.IDB, audits []models.TicketAudit) error {
	if len(audits) == 0 {
		return nil
	}
	if _, err := d.conn(idb).NewInsert().Model(&audits).Exec(ctx); err != nil {
		return fmt.Errorf("insert ticket audits: %w", err)
	}
	return nil
}

// StatusCount is one row of a per-status aggregate.
type StatusCount struct {
	Status models.TicketStatus `bun:"status"`
	Count  int                 `bun:"count"`
}

func (d *DB) CountByStatus(ctx context.Context, raffleID string) ([]StatusCount, error) {
	var rows []StatusCount
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		Where("raffle_id = ?", raffleID).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("count tickets by status: %w", err)
	}
	return rows, nil
}
