package dbtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ms-raffle/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SeedRaffle inserts an active raffle with total available tickets numbered
// with four digits.
func SeedRaffle(t testing.TB, db *bun.DB, total int, price float64) (*models.Raffle, []models.Ticket) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	raffle := &models.Raffle{
		ID:           uuid.NewString(),
		Slug:         "raffle-" + uuid.NewString()[:8],
		Name:         "Test Raffle",
		Price:        price,
		DrawDate:     now.Add(30 * 24 * time.Hour),
		TotalTickets: total,
		Status:       models.RaffleStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := db.NewInsert().Model(raffle).Exec(ctx); err != nil {
		t.Fatalf("Failed to insert raffle: %v", err)
	}

	tickets := make([]models.Ticket, total)
	for i := range tickets {
		tickets[i] = models.Ticket{
			ID:        uuid.NewString(),
			RaffleID:  raffle.ID,
			Number:    fmt.Sprintf("%04d", i),
			Status:    models.TicketStatusAvailable,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if _, err := db.NewInsert().Model(&tickets).Exec(ctx); err != nil {
		t.Fatalf("Failed to insert tickets: %v", err)
	}
	return raffle, tickets
}

// SeedPromoter inserts a promoter with the given code.
func SeedPromoter(t testing.TB, db *bun.DB, code string, active bool) *models.Promoter {
	t.Helper()
	p := &models.Promoter{Code: code, Name: "Promoter " + code, Active: active, CreatedAt: time.Now().UTC()}
	if _, err := db.NewInsert().Model(p).Exec(context.Background()); err != nil {
		t.Fatalf("Failed to insert promoter: %v", err)
	}
	return p
}

// SetTicketState forces a ticket row into the given state, bypassing the
// conditional updates. Tests only.
func SetTicketState(t testing.TB, db *bun.DB, ticket models.Ticket) {
	t.Helper()
	_, err := db.NewUpdate().
		Model(&ticket).
		Column("status", "holder_id", "reserved_at", "purchased_at", "promoter_code", "payment_reference", "payment_method").
		WherePK().
		Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to set ticket state: %v", err)
	}
}
