package db_test

import (
	"context"
	"testing"
	"time"

	"ms-raffle/internal/database/dbtest"
	"ms-raffle/internal/models"
	"ms-raffle/internal/tickets/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*db.DB, *models.Raffle, []models.Ticket) {
	bunDB := dbtest.New(t)
	raffle, tickets := dbtest.SeedRaffle(t, bunDB, 10, 150)
	return &db.DB{Bun: bunDB}, raffle, tickets
}

func strPtr(s string) *string { return &s }

func TestCompareAndSwapReserve(t *testing.T) {
	// Set up test DB
	ticketDB, raffle, tickets := setupTestDB(t)
	ctx := context.Background()

	cas := db.CAS{
		IDs:      []string{tickets[1].ID, tickets[2].ID},
		Expected: models.TicketStatusAvailable,
		Next:     models.TicketStatusReserved,
		RaffleID: raffle.ID,
		Fields:   db.TicketFields{HolderID: strPtr("holder-a"), PromoterCode: strPtr("ANA"), At: now},
	}
	n, err := ticketDB.CompareAndSwapStatus(ctx, nil, cas)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Second swap finds nothing in the expected state
	n, err = ticketDB.CompareAndSwapStatus(ctx, nil, cas)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := ticketDB.GetByID(ctx, tickets[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusReserved, got.Status)
	assert.Equal(t, "holder-a", *got.HolderID)
	assert.Equal(t, "ANA", *got.PromoterCode)
	assert.True(t, got.ReservedAt.Equal(now))
	assert.Nil(t, got.PurchasedAt)
}

func TestCompareAndSwapGuards(t *testing.T) {
	ticketDB, raffle, tickets := setupTestDB(t)
	ctx := context.Background()

	_, err := ticketDB.CompareAndSwapStatus(ctx, nil, db.CAS{
		IDs:      []string{tickets[0].ID},
		Expected: models.TicketStatusAvailable,
		Next:     models.TicketStatusReserved,
		Fields:   db.TicketFields{HolderID: strPtr("holder-a"), At: now},
	})
	require.NoError(t, err)

	// Wrong raffle
	n, err := ticketDB.CompareAndSwapStatus(ctx, nil, db.CAS{
		IDs:      []string{tickets[0].ID},
		Expected: models.TicketStatusReserved,
		Next:     models.TicketStatusPurchased,
		RaffleID: uuid.NewString(),
		Fields:   db.TicketFields{PaymentReference: strPtr("pay_1"), At: now},
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	// Wrong holder
	n, err = ticketDB.CompareAndSwapStatus(ctx, nil, db.CAS{
		IDs:      []string{tickets[0].ID},
		Expected: models.TicketStatusReserved,
		Next:     models.TicketStatusPurchased,
		HolderID: "holder-b",
		Fields:   db.TicketFields{PaymentReference: strPtr("pay_1"), At: now},
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	// Hold not old enough
	cutoff := now
	n, err = ticketDB.CompareAndSwapStatus(ctx, nil, db.CAS{
		IDs:            []string{tickets[0].ID},
		Expected:       models.TicketStatusReserved,
		Next:           models.TicketStatusAvailable,
		ReservedBefore: &cutoff,
		Fields:         db.TicketFields{At: now},
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	// All guards satisfied
	n, err = ticketDB.CompareAndSwapStatus(ctx, nil, db.CAS{
		IDs:      []string{tickets[0].ID},
		Expected: models.TicketStatusReserved,
		Next:     models.TicketStatusPurchased,
		RaffleID: raffle.ID,
		HolderID: "holder-a",
		Fields:   db.TicketFields{PaymentReference: strPtr("pay_1"), PaymentMethod: strPtr(models.PaymentMethodCash), At: now.Add(time.Minute)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := ticketDB.GetByID(ctx, tickets[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPurchased, got.Status)
	assert.Equal(t, "holder-a", *got.HolderID, "holder survives the sale")
	assert.Equal(t, "pay_1", *got.PaymentReference)
	assert.NotNil(t, got.ReservedAt)
}

func TestCompareAndSwapToAvailableClearsEverything(t *testing.T) {
	ticketDB, _, tickets := setupTestDB(t)
	ctx := context.Background()

	ticket := tickets[3]
	ticket.Status = models.TicketStatusPurchased
	ticket.HolderID = strPtr("holder-a")
	ticket.ReservedAt = &now
	ticket.PurchasedAt = &now
	ticket.PromoterCode = strPtr("ANA")
	ticket.PaymentReference = strPtr("pay_1")
	dbtest.SetTicketState(t, ticketDB.Bun, ticket)

	n, err := ticketDB.CompareAndSwapStatus(ctx, nil, db.CAS{
		IDs:      []string{ticket.ID},
		Expected: models.TicketStatusPurchased,
		Next:     models.TicketStatusAvailable,
		Fields:   db.TicketFields{At: now},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := ticketDB.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusAvailable, got.Status)
	assert.Nil(t, got.HolderID)
	assert.Nil(t, got.ReservedAt)
	assert.Nil(t, got.PurchasedAt)
	assert.Nil(t, got.PromoterCode)
	assert.Nil(t, got.PaymentReference)
}

func TestListAvailableAndExpired(t *testing.T) {
	ticketDB, raffle, tickets := setupTestDB(t)
	ctx := context.Background()

	old := now.Add(-4 * time.Hour)
	recent := now.Add(-time.Hour)
	for i, at := range map[int]time.Time{2: old, 5: recent} {
		tk := tickets[i]
		at := at
		tk.Status = models.TicketStatusReserved
		tk.HolderID = strPtr("holder-a")
		tk.ReservedAt = &at
		dbtest.SetTicketState(t, ticketDB.Bun, tk)
	}

	available, err := ticketDB.ListAvailable(ctx, raffle.ID)
	require.NoError(t, err)
	require.Len(t, available, 8)
	assert.Equal(t, "0000", available[0].Number)
	assert.Equal(t, "0009", available[7].Number)

	expired, err := ticketDB.ListExpired(ctx, now.Add(-3*time.Hour), "", 100)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "0002", expired[0].Number)

	expired, err = ticketDB.ListExpired(ctx, now.Add(-3*time.Hour), uuid.NewString(), 100)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestGetByIDsAndNumbers(t *testing.T) {
	ticketDB, raffle, tickets := setupTestDB(t)
	ctx := context.Background()

	found, err := ticketDB.GetByIDs(ctx, nil, []string{tickets[4].ID, "missing", tickets[1].ID})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "0001", found[0].Number)
	assert.Equal(t, "0004", found[1].Number)

	byNumber, err := ticketDB.GetByNumbers(ctx, raffle.ID, []string{"0007", "0099"})
	require.NoError(t, err)
	require.Len(t, byNumber, 1)
	assert.Equal(t, tickets[7].ID, byNumber[0].ID)

	_, err = ticketDB.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrTicketNotFound)
}

func TestReplaceTickets(t *testing.T) {
	ticketDB, raffle, _ := setupTestDB(t)
	ctx := context.Background()

	fresh := make([]models.Ticket, 1500)
	for i := range fresh {
		fresh[i] = models.Ticket{
			ID:        uuid.NewString(),
			RaffleID:  raffle.ID,
			Number:    "x" + uuid.NewString()[:8],
			Status:    models.TicketStatusAvailable,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	deleted, err := ticketDB.ReplaceTickets(ctx, raffle.ID, fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(10), deleted)

	counts, err := ticketDB.CountByStatus(ctx, raffle.ID)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, models.TicketStatusAvailable, counts[0].Status)
	assert.Equal(t, 1500, counts[0].Count)

	var total int
	require.NoError(t, ticketDB.Bun.NewSelect().Model((*models.Raffle)(nil)).Column("total_tickets").Where("id = ?", raffle.ID).Scan(ctx, &total))
	assert.Equal(t, 1500, total)
}

func TestWithTxRollsBack(t *testing.T) {
	ticketDB, _, tickets := setupTestDB(t)
	ctx := context.Background()

	err := ticketDB.WithTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		_, err := ticketDB.CompareAndSwapStatus(ctx, tx, db.CAS{
			IDs:      []string{tickets[0].ID},
			Expected: models.TicketStatusAvailable,
			Next:     models.TicketStatusReserved,
			Fields:   db.TicketFields{HolderID: strPtr("holder-a"), At: now},
		})
		require.NoError(t, err)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := ticketDB.GetByID(ctx, tickets[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusAvailable, got.Status)
}
