package raffles_test

import (
	"context"
	"io"
	"testing"
	"time"

	"ms-raffle/internal/clock"
	"ms-raffle/internal/database/dbtest"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/raffles"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *raffles.Service {
	t.Helper()
	db := dbtest.New(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return raffles.NewService(&raffles.DB{Bun: db}, clk, logger.NewWithWriter(io.Discard))
}

func validRequest(name string) raffles.CreateRequest {
	return raffles.CreateRequest{
		Name:     name,
		Price:    150,
		DrawDate: time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC),
	}
}

func TestCreateDerivesUniqueSlugs(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, validRequest("Gran Rifa de Primavera"))
	require.NoError(t, err)
	assert.Equal(t, "gran-rifa-de-primavera", first.Slug)
	assert.Equal(t, models.RaffleStatusDraft, first.Status)

	second, err := svc.Create(ctx, validRequest("Gran rifa de primavera!"))
	require.NoError(t, err)
	assert.Equal(t, "gran-rifa-de-primavera-2", second.Slug)

	third, err := svc.Create(ctx, validRequest("GRAN RIFA DE PRIMAVERA"))
	require.NoError(t, err)
	assert.Equal(t, "gran-rifa-de-primavera-3", third.Slug)

	got, err := svc.GetBySlug(ctx, second.Slug)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestCreateValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  raffles.CreateRequest
	}{
		{"missing name", raffles.CreateRequest{Name: "  ", Price: 10, DrawDate: time.Now()}},
		{"zero price", raffles.CreateRequest{Name: "Rifa", DrawDate: time.Now()}},
		{"missing draw date", raffles.CreateRequest{Name: "Rifa", Price: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.req)
			assert.ErrorIs(t, err, models.ErrInvalidRaffle)
		})
	}
}

func TestSetStatusTransitions(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	raffle, err := svc.Create(ctx, validRequest("Rifa Escolar"))
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, raffle.ID, models.RaffleStatusCompleted)
	assert.ErrorIs(t, err, models.ErrInvalidStatusTransition)

	active, err := svc.SetStatus(ctx, raffle.ID, models.RaffleStatusActive)
	require.NoError(t, err)
	assert.Equal(t, models.RaffleStatusActive, active.Status)

	listed, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, raffle.ID, listed[0].ID)

	_, err = svc.SetStatus(ctx, raffle.ID, models.RaffleStatusDraft)
	assert.ErrorIs(t, err, models.ErrInvalidStatusTransition)

	done, err := svc.SetStatus(ctx, raffle.ID, models.RaffleStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.RaffleStatusCompleted, done.Status)

	listed, err = svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestUnknownRaffle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrRaffleNotFound)

	_, err = svc.SetStatus(ctx, "missing", models.RaffleStatusActive)
	assert.ErrorIs(t, err, models.ErrRaffleNotFound)
}
