package participants_test

import (
	"context"
	"testing"
	"time"

	"ms-raffle/internal/clock"
	"ms-raffle/internal/database/dbtest"
	"ms-raffle/internal/models"
	"ms-raffle/internal/participants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"+52 (55) 1234-5678", "525512345678", false},
		{"55 1234 5678", "5512345678", false},
		{"1234", "", true},
		{"", "", true},
		{"1234567890123456", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := participants.NormalizePhone(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpsertByPhone(t *testing.T) {
	bunDB := dbtest.New(t)
	clk := clock.NewFake(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	store := &participants.Store{Bun: bunDB, Clock: clk}
	ctx := context.Background()

	first, err := store.UpsertByPhone(ctx, participants.UpsertRequest{Name: "Ana", Phone: "55-1234-5678", Email: "ANA@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "5512345678", first.Phone)
	assert.Equal(t, "ana@example.com", first.Email)

	clk.Advance(time.Hour)
	second, err := store.UpsertByPhone(ctx, participants.UpsertRequest{Name: "Ana María", Phone: "5512345678", Region: "CDMX"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same phone keeps the same participant")
	assert.Equal(t, "Ana María", second.Name)
	assert.Equal(t, "CDMX", second.Region)

	count, err := bunDB.NewSelect().Model((*models.Participant)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	byID, err := store.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana María", byID.Name)
}

func TestUpsertByPhoneValidation(t *testing.T) {
	store := &participants.Store{Bun: dbtest.New(t), Clock: clock.Real{}}

	_, err := store.UpsertByPhone(context.Background(), participants.UpsertRequest{Name: "Ana", Phone: "12"})
	assert.ErrorIs(t, err, models.ErrInvalidPhone)

	_, err = store.UpsertByPhone(context.Background(), participants.UpsertRequest{Name: "  ", Phone: "5512345678"})
	assert.ErrorIs(t, err, models.ErrInvalidParticipant)
}
