package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-raffle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&models.NotFoundError{IDs: []string{"x"}}, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", models.ErrRaffleNotFound), http.StatusNotFound},
		{&models.UnavailableError{Reserved: []models.TicketRef{{ID: "a", Number: "0001"}}}, http.StatusConflict},
		{&models.NotReservedError{Tickets: []models.TicketRef{{ID: "a", Number: "0001"}}}, http.StatusConflict},
		{models.ErrHoldExpired, http.StatusGone},
		{models.ErrRaffleNotActive, http.StatusUnprocessableEntity},
		{models.ErrBatchTooLarge, http.StatusBadRequest},
		{models.ErrReasonRequired, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCodeFor(tt.err))
		})
	}
}

func TestWriteErrorIncludesTakenNumbers(t *testing.T) {
	rec := httptest.NewRecorder()
	err := &models.UnavailableError{
		Reserved:  []models.TicketRef{{ID: "a", Number: "0003"}},
		Purchased: []models.TicketRef{{ID: "b", Number: "0007"}},
	}

	WriteError(rec, "Tickets unavailable", err)

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		Success bool `json:"success"`
		Details struct {
			Numbers []string `json:"numbers"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.ElementsMatch(t, []string{"0003", "0007"}, body.Details.Numbers)
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteError(rec, "Failed", errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
}
