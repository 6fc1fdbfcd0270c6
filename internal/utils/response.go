package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ms-raffle/internal/models"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now().UTC(),
	}
}

func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError answers with the status StatusCodeFor picks. Conflicts carry the
// taken ticket numbers so the buyer can pick others.
func WriteError(w http.ResponseWriter, message string, err error) {
	status := StatusCodeFor(err)
	resp := ErrorResponse(message, err.Error())
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}

	var unavailable *models.UnavailableError
	var notFound *models.NotFoundError
	var notReserved *models.NotReservedError
	switch {
	case errors.As(err, &unavailable):
		resp.Details = map[string]interface{}{
			"reserved":  unavailable.Reserved,
			"purchased": unavailable.Purchased,
			"numbers":   unavailable.Numbers(),
		}
	case errors.As(err, &notFound):
		resp.Details = map[string]interface{}{"missing": notFound.IDs}
	case errors.As(err, &notReserved):
		resp.Details = map[string]interface{}{"not_reserved": notReserved.Tickets}
	}
	WriteJSON(w, status, resp)
}

// StatusCodeFor maps domain errors to HTTP statuses.
func StatusCodeFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, models.ErrTicketNotFound),
		errors.Is(err, models.ErrRaffleNotFound),
		errors.Is(err, models.ErrPromoterNotFound),
		errors.Is(err, models.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrPartiallyUnavailable),
		errors.Is(err, models.ErrAlreadyReserved),
		errors.Is(err, models.ErrAlreadyPurchased),
		errors.Is(err, models.ErrTicketNotReserved),
		errors.Is(err, models.ErrPromoterExists),
		errors.Is(err, models.ErrInvalidStatusTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrHoldExpired):
		return http.StatusGone
	case errors.Is(err, models.ErrRaffleNotActive),
		errors.Is(err, models.ErrPromoterInactive),
		errors.Is(err, models.ErrMixedBatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrBatchTooLarge),
		errors.Is(err, models.ErrEmptyBatch),
		errors.Is(err, models.ErrHolderRequired),
		errors.Is(err, models.ErrPaymentReferenceRequired),
		errors.Is(err, models.ErrInvalidTicketCount),
		errors.Is(err, models.ErrReasonRequired),
		errors.Is(err, models.ErrInvalidPhone),
		errors.Is(err, models.ErrInvalidPromoter),
		errors.Is(err, models.ErrInvalidParticipant),
		errors.Is(err, models.ErrInvalidPaymentMethod),
		errors.Is(err, models.ErrInvalidRaffle):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
