package reservation_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ms-raffle/internal/auth"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/participants"
	"ms-raffle/internal/payment"
	"ms-raffle/internal/reservation"
	"ms-raffle/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Stripe event payloads stay well under this.
const maxWebhookBody = 64 << 10

type RaffleReader interface {
	GetBySlug(ctx context.Context, slug string) (*models.Raffle, error)
}

type ParticipantUpserter interface {
	UpsertByPhone(ctx context.Context, req participants.UpsertRequest) (*models.Participant, error)
}

type Reserver interface {
	CheckBatchSize(n int) error
	ReserveNumbers(ctx context.Context, req reservation.ReserveNumbersRequest) (*reservation.Reservation, error)
	Release(ctx context.Context, ticketIDs []string, actor string) (*reservation.ReleaseResult, error)
}

type HoldTokens interface {
	Issue(raffleID, holderID string, ticketIDs []string, expiresAt time.Time) (string, error)
	Parse(raw string) (*auth.HoldClaims, error)
}

type Checkout interface {
	StartCheckout(ctx context.Context, req payment.CheckoutRequest) (*models.Payment, error)
	ConfirmReturn(ctx context.Context, sessionID string) (*models.Payment, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type Handler struct {
	Raffles      RaffleReader
	Participants ParticipantUpserter
	Engine       Reserver
	HoldTokens   HoldTokens
	Payments     Checkout
	Logger       *logger.Logger
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/raffles/{slug}/reservations", h.Reserve)
	r.Post("/api/reservations/checkout", h.StartCheckout)
	r.Post("/api/payments/stripe/webhook", h.StripeWebhook)
	r.Get("/api/payments/stripe/return", h.StripeReturn)
}

type ReserveRequest struct {
	Numbers      []string `json:"numbers"`
	Name         string   `json:"name"`
	Phone        string   `json:"phone"`
	Email        string   `json:"email"`
	Region       string   `json:"region"`
	PromoterCode string   `json:"promoter_code"`
}

type ReserveResponse struct {
	Reservation   *reservation.Reservation `json:"reservation"`
	ParticipantID string                   `json:"participant_id"`
	HoldToken     string                   `json:"hold_token"`
	ExpiresAt     time.Time                `json:"expires_at"`
}

// Reserve registers the buyer and holds the requested numbers for them. The
// hold token in the response is the buyer's only credential for checkout.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Reserve: failed to decode request body: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	raffle, err := h.Raffles.GetBySlug(ctx, chi.URLParam(r, "slug"))
	if err != nil {
		utils.WriteError(w, "Raffle not found", err)
		return
	}
	if !raffle.IsActive() {
		utils.WriteError(w, "Raffle is not accepting reservations", models.ErrRaffleNotActive)
		return
	}

	if err := h.Engine.CheckBatchSize(len(utils.UniqueStrings(req.Numbers))); err != nil {
		utils.WriteError(w, "Could not reserve tickets", err)
		return
	}

	participant, err := h.Participants.UpsertByPhone(ctx, participants.UpsertRequest{
		Name:   req.Name,
		Phone:  req.Phone,
		Email:  req.Email,
		Region: req.Region,
	})
	if err != nil {
		utils.WriteError(w, "Invalid participant", err)
		return
	}

	res, err := h.Engine.ReserveNumbers(ctx, reservation.ReserveNumbersRequest{
		RaffleID:     raffle.ID,
		Numbers:      req.Numbers,
		HolderID:     participant.ID,
		PromoterCode: req.PromoterCode,
	})
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("Reserve: raffle %s holder %s: %v", raffle.ID, participant.ID, err))
		utils.WriteError(w, "Could not reserve tickets", err)
		return
	}

	token, err := h.HoldTokens.Issue(raffle.ID, participant.ID, res.TicketIDs(), res.ExpiresAt)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Reserve: failed to issue hold token: %v", err))
		// Without a token the buyer cannot check out, so give the numbers back.
		if _, rerr := h.Engine.Release(ctx, res.TicketIDs(), "system:hold-token"); rerr != nil {
			h.Logger.Error("API", fmt.Sprintf("Reserve: failed to release tickets %v: %v", res.TicketIDs(), rerr))
		}
		utils.WriteError(w, "Failed to issue hold token", err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Tickets reserved", ReserveResponse{
		Reservation:   res,
		ParticipantID: participant.ID,
		HoldToken:     token,
		ExpiresAt:     res.ExpiresAt,
	}))
}

type CheckoutResponse struct {
	PaymentID   string  `json:"payment_id"`
	CheckoutURL string  `json:"checkout_url"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
}

// StartCheckout opens a gateway checkout for the reservation named by the
// bearer hold token.
func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	raw, err := auth.ExtractTokenFromRequest(r)
	if err != nil {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Hold token required", err.Error()))
		return
	}
	claims, err := h.HoldTokens.Parse(raw)
	if err != nil {
		h.Logger.LogSecurity("HOLD_TOKEN_REJECTED", err.Error())
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Invalid or expired hold token", err.Error()))
		return
	}

	p, err := h.Payments.StartCheckout(r.Context(), payment.CheckoutRequest{
		RaffleID:  claims.RaffleID,
		HolderID:  claims.Subject,
		TicketIDs: claims.TicketIDs,
	})
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("StartCheckout: holder %s: %v", claims.Subject, err))
		utils.WriteError(w, "Could not start checkout", err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Checkout started", CheckoutResponse{
		PaymentID:   p.ID,
		CheckoutURL: p.CheckoutURL,
		Amount:      p.Amount,
		Currency:    p.Currency,
	}))
}

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to read webhook body: %v", err))
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	err = h.Payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to process webhook: %v", err))
		var webhookErr *payment.WebhookError
		if errors.As(err, &webhookErr) {
			http.Error(w, webhookErr.PublicError, webhookErr.StatusCode)
			return
		}
		http.Error(w, "Webhook processing error", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type ReturnResponse struct {
	PaymentID string               `json:"payment_id,omitempty"`
	Status    models.PaymentStatus `json:"status"`
}

// StripeReturn confirms a payment when the buyer is redirected back, in case
// the webhook has not arrived yet.
func (h *Handler) StripeReturn(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	p, err := h.Payments.ConfirmReturn(r.Context(), sessionID)
	switch {
	case err == nil:
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment confirmed", ReturnResponse{PaymentID: p.ID, Status: p.Status}))
	case errors.Is(err, payment.ErrNotPaid):
		resp := ReturnResponse{Status: models.PaymentStatusPending}
		if p != nil {
			resp.PaymentID = p.ID
		}
		utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse("Payment not completed yet", resp))
	case errors.Is(err, payment.ErrPaymentOrphaned):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Payment received but the tickets are no longer held; it will be refunded", "payment_orphaned"))
	case errors.Is(err, payment.ErrPaymentMismatch):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Payment does not match the checkout", "payment_mismatch"))
	default:
		h.Logger.Error("API", fmt.Sprintf("StripeReturn: session %s: %v", sessionID, err))
		utils.WriteError(w, "Could not confirm payment", err)
	}
}
