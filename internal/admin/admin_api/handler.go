package admin_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ms-raffle/internal/analytics"
	"ms-raffle/internal/auth"
	"ms-raffle/internal/clock"
	"ms-raffle/internal/commission"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/raffles"
	"ms-raffle/internal/reservation"
	"ms-raffle/internal/sale"
	"ms-raffle/internal/tickets/qr"
	tickets "ms-raffle/internal/tickets/service"
	"ms-raffle/internal/utils"

	"github.com/go-chi/chi/v5"
)

type RaffleAdmin interface {
	Create(ctx context.Context, req raffles.CreateRequest) (*models.Raffle, error)
	SetStatus(ctx context.Context, id string, next models.RaffleStatus) (*models.Raffle, error)
}

type TicketGenerator interface {
	GenerateTickets(ctx context.Context, raffleID string, total int) (*tickets.GenerateResult, error)
}

type Summaries interface {
	GetRaffleSummary(ctx context.Context, raffleID string) (*analytics.RaffleSummary, error)
}

type TicketReleaser interface {
	Release(ctx context.Context, ticketIDs []string, actor string) (*reservation.ReleaseResult, error)
	ReleasePurchased(ctx context.Context, ticketIDs []string, actor, reason string) (int, error)
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
}

type SaleConfirmer interface {
	Finalize(ctx context.Context, req sale.FinalizeRequest) (*sale.FinalizeResult, error)
}

type Promoters interface {
	CreatePromoter(ctx context.Context, req commission.CreatePromoterRequest) (*models.Promoter, error)
	Deactivate(ctx context.Context, code string) error
	Leaderboard(ctx context.Context) ([]commission.Stats, error)
	StatsFor(ctx context.Context, code string) (*commission.Stats, error)
	RegisterSale(ctx context.Context, ticketID, code string) commission.RegisterResult
}

type CodeVerifier interface {
	Verify(ctx context.Context, payload string) (*qr.Verification, error)
}

// Handler serves the privileged admin surface. Routes must be mounted
// behind auth.Middleware and auth.RequireRole.
type Handler struct {
	Raffles   RaffleAdmin
	Generator TicketGenerator
	Summaries Summaries
	Tickets   TicketReleaser
	Sales     SaleConfirmer
	Promoters Promoters
	Codes     CodeVerifier
	Clock     clock.Clock
	Logger    *logger.Logger
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/raffles", h.CreateRaffle)
		r.Post("/raffles/{id}/status", h.SetRaffleStatus)
		r.Post("/raffles/{id}/tickets/generate", h.GenerateTickets)
		r.Get("/raffles/{id}/summary", h.RaffleSummary)

		r.Post("/tickets/release", h.ReleaseTickets)
		r.Post("/tickets/release-purchased", h.ReleasePurchased)
		r.Post("/tickets/release-expired", h.ReleaseExpired)
		if h.Codes != nil {
			r.Post("/tickets/verify-code", h.VerifyCode)
		}

		r.Post("/sales/confirm", h.ConfirmSale)

		r.Post("/promoters", h.CreatePromoter)
		r.Get("/promoters", h.Leaderboard)
		r.Post("/promoters/{code}/deactivate", h.DeactivatePromoter)
		r.Get("/promoters/{code}/stats", h.PromoterStats)
		r.Post("/promoters/{code}/sales", h.RegisterSale)
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.Logger.Error("ADMIN", fmt.Sprintf("%s %s: failed to decode request body: %v", r.Method, r.URL.Path, err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return false
	}
	return true
}

func (h *Handler) CreateRaffle(w http.ResponseWriter, r *http.Request) {
	var req raffles.CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	raffle, err := h.Raffles.Create(r.Context(), req)
	if err != nil {
		utils.WriteError(w, "Could not create raffle", err)
		return
	}
	h.Logger.Info("ADMIN", fmt.Sprintf("%s created raffle %s", auth.Actor(r.Context()), raffle.Slug))
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Raffle created", raffle))
}

func (h *Handler) SetRaffleStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.RaffleStatus `json:"status"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	raffle, err := h.Raffles.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		utils.WriteError(w, "Could not change raffle status", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Raffle status updated", raffle))
}

// GenerateTickets wipes and recreates every ticket of the raffle.
func (h *Handler) GenerateTickets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Total int `json:"total"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	raffleID := chi.URLParam(r, "id")
	result, err := h.Generator.GenerateTickets(r.Context(), raffleID, req.Total)
	if err != nil {
		utils.WriteError(w, "Could not generate tickets", err)
		return
	}
	h.Logger.LogSecurity("TICKETS_GENERATED", fmt.Sprintf("%s generated %d tickets for raffle %s", auth.Actor(r.Context()), result.Created, raffleID))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets generated", result))
}

func (h *Handler) RaffleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Summaries.GetRaffleSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, "Could not load raffle summary", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Raffle summary", summary))
}

type ticketBatchRequest struct {
	TicketIDs []string `json:"ticket_ids"`
	Reason    string   `json:"reason"`
}

func (h *Handler) ReleaseTickets(w http.ResponseWriter, r *http.Request) {
	var req ticketBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.Tickets.Release(r.Context(), req.TicketIDs, auth.Actor(r.Context()))
	if err != nil {
		utils.WriteError(w, "Could not release tickets", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets released", result))
}

// ReleasePurchased is the audited override that voids a sale.
func (h *Handler) ReleasePurchased(w http.ResponseWriter, r *http.Request) {
	var req ticketBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	released, err := h.Tickets.ReleasePurchased(r.Context(), req.TicketIDs, auth.Actor(r.Context()), req.Reason)
	if err != nil {
		utils.WriteError(w, "Could not release purchased tickets", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Purchased tickets released", map[string]int{"released": released}))
}

func (h *Handler) ReleaseExpired(w http.ResponseWriter, r *http.Request) {
	released, err := h.Tickets.ReleaseExpired(r.Context(), h.Clock.Now())
	if err != nil {
		utils.WriteError(w, "Sweep failed", err)
		return
	}
	h.Logger.Info("ADMIN", fmt.Sprintf("%s triggered a sweep: %d released", auth.Actor(r.Context()), released))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Expired holds released", map[string]int{"released": released}))
}

// VerifyCode checks a scanned ticket code against the current ticket row.
func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.Codes.Verify(r.Context(), strings.TrimSpace(req.Code))
	if errors.Is(err, qr.ErrInvalidPayload) {
		h.Logger.LogSecurity("TICKET_CODE_REJECTED", fmt.Sprintf("%s scanned an unreadable ticket code", auth.Actor(r.Context())))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid ticket code", "invalid_code"))
		return
	}
	if err != nil {
		utils.WriteError(w, "Could not verify ticket code", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket code checked", v))
}

type confirmSaleRequest struct {
	TicketIDs        []string `json:"ticket_ids"`
	PaymentReference string   `json:"payment_reference"`
	PaymentMethod    string   `json:"payment_method"`
}

// ConfirmSale finalizes tickets paid through a manual channel.
func (h *Handler) ConfirmSale(w http.ResponseWriter, r *http.Request) {
	var req confirmSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if !models.IsManualPaymentMethod(method) {
		utils.WriteError(w, "Payment method must be transfer, cash or whatsapp", models.ErrInvalidPaymentMethod)
		return
	}
	result, err := h.Sales.Finalize(r.Context(), sale.FinalizeRequest{
		TicketIDs:        req.TicketIDs,
		PaymentReference: req.PaymentReference,
		PaymentMethod:    method,
	})
	if err != nil {
		utils.WriteError(w, "Could not confirm sale", err)
		return
	}
	h.Logger.LogSale("MANUAL_CONFIRM", req.PaymentReference, fmt.Sprintf("confirmed by %s (%s), replayed=%t", auth.Actor(r.Context()), method, result.Replayed))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Sale confirmed", result))
}

func (h *Handler) CreatePromoter(w http.ResponseWriter, r *http.Request) {
	var req commission.CreatePromoterRequest
	if !h.decode(w, r, &req) {
		return
	}
	promoter, err := h.Promoters.CreatePromoter(r.Context(), req)
	if err != nil {
		utils.WriteError(w, "Could not create promoter", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Promoter created", promoter))
}

func (h *Handler) DeactivatePromoter(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := h.Promoters.Deactivate(r.Context(), code); err != nil {
		utils.WriteError(w, "Could not deactivate promoter", err)
		return
	}
	h.Logger.Info("ADMIN", fmt.Sprintf("%s deactivated promoter %s", auth.Actor(r.Context()), code))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Promoter deactivated", nil))
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.Promoters.Leaderboard(r.Context())
	if err != nil {
		utils.WriteError(w, "Could not load promoters", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Promoter leaderboard", board))
}

func (h *Handler) PromoterStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Promoters.StatsFor(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		utils.WriteError(w, "Could not load promoter stats", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Promoter stats", stats))
}

// RegisterSale attributes a reserved ticket to the promoter. It never fails
// the request; the result says whether the attribution stuck.
func (h *Handler) RegisterSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TicketID string `json:"ticket_id"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	result := h.Promoters.RegisterSale(r.Context(), req.TicketID, chi.URLParam(r, "code"))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Sale registration processed", result))
}
