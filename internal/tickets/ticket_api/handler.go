package ticket_api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/sse"
	"ms-raffle/internal/tickets/qr"
	"ms-raffle/internal/utils"

	"github.com/go-chi/chi/v5"
)

type RaffleReader interface {
	ListActive(ctx context.Context) ([]models.Raffle, error)
	GetBySlug(ctx context.Context, slug string) (*models.Raffle, error)
}

type TicketLister interface {
	ListAvailable(ctx context.Context, raffleID string) ([]models.Ticket, error)
}

type TicketCodes interface {
	TicketCode(ctx context.Context, paymentID, ticketID string) ([]byte, error)
}

// Handler serves the public storefront reads.
type Handler struct {
	Raffles RaffleReader
	Tickets TicketLister
	Events  *sse.TicketEventEmitter
	Codes   TicketCodes
	Logger  *logger.Logger
}

func NewHandler(raffles RaffleReader, tickets TicketLister, events *sse.TicketEventEmitter, log *logger.Logger) *Handler {
	return &Handler{Raffles: raffles, Tickets: tickets, Events: events, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/raffles", h.ListRaffles)
	r.Get("/api/raffles/{slug}", h.GetRaffle)
	r.Get("/api/raffles/{slug}/tickets", h.ListAvailableTickets)
	r.Get("/api/raffles/{slug}/tickets/stream", h.StreamTicketEvents)
	if h.Codes != nil {
		r.Get("/api/payments/{paymentID}/tickets/{ticketID}/code", h.TicketCode)
	}
}

func (h *Handler) ListRaffles(w http.ResponseWriter, r *http.Request) {
	raffles, err := h.Raffles.ListActive(r.Context())
	if err != nil {
		h.Logger.Error("TICKETS", fmt.Sprintf("Failed to list raffles: %v", err))
		utils.WriteError(w, "Failed to list raffles", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Raffles retrieved", raffles))
}

func (h *Handler) GetRaffle(w http.ResponseWriter, r *http.Request) {
	raffle, err := h.Raffles.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		utils.WriteError(w, "Raffle not found", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Raffle retrieved", raffle))
}

type availableTicket struct {
	ID     string `json:"id"`
	Number string `json:"number"`
}

type availableResponse struct {
	RaffleID string            `json:"raffle_id"`
	Price    float64           `json:"price"`
	Count    int               `json:"count"`
	Tickets  []availableTicket `json:"tickets"`
}

// ListAvailableTickets returns the raffle's available numbers. Expired holds
// are released before the listing is read.
func (h *Handler) ListAvailableTickets(w http.ResponseWriter, r *http.Request) {
	raffle, err := h.Raffles.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		utils.WriteError(w, "Raffle not found", err)
		return
	}

	tickets, err := h.Tickets.ListAvailable(r.Context(), raffle.ID)
	if err != nil {
		h.Logger.Error("TICKETS", fmt.Sprintf("Failed to list tickets for raffle %s: %v", raffle.ID, err))
		utils.WriteError(w, "Failed to list tickets", err)
		return
	}

	resp := availableResponse{
		RaffleID: raffle.ID,
		Price:    raffle.Price,
		Count:    len(tickets),
		Tickets:  make([]availableTicket, 0, len(tickets)),
	}
	for _, t := range tickets {
		resp.Tickets = append(resp.Tickets, availableTicket{ID: t.ID, Number: t.Number})
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Available tickets retrieved", resp))
}

// StreamTicketEvents pushes status changes of the raffle's tickets until the
// client disconnects.
func (h *Handler) StreamTicketEvents(w http.ResponseWriter, r *http.Request) {
	raffle, err := h.Raffles.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		utils.WriteError(w, "Raffle not found", err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	setupSSEHeaders(w)
	ctx := r.Context()
	events := h.Events.Subscribe(ctx, raffle.ID)

	if err := sse.WriteEvent(w, "connected", map[string]string{"status": "connected", "raffle_id": raffle.ID}); err != nil {
		return
	}
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to ticket events for raffle %s", raffle.ID))

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := sse.WriteEvent(w, "ticket_status", evt); err != nil {
				h.Logger.Debug("SSE", fmt.Sprintf("Write failed for raffle %s: %v", raffle.ID, err))
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from ticket events for raffle %s", raffle.ID))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// TicketCode serves the QR code of a ticket bought under the payment.
func (h *Handler) TicketCode(w http.ResponseWriter, r *http.Request) {
	paymentID, ticketID := chi.URLParam(r, "paymentID"), chi.URLParam(r, "ticketID")
	img, err := h.Codes.TicketCode(r.Context(), paymentID, ticketID)
	switch {
	case err == nil:
	case errors.Is(err, qr.ErrNotPurchased), errors.Is(err, models.ErrPaymentNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found for this payment", "not_found"))
		return
	default:
		h.Logger.Error("TICKETS", fmt.Sprintf("Failed to render code for ticket %s: %v", ticketID, err))
		utils.WriteError(w, "Failed to render ticket code", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}
