// Package payment runs gateway checkouts for held tickets and hands confirmed
// payments to the sale finalizer.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ms-raffle/internal/clock"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/sale"
	"ms-raffle/internal/utils"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/uptrace/bun"
)

// Stripe refuses sessions that expire sooner than this.
const minSessionLifetime = 31 * time.Minute

var (
	ErrPaymentMismatch = errors.New("gateway session does not match payment")
	ErrPaymentOrphaned = errors.New("payment captured but tickets could not be finalized")
	ErrNotPaid         = errors.New("checkout session is not paid")
)

type TicketReader interface {
	GetByIDs(ctx context.Context, idb bun.IDB, ids []string) ([]models.Ticket, error)
}

type RaffleLookup interface {
	GetByID(ctx context.Context, id string) (*models.Raffle, error)
}

type Finalizer interface {
	Finalize(ctx context.Context, req sale.FinalizeRequest) (*sale.FinalizeResult, error)
}

type Config struct {
	Currency      string
	SuccessURL    string
	CancelURL     string
	WebhookSecret string
	HoldDuration  time.Duration
}

type Service struct {
	store     Store
	gateway   Gateway
	tickets   TicketReader
	raffles   RaffleLookup
	finalizer Finalizer
	clock     clock.Clock
	cfg       Config
	logger    *logger.Logger
}

func NewService(store Store, gateway Gateway, tickets TicketReader, raffles RaffleLookup, finalizer Finalizer, clk clock.Clock, cfg Config, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		gateway:   gateway,
		tickets:   tickets,
		raffles:   raffles,
		finalizer: finalizer,
		clock:     clk,
		cfg:       cfg,
		logger:    log,
	}
}

type CheckoutRequest struct {
	RaffleID  string
	HolderID  string
	TicketIDs []string
}

// StartCheckout opens a hosted checkout for tickets the holder still holds.
func (s *Service) StartCheckout(ctx context.Context, req CheckoutRequest) (*models.Payment, error) {
	ids := utils.UniqueStrings(req.TicketIDs)
	if len(ids) == 0 {
		return nil, models.ErrEmptyBatch
	}
	now := s.clock.Now()

	held, err := s.tickets.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	if len(held) != len(ids) {
		found := make(map[string]bool, len(held))
		for _, t := range held {
			found[t.ID] = true
		}
		var missing []string
		for _, id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, &models.NotFoundError{IDs: missing}
	}
	holdExpiry := now.Add(s.cfg.HoldDuration)
	var lost []models.TicketRef
	for _, t := range held {
		if t.RaffleID != req.RaffleID || !t.IsHeldBy(req.HolderID) {
			lost = append(lost, t.Ref())
			continue
		}
		expires := t.HoldExpiresAt(s.cfg.HoldDuration)
		if !expires.After(now) {
			return nil, fmt.Errorf("%w: ticket %s", models.ErrHoldExpired, t.Number)
		}
		if expires.Before(holdExpiry) {
			holdExpiry = expires
		}
	}
	if len(lost) > 0 {
		return nil, &models.NotReservedError{Tickets: lost}
	}

	raffle, err := s.raffles.GetByID(ctx, req.RaffleID)
	if err != nil {
		return nil, err
	}

	p := &models.Payment{
		ID:        utils.GeneratePaymentID(now),
		RaffleID:  raffle.ID,
		HolderID:  req.HolderID,
		TicketIDs: ids,
		Provider:  models.PaymentMethodStripe,
		Amount:    float64(len(ids)) * raffle.Price,
		Currency:  s.cfg.Currency,
		Status:    models.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	sessionExpiry := holdExpiry
	if floor := now.Add(minSessionLifetime); sessionExpiry.Before(floor) {
		sessionExpiry = floor
	}
	session, err := s.gateway.CreateCheckout(ctx, CheckoutParams{
		PaymentID:   p.ID,
		RaffleID:    raffle.ID,
		HolderID:    req.HolderID,
		Description: fmt.Sprintf("%s (%d boletos)", raffle.Name, len(ids)),
		UnitAmount:  raffle.Price,
		Quantity:    len(ids),
		Currency:    s.cfg.Currency,
		SuccessURL:  s.cfg.SuccessURL,
		CancelURL:   s.cfg.CancelURL,
		ExpiresAt:   sessionExpiry,
	})
	if err != nil {
		if _, uerr := s.store.TransitionStatus(ctx, p.ID, []models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusExpired, now); uerr != nil {
			s.logger.Warn("PAYMENT", fmt.Sprintf("Failed to expire payment %s: %v", p.ID, uerr))
		}
		return nil, err
	}
	if err := s.store.AttachSession(ctx, p.ID, session.ID, session.URL, now); err != nil {
		return nil, err
	}
	p.ProviderSessionID = session.ID
	p.CheckoutURL = session.URL

	s.logger.Info("PAYMENT", fmt.Sprintf("Checkout %s started for holder %s: %d tickets, %.2f %s", p.ID, req.HolderID, len(ids), p.Amount, p.Currency))
	return p, nil
}

// ConfirmReturn handles the buyer's redirect back from the gateway. The
// session is re-fetched; the query string alone proves nothing.
func (s *Service) ConfirmReturn(ctx context.Context, sessionID string) (*models.Payment, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", models.ErrPaymentNotFound)
	}
	session, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.completeSession(ctx, session)
}

// WebhookError carries the HTTP status the webhook endpoint should answer.
type WebhookError struct {
	StatusCode  int
	PublicError string
	Err         error
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("%s: %v", e.PublicError, e.Err)
}

func (e *WebhookError) Unwrap() error {
	return e.Err
}

// HandleWebhook verifies and applies a gateway event.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.cfg.WebhookSecret == "" {
		s.logger.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return &WebhookError{StatusCode: http.StatusInternalServerError, PublicError: "Webhook processing error", Err: errors.New("webhook secret not configured")}
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.logger.LogSecurity("WEBHOOK_SIGNATURE", err.Error())
		return &WebhookError{StatusCode: http.StatusBadRequest, PublicError: "Invalid webhook signature", Err: err}
	}

	s.logger.Info("WEBHOOK", fmt.Sprintf("Processing Stripe webhook event %s: %s", event.ID, event.Type))

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return &WebhookError{StatusCode: http.StatusBadRequest, PublicError: "Invalid event data", Err: err}
		}
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			s.logger.Info("WEBHOOK", fmt.Sprintf("Session %s completed but not paid yet", cs.ID))
			return nil
		}
		_, err := s.completeSession(ctx, fromStripeSession(&cs))
		switch {
		case err == nil, errors.Is(err, ErrPaymentOrphaned):
			// Orphans are for manual follow-up; redelivery cannot fix them.
			return nil
		case errors.Is(err, ErrPaymentMismatch), errors.Is(err, models.ErrPaymentNotFound):
			return &WebhookError{StatusCode: http.StatusBadRequest, PublicError: "Unknown or mismatched session", Err: err}
		default:
			return &WebhookError{StatusCode: http.StatusInternalServerError, PublicError: "Failed to process payment", Err: err}
		}

	case stripe.EventTypeCheckoutSessionExpired:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return &WebhookError{StatusCode: http.StatusBadRequest, PublicError: "Invalid event data", Err: err}
		}
		return s.expireSession(ctx, cs.ID)

	default:
		s.logger.Debug("WEBHOOK", fmt.Sprintf("Ignoring event type %s", event.Type))
		return nil
	}
}

func (s *Service) completeSession(ctx context.Context, session *CheckoutSession) (*models.Payment, error) {
	p, err := s.store.GetBySessionID(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if !session.Paid {
		return p, fmt.Errorf("%w: %s", ErrNotPaid, session.ID)
	}
	if err := verifySession(p, session); err != nil {
		s.logger.LogSecurity("PAYMENT_MISMATCH", fmt.Sprintf("payment %s session %s: %v", p.ID, session.ID, err))
		return nil, err
	}

	now := s.clock.Now()
	_, err = s.finalizer.Finalize(ctx, sale.FinalizeRequest{
		TicketIDs:        p.TicketIDs,
		PaymentReference: p.ID,
		PaymentMethod:    models.PaymentMethodStripe,
		HolderID:         p.HolderID,
	})
	if err != nil && !ticketsLost(err) {
		s.logger.Error("PAYMENT", fmt.Sprintf("Finalize for payment %s failed, leaving it %s for a retry: %v", p.ID, p.Status, err))
		return nil, fmt.Errorf("finalize payment %s: %w", p.ID, err)
	}
	if err != nil {
		if _, uerr := s.store.TransitionStatus(ctx, p.ID, []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusExpired}, models.PaymentStatusOrphaned, now); uerr != nil {
			s.logger.Error("PAYMENT", fmt.Sprintf("Failed to mark payment %s orphaned: %v", p.ID, uerr))
		}
		s.logger.LogSecurity("PAYMENT_ORPHANED", fmt.Sprintf("payment %s (%.2f %s) captured but not finalized, refund required: %v", p.ID, p.Amount, p.Currency, err))
		p.Status = models.PaymentStatusOrphaned
		return p, fmt.Errorf("%w: %v", ErrPaymentOrphaned, err)
	}

	// An earlier attempt may have orphaned the payment before the tickets
	// were sold under it after all.
	moved, err := s.store.TransitionStatus(ctx, p.ID, []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusExpired, models.PaymentStatusOrphaned}, models.PaymentStatusSucceeded, now)
	if err != nil {
		return nil, err
	}
	if moved {
		s.logger.LogSale("PAYMENT_CONFIRMED", p.ID, fmt.Sprintf("session %s", session.ID))
	}
	p.Status = models.PaymentStatusSucceeded
	return p, nil
}

// ticketsLost reports whether a finalize error means the paid tickets can no
// longer be sold under the payment. Anything else may succeed on retry.
func ticketsLost(err error) bool {
	return errors.Is(err, models.ErrTicketNotReserved) ||
		errors.Is(err, models.ErrMixedBatch) ||
		errors.Is(err, models.ErrTicketNotFound) ||
		errors.Is(err, models.ErrEmptyBatch)
}

func (s *Service) expireSession(ctx context.Context, sessionID string) error {
	p, err := s.store.GetBySessionID(ctx, sessionID)
	if err != nil {
		s.logger.Warn("WEBHOOK", fmt.Sprintf("Expired session %s has no payment: %v", sessionID, err))
		return nil
	}
	moved, err := s.store.TransitionStatus(ctx, p.ID, []models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusExpired, s.clock.Now())
	if err != nil {
		return &WebhookError{StatusCode: http.StatusInternalServerError, PublicError: "Failed to expire payment", Err: err}
	}
	if moved {
		s.logger.Info("PAYMENT", fmt.Sprintf("Payment %s expired with session %s", p.ID, sessionID))
	}
	return nil
}

func verifySession(p *models.Payment, session *CheckoutSession) error {
	if id := session.Metadata["payment_id"]; id != p.ID {
		return fmt.Errorf("%w: metadata payment_id %q", ErrPaymentMismatch, id)
	}
	if session.AmountTotal != ToMinorUnits(p.Amount) {
		return fmt.Errorf("%w: amount %d, expected %d", ErrPaymentMismatch, session.AmountTotal, ToMinorUnits(p.Amount))
	}
	if !strings.EqualFold(session.Currency, p.Currency) {
		return fmt.Errorf("%w: currency %s, expected %s", ErrPaymentMismatch, session.Currency, p.Currency)
	}
	return nil
}
