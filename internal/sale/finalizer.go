// Package sale converts held tickets into purchased ones.
package sale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-raffle/internal/clock"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/metrics"
	"ms-raffle/internal/models"
	ticketdb "ms-raffle/internal/tickets/db"
	"ms-raffle/internal/utils"

	"github.com/uptrace/bun"
)

type TicketStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error
	GetByIDs(ctx context.Context, idb bun.IDB, ids []string) ([]models.Ticket, error)
	CompareAndSwapStatus(ctx context.Context, idb bun.IDB, cas ticketdb.CAS) (int64, error)
}

type RaffleLookup interface {
	GetByID(ctx context.Context, id string) (*models.Raffle, error)
}

type ParticipantLookup interface {
	GetByID(ctx context.Context, id string) (*models.Participant, error)
}

type SalePublisher interface {
	PublishSale(ctx context.Context, evt models.SaleEvent) error
}

type StatusPublisher interface {
	PublishStatusChange(ctx context.Context, evt models.TicketStatusEvent) error
}

type Option func(*Finalizer)

func WithParticipants(p ParticipantLookup) Option {
	return func(f *Finalizer) { f.participants = p }
}

func WithSalePublisher(p SalePublisher) Option {
	return func(f *Finalizer) { f.sales = append(f.sales, p) }
}

func WithStatusPublisher(p StatusPublisher) Option {
	return func(f *Finalizer) { f.statuses = append(f.statuses, p) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Finalizer) { f.metrics = m }
}

type Finalizer struct {
	store        TicketStore
	raffles      RaffleLookup
	participants ParticipantLookup
	sales        []SalePublisher
	statuses     []StatusPublisher
	clock        clock.Clock
	logger       *logger.Logger
	metrics      *metrics.Metrics
}

func NewFinalizer(store TicketStore, raffles RaffleLookup, clk clock.Clock, log *logger.Logger, opts ...Option) *Finalizer {
	f := &Finalizer{store: store, raffles: raffles, clock: clk, logger: log}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type FinalizeRequest struct {
	TicketIDs        []string
	PaymentReference string
	PaymentMethod    string
	// HolderID, when set, must hold every ticket. Gateway payments pass the
	// holder recorded at checkout.
	HolderID string
}

type FinalizeResult struct {
	Tickets  []models.Ticket  `json:"tickets"`
	Replayed bool             `json:"replayed"`
	Event    models.SaleEvent `json:"event"`
}

var errConcurrentChange = errors.New("tickets changed during finalize")

// Finalize marks reserved tickets purchased under paymentReference. Calling it
// again with the same reference returns the same tickets and re-emits the
// sale event flagged as a replay.
func (f *Finalizer) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	ids := utils.UniqueStrings(req.TicketIDs)
	if len(ids) == 0 {
		return nil, models.ErrEmptyBatch
	}
	ref := strings.TrimSpace(req.PaymentReference)
	if ref == "" {
		return nil, models.ErrPaymentReferenceRequired
	}
	if !models.IsValidPaymentMethod(req.PaymentMethod) {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidPaymentMethod, req.PaymentMethod)
	}

	now := f.clock.Now()
	var (
		sold     []models.Ticket
		replayed bool
		holderID string
	)
	err := f.store.WithTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		current, err := f.store.GetByIDs(ctx, tx, ids)
		if err != nil {
			return err
		}
		if missing := missingIDs(ids, current); len(missing) > 0 {
			return &models.NotFoundError{IDs: missing}
		}

		holderID, err = batchHolder(current, req.HolderID, ref)
		if err != nil {
			return err
		}

		var pending []string
		var rejected []models.TicketRef
		for _, t := range current {
			switch {
			case isSoldUnder(t, ref):
			case t.IsHeldBy(holderID):
				pending = append(pending, t.ID)
			default:
				rejected = append(rejected, t.Ref())
			}
		}
		if len(rejected) > 0 {
			return &models.NotReservedError{Tickets: rejected}
		}

		if len(pending) == 0 {
			replayed = true
			sold = current
			return nil
		}

		method := req.PaymentMethod
		n, err := f.store.CompareAndSwapStatus(ctx, tx, ticketdb.CAS{
			IDs:      pending,
			Expected: models.TicketStatusReserved,
			Next:     models.TicketStatusPurchased,
			HolderID: holderID,
			Fields: ticketdb.TicketFields{
				PaymentReference: &ref,
				PaymentMethod:    &method,
				At:               now,
			},
		})
		if err != nil {
			return err
		}
		if int(n) != len(pending) {
			return errConcurrentChange
		}

		sold, err = f.store.GetByIDs(ctx, tx, ids)
		return err
	})
	if errors.Is(err, errConcurrentChange) {
		f.metrics.Sale("conflict")
		return nil, fmt.Errorf("%w: %v", models.ErrTicketNotReserved, err)
	}
	if err != nil {
		f.metrics.Sale("rejected")
		return nil, err
	}

	evt := f.buildEvent(ctx, sold, holderID, ref, req.PaymentMethod, replayed, now)
	f.publishSale(ctx, evt)

	if replayed {
		f.metrics.Sale("replayed")
		f.logger.LogSale("REPLAYED", ref, fmt.Sprintf("tickets %s already sold, event re-emitted", strings.Join(evt.Numbers, ",")))
	} else {
		f.metrics.Sale("finalized")
		f.logger.LogSale("FINALIZED", ref, fmt.Sprintf("raffle %s holder %s tickets %s via %s", evt.RaffleID, holderID, strings.Join(evt.Numbers, ","), req.PaymentMethod))
		refs := make([]models.TicketRef, len(sold))
		for i, t := range sold {
			refs[i] = t.Ref()
		}
		f.publishStatus(ctx, models.NewTicketStatusEvent(evt.RaffleID, refs, models.TicketStatusPurchased, models.ReasonPurchased, now))
	}

	return &FinalizeResult{Tickets: sold, Replayed: replayed, Event: evt}, nil
}

// batchHolder returns the single holder and raffle shared by every ticket
// that has one. A batch spanning raffles or holders is rejected unless an
// expected holder was given, in which case foreign tickets are reported as
// not reserved by the caller.
func batchHolder(batch []models.Ticket, expected, ref string) (string, error) {
	raffleID := batch[0].RaffleID
	holder := expected
	for _, t := range batch {
		if t.RaffleID != raffleID {
			return "", fmt.Errorf("%w: raffles %s and %s", models.ErrMixedBatch, raffleID, t.RaffleID)
		}
		if t.HolderID == nil || expected != "" {
			continue
		}
		if t.Status == models.TicketStatusPurchased && !isSoldUnder(t, ref) {
			continue
		}
		if holder == "" {
			holder = *t.HolderID
		} else if holder != *t.HolderID {
			return "", fmt.Errorf("%w: holders %s and %s", models.ErrMixedBatch, holder, *t.HolderID)
		}
	}
	return holder, nil
}

func isSoldUnder(t models.Ticket, ref string) bool {
	return t.Status == models.TicketStatusPurchased && t.PaymentReference != nil && *t.PaymentReference == ref
}

func (f *Finalizer) buildEvent(ctx context.Context, sold []models.Ticket, holderID, ref, method string, replayed bool, now time.Time) models.SaleEvent {
	evt := models.SaleEvent{
		RaffleID:         sold[0].RaffleID,
		TicketIDs:        make([]string, 0, len(sold)),
		Numbers:          make([]string, 0, len(sold)),
		HolderID:         holderID,
		PaymentMethod:    method,
		PaymentReference: ref,
		Replay:           replayed,
		OccurredAt:       now,
	}
	for _, t := range sold {
		evt.TicketIDs = append(evt.TicketIDs, t.ID)
		evt.Numbers = append(evt.Numbers, t.Number)
		if evt.PromoterCode == "" && t.PromoterCode != nil {
			evt.PromoterCode = *t.PromoterCode
		}
	}

	if raffle, err := f.raffles.GetByID(ctx, evt.RaffleID); err != nil {
		f.logger.Warn("SALE", fmt.Sprintf("Sale event for %s without raffle details: %v", ref, err))
	} else {
		evt.RaffleName = raffle.Name
		evt.Amount = float64(len(sold)) * raffle.Price
	}
	if f.participants != nil && holderID != "" {
		if p, err := f.participants.GetByID(ctx, holderID); err != nil {
			f.logger.Warn("SALE", fmt.Sprintf("Sale event for %s without holder details: %v", ref, err))
		} else {
			evt.HolderName = p.Name
			evt.HolderPhone = p.Phone
		}
	}
	return evt
}

func (f *Finalizer) publishSale(ctx context.Context, evt models.SaleEvent) {
	for _, p := range f.sales {
		if err := p.PublishSale(ctx, evt); err != nil {
			f.metrics.PublishFailed("sale")
			f.logger.Error("SALE", fmt.Sprintf("Failed to publish sale event %s: %v", evt.PaymentReference, err))
		}
	}
}

func (f *Finalizer) publishStatus(ctx context.Context, evt models.TicketStatusEvent) {
	for _, p := range f.statuses {
		if err := p.PublishStatusChange(ctx, evt); err != nil {
			f.metrics.PublishFailed("ticket_status")
			f.logger.Error("SALE", fmt.Sprintf("Failed to publish status event for raffle %s: %v", evt.RaffleID, err))
		}
	}
}

func missingIDs(ids []string, found []models.Ticket) []string {
	present := make(map[string]struct{}, len(found))
	for _, t := range found {
		present[t.ID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
