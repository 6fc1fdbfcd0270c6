package reservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ms-raffle/internal/clock"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/metrics"
	"ms-raffle/internal/models"
	ticketdb "ms-raffle/internal/tickets/db"
	tickets "ms-raffle/internal/tickets/service"
	"ms-raffle/internal/utils"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	DefaultHoldDuration   = 3 * time.Hour
	DefaultMaxBatchSize   = 50
	DefaultSweepBatchSize = 500
)

type TicketStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error
	GetByIDs(ctx context.Context, idb bun.IDB, ids []string) ([]models.Ticket, error)
	GetByNumbers(ctx context.Context, raffleID string, numbers []string) ([]models.Ticket, error)
	ListExpired(ctx context.Context, cutoff time.Time, raffleID string, limit int) ([]models.Ticket, error)
	CompareAndSwapStatus(ctx context.Context, idb bun.IDB, cas ticketdb.CAS) (int64, error)
	InsertAudits(ctx context.Context, idb bun.IDB, audits []models.TicketAudit) error
}

type RaffleLookup interface {
	GetByID(ctx context.Context, id string) (*models.Raffle, error)
}

// PromoterResolver returns the canonical code of an active promoter.
type PromoterResolver interface {
	ResolveCode(ctx context.Context, code string) (string, error)
}

type StatusPublisher interface {
	PublishStatusChange(ctx context.Context, evt models.TicketStatusEvent) error
}

type Config struct {
	HoldDuration   time.Duration
	MaxBatchSize   int
	SweepBatchSize int
}

func (c Config) withDefaults() Config {
	if c.HoldDuration <= 0 {
		c.HoldDuration = DefaultHoldDuration
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = DefaultSweepBatchSize
	}
	return c
}

type Option func(*Engine)

func WithPromoterResolver(r PromoterResolver) Option {
	return func(e *Engine) { e.promoters = r }
}

func WithStatusPublisher(p StatusPublisher) Option {
	return func(e *Engine) { e.publishers = append(e.publishers, p) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine owns every ticket status transition except the sale itself. All
// transitions go through Ticket Store compare-and-swap updates.
type Engine struct {
	store      TicketStore
	raffles    RaffleLookup
	promoters  PromoterResolver
	publishers []StatusPublisher
	clock      clock.Clock
	cfg        Config
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewEngine(store TicketStore, raffles RaffleLookup, clk clock.Clock, cfg Config, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		raffles: raffles,
		clock:   clk,
		cfg:     cfg.withDefaults(),
		logger:  log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) HoldDuration() time.Duration {
	return e.cfg.HoldDuration
}

// CheckBatchSize rejects empty and oversized batches without touching
// storage. Callers use it to fail fast before any other writes.
func (e *Engine) CheckBatchSize(n int) error {
	switch {
	case n == 0:
		return models.ErrEmptyBatch
	case n > e.cfg.MaxBatchSize:
		e.metrics.Reservation("rejected")
		return fmt.Errorf("%w: %d requested, max %d", models.ErrBatchTooLarge, n, e.cfg.MaxBatchSize)
	}
	return nil
}

type ReserveRequest struct {
	RaffleID     string
	TicketIDs    []string
	HolderID     string
	PromoterCode string
}

type ReserveNumbersRequest struct {
	RaffleID     string
	Numbers      []string
	HolderID     string
	PromoterCode string
}

type Reservation struct {
	RaffleID     string          `json:"raffle_id"`
	HolderID     string          `json:"holder_id"`
	PromoterCode string          `json:"promoter_code,omitempty"`
	Tickets      []models.Ticket `json:"tickets"`
	ReservedAt   time.Time       `json:"reserved_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

func (r *Reservation) TicketIDs() []string {
	ids := make([]string, len(r.Tickets))
	for i, t := range r.Tickets {
		ids[i] = t.ID
	}
	return ids
}

func (r *Reservation) Numbers() []string {
	numbers := make([]string, len(r.Tickets))
	for i, t := range r.Tickets {
		numbers[i] = t.Number
	}
	return numbers
}

var errShortfall = errors.New("reservation shortfall")

// Reserve claims every requested ticket for the holder or none of them.
func (e *Engine) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	ids := utils.UniqueStrings(req.TicketIDs)
	if err := e.CheckBatchSize(len(ids)); err != nil {
		return nil, err
	}
	if req.HolderID == "" {
		return nil, models.ErrHolderRequired
	}

	raffle, err := e.raffles.GetByID(ctx, req.RaffleID)
	if err != nil {
		return nil, err
	}
	if !raffle.IsActive() {
		e.metrics.Reservation("rejected")
		return nil, fmt.Errorf("%w: %s is %s", models.ErrRaffleNotActive, raffle.Slug, raffle.Status)
	}

	current, err := e.loadBatch(ctx, raffle.ID, ids)
	if err != nil {
		return nil, err
	}
	if e.hasExpiredHold(current) {
		if _, err := e.releaseExpired(ctx, e.clock.Now(), raffle.ID); err != nil {
			e.logger.Warn("RESERVATION", fmt.Sprintf("Pre-reserve sweep failed for raffle %s: %v", raffle.ID, err))
		}
		if current, err = e.loadBatch(ctx, raffle.ID, ids); err != nil {
			return nil, err
		}
	}
	if unavailable := collectUnavailable(current); unavailable != nil {
		e.metrics.Reservation("conflict")
		return nil, unavailable
	}

	promoterCode := e.resolvePromoter(ctx, req.PromoterCode)
	var promoterPtr *string
	if promoterCode != "" {
		promoterPtr = &promoterCode
	}
	holderID := req.HolderID
	now := e.clock.Now()

	err = e.store.WithTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		n, err := e.store.CompareAndSwapStatus(ctx, tx, ticketdb.CAS{
			IDs:      ids,
			Expected: models.TicketStatusAvailable,
			Next:     models.TicketStatusReserved,
			RaffleID: raffle.ID,
			Fields: ticketdb.TicketFields{
				HolderID:     &holderID,
				PromoterCode: promoterPtr,
				At:           now,
			},
		})
		if err != nil {
			return err
		}
		if int(n) != len(ids) {
			return errShortfall
		}
		return nil
	})
	if errors.Is(err, errShortfall) {
		e.metrics.Reservation("conflict")
		return nil, e.describeConflict(ctx, ids)
	}
	if err != nil {
		e.metrics.Reservation("error")
		return nil, fmt.Errorf("reserve tickets: %w", err)
	}

	reserved := make([]models.Ticket, 0, len(current))
	refs := make([]models.TicketRef, 0, len(current))
	for _, t := range current {
		t.Status = models.TicketStatusReserved
		t.HolderID = &holderID
		reservedAt := now
		t.ReservedAt = &reservedAt
		t.PromoterCode = promoterPtr
		t.UpdatedAt = now
		reserved = append(reserved, t)
		refs = append(refs, t.Ref())
	}

	e.metrics.Reservation("reserved")
	e.logger.LogReservation("RESERVED", raffle.ID, fmt.Sprintf("holder %s reserved %s", holderID, strings.Join(refNumbers(refs), ",")))
	e.publish(ctx, models.NewTicketStatusEvent(raffle.ID, refs, models.TicketStatusReserved, models.ReasonReserved, now))

	return &Reservation{
		RaffleID:     raffle.ID,
		HolderID:     holderID,
		PromoterCode: promoterCode,
		Tickets:      reserved,
		ReservedAt:   now,
		ExpiresAt:    now.Add(e.cfg.HoldDuration),
	}, nil
}

// ReserveNumbers resolves display numbers ("7", "0007") to tickets and
// reserves them.
func (e *Engine) ReserveNumbers(ctx context.Context, req ReserveNumbersRequest) (*Reservation, error) {
	numbers := utils.UniqueStrings(req.Numbers)
	if err := e.CheckBatchSize(len(numbers)); err != nil {
		return nil, err
	}

	raffle, err := e.raffles.GetByID(ctx, req.RaffleID)
	if err != nil {
		return nil, err
	}

	canonical := make([]string, 0, len(numbers))
	var missing []string
	for _, raw := range numbers {
		n, ok := CanonicalNumber(raw, raffle.TotalTickets)
		if !ok {
			missing = append(missing, raw)
			continue
		}
		canonical = append(canonical, n)
	}
	if len(missing) > 0 {
		return nil, &models.NotFoundError{IDs: missing}
	}

	found, err := e.store.GetByNumbers(ctx, raffle.ID, canonical)
	if err != nil {
		return nil, err
	}
	byNumber := make(map[string]string, len(found))
	for _, t := range found {
		byNumber[t.Number] = t.ID
	}
	ids := make([]string, 0, len(canonical))
	for _, n := range canonical {
		id, ok := byNumber[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		ids = append(ids, id)
	}
	if len(missing) > 0 {
		return nil, &models.NotFoundError{IDs: missing}
	}

	return e.Reserve(ctx, ReserveRequest{
		RaffleID:     raffle.ID,
		TicketIDs:    ids,
		HolderID:     req.HolderID,
		PromoterCode: req.PromoterCode,
	})
}

// CanonicalNumber converts a user-supplied number into the zero-padded form
// used by a raffle of total tickets.
func CanonicalNumber(raw string, total int) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 || n >= total {
		return "", false
	}
	return tickets.FormatNumber(n, total), true
}

// ReleaseExpired releases every hold that expired before now.
func (e *Engine) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	return e.releaseExpired(ctx, now, "")
}

// ReleaseExpiredForRaffle is the clean-on-read variant scoped to one raffle.
func (e *Engine) ReleaseExpiredForRaffle(ctx context.Context, raffleID string) (int, error) {
	return e.releaseExpired(ctx, e.clock.Now(), raffleID)
}

// releaseExpired flips each candidate individually with a guarded CAS so
// concurrent sweeps and finalizes never both win the same ticket.
func (e *Engine) releaseExpired(ctx context.Context, now time.Time, raffleID string) (int, error) {
	cutoff := now.Add(-e.cfg.HoldDuration)
	total := 0

	for {
		candidates, err := e.store.ListExpired(ctx, cutoff, raffleID, e.cfg.SweepBatchSize)
		if err != nil {
			return total, err
		}

		released := make(map[string][]models.TicketRef)
		var casErr error
		for _, t := range candidates {
			n, err := e.store.CompareAndSwapStatus(ctx, nil, ticketdb.CAS{
				IDs:            []string{t.ID},
				Expected:       models.TicketStatusReserved,
				Next:           models.TicketStatusAvailable,
				ReservedBefore: &cutoff,
				Fields:         ticketdb.TicketFields{At: now},
			})
			if err != nil {
				casErr = err
				break
			}
			if n == 1 {
				released[t.RaffleID] = append(released[t.RaffleID], t.Ref())
			}
		}

		batchReleased := 0
		for rid, refs := range released {
			batchReleased += len(refs)
			e.publish(ctx, models.NewTicketStatusEvent(rid, refs, models.TicketStatusAvailable, models.ReasonExpired, now))
		}
		total += batchReleased
		e.metrics.Released(models.ReasonExpired, batchReleased)

		if casErr != nil {
			return total, fmt.Errorf("release expired hold: %w", casErr)
		}
		if len(candidates) < e.cfg.SweepBatchSize || batchReleased == 0 {
			return total, nil
		}
	}
}

type ReleaseResult struct {
	Released         int      `json:"released"`
	AlreadyAvailable []string `json:"already_available,omitempty"`
	SkippedPurchased []string `json:"skipped_purchased,omitempty"`
}

// Release returns reserved tickets to available. Purchased tickets are left
// alone and reported; use ReleasePurchased for those.
func (e *Engine) Release(ctx context.Context, ticketIDs []string, actor string) (*ReleaseResult, error) {
	ids := utils.UniqueStrings(ticketIDs)
	if len(ids) == 0 {
		return nil, models.ErrEmptyBatch
	}
	current, err := e.loadBatch(ctx, "", ids)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	result := &ReleaseResult{}
	released := make(map[string][]models.TicketRef)
	for _, t := range current {
		switch t.Status {
		case models.TicketStatusPurchased:
			result.SkippedPurchased = append(result.SkippedPurchased, t.Number)
			continue
		case models.TicketStatusAvailable:
			result.AlreadyAvailable = append(result.AlreadyAvailable, t.Number)
			continue
		}
		n, err := e.store.CompareAndSwapStatus(ctx, nil, ticketdb.CAS{
			IDs:      []string{t.ID},
			Expected: models.TicketStatusReserved,
			Next:     models.TicketStatusAvailable,
			Fields:   ticketdb.TicketFields{At: now},
		})
		if err != nil {
			return nil, fmt.Errorf("release ticket %s: %w", t.ID, err)
		}
		if n == 1 {
			released[t.RaffleID] = append(released[t.RaffleID], t.Ref())
			result.Released++
		}
	}

	for rid, refs := range released {
		e.publish(ctx, models.NewTicketStatusEvent(rid, refs, models.TicketStatusAvailable, models.ReasonAdminRelease, now))
		e.logger.LogSecurity("TICKETS_RELEASED", fmt.Sprintf("%s released %s in raffle %s", actor, strings.Join(refNumbers(refs), ","), rid))
	}
	e.metrics.Released(models.ReasonAdminRelease, result.Released)
	return result, nil
}

// ReleasePurchased reverts purchased tickets to available and writes an audit
// row per ticket in the same transaction.
func (e *Engine) ReleasePurchased(ctx context.Context, ticketIDs []string, actor, reason string) (int, error) {
	ids := utils.UniqueStrings(ticketIDs)
	if len(ids) == 0 {
		return 0, models.ErrEmptyBatch
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return 0, models.ErrReasonRequired
	}
	if actor == "" {
		actor = "unknown"
	}

	now := e.clock.Now()
	var released []models.Ticket
	err := e.store.WithTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		current, err := e.store.GetByIDs(ctx, tx, ids)
		if err != nil {
			return err
		}
		if missing := missingIDs(ids, current); len(missing) > 0 {
			return &models.NotFoundError{IDs: missing}
		}
		for _, t := range current {
			if t.Status != models.TicketStatusPurchased {
				return fmt.Errorf("%w: ticket %s is %s, not purchased", models.ErrInvalidStatusTransition, t.Number, t.Status)
			}
		}

		n, err := e.store.CompareAndSwapStatus(ctx, tx, ticketdb.CAS{
			IDs:      ids,
			Expected: models.TicketStatusPurchased,
			Next:     models.TicketStatusAvailable,
			Fields:   ticketdb.TicketFields{At: now},
		})
		if err != nil {
			return err
		}
		if int(n) != len(ids) {
			return fmt.Errorf("%w: tickets changed during override", models.ErrInvalidStatusTransition)
		}

		audits := make([]models.TicketAudit, 0, len(current))
		for _, t := range current {
			audits = append(audits, models.TicketAudit{
				ID:               uuid.NewString(),
				TicketID:         t.ID,
				RaffleID:         t.RaffleID,
				Action:           models.AuditActionReleasePurchased,
				Actor:            actor,
				Reason:           reason,
				PreviousStatus:   t.Status,
				PaymentReference: t.PaymentReference,
				CreatedAt:        now,
			})
		}
		if err := e.store.InsertAudits(ctx, tx, audits); err != nil {
			return err
		}
		released = current
		return nil
	})
	if err != nil {
		return 0, err
	}

	byRaffle := make(map[string][]models.TicketRef)
	for _, t := range released {
		byRaffle[t.RaffleID] = append(byRaffle[t.RaffleID], t.Ref())
	}
	for rid, refs := range byRaffle {
		e.logger.LogSecurity("PURCHASE_OVERRIDE", fmt.Sprintf("%s released purchased tickets %s in raffle %s: %s", actor, strings.Join(refNumbers(refs), ","), rid, reason))
		e.publish(ctx, models.NewTicketStatusEvent(rid, refs, models.TicketStatusAvailable, models.ReasonPurchaseOverride, now))
	}
	e.metrics.Released(models.ReasonPurchaseOverride, len(released))
	return len(released), nil
}

// loadBatch reads the tickets and fails with NotFoundError when any id is
// unknown or, with raffleID set, belongs to another raffle.
func (e *Engine) loadBatch(ctx context.Context, raffleID string, ids []string) ([]models.Ticket, error) {
	current, err := e.store.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	if raffleID != "" {
		filtered := current[:0]
		for _, t := range current {
			if t.RaffleID == raffleID {
				filtered = append(filtered, t)
			}
		}
		current = filtered
	}
	if missing := missingIDs(ids, current); len(missing) > 0 {
		return nil, &models.NotFoundError{IDs: missing}
	}
	return current, nil
}

func (e *Engine) hasExpiredHold(batch []models.Ticket) bool {
	now := e.clock.Now()
	for _, t := range batch {
		if t.Status == models.TicketStatusReserved && t.HoldExpiresAt(e.cfg.HoldDuration).Before(now) {
			return true
		}
	}
	return false
}

// describeConflict re-reads a batch that lost a race and names the tickets
// now held by someone else.
func (e *Engine) describeConflict(ctx context.Context, ids []string) error {
	current, err := e.store.GetByIDs(ctx, nil, ids)
	if err != nil {
		e.logger.Warn("RESERVATION", fmt.Sprintf("Failed to read conflicting tickets: %v", err))
		return &models.UnavailableError{}
	}
	if unavailable := collectUnavailable(current); unavailable != nil {
		return unavailable
	}
	return &models.UnavailableError{}
}

func (e *Engine) resolvePromoter(ctx context.Context, code string) string {
	if strings.TrimSpace(code) == "" || e.promoters == nil {
		return ""
	}
	resolved, err := e.promoters.ResolveCode(ctx, code)
	if err != nil {
		e.logger.Warn("COMMISSION", fmt.Sprintf("Ignoring promoter code %q: %v", code, err))
		return ""
	}
	return resolved
}

func (e *Engine) publish(ctx context.Context, evt models.TicketStatusEvent) {
	for _, p := range e.publishers {
		if err := p.PublishStatusChange(ctx, evt); err != nil {
			e.metrics.PublishFailed("ticket_status")
			e.logger.Error("RESERVATION", fmt.Sprintf("Failed to publish %s event for raffle %s: %v", evt.Status, evt.RaffleID, err))
		}
	}
}

func collectUnavailable(batch []models.Ticket) *models.UnavailableError {
	var out models.UnavailableError
	for _, t := range batch {
		switch t.Status {
		case models.TicketStatusReserved:
			out.Reserved = append(out.Reserved, t.Ref())
		case models.TicketStatusPurchased:
			out.Purchased = append(out.Purchased, t.Ref())
		}
	}
	if len(out.Reserved) == 0 && len(out.Purchased) == 0 {
		return nil
	}
	return &out
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

func refNumbers(refs []models.TicketRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Number
	}
	return out
}
