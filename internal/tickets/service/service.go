package tickets

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ms-raffle/internal/clock"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/utils"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	MinNumberWidth = 4
	MaxTickets     = 100000
)

type TicketDBLayer interface {
	ListAvailable(ctx context.Context, raffleID string) ([]models.Ticket, error)
	GetByIDs(ctx context.Context, idb bun.IDB, ids []string) ([]models.Ticket, error)
	ReplaceTickets(ctx context.Context, raffleID string, tickets []models.Ticket) (int64, error)
}

type RaffleLookup interface {
	GetByID(ctx context.Context, id string) (*models.Raffle, error)
}

// ExpirySweeper releases expired holds of one raffle before a listing is served.
type ExpirySweeper interface {
	ReleaseExpiredForRaffle(ctx context.Context, raffleID string) (int, error)
}

type TicketService struct {
	DB      TicketDBLayer
	Raffles RaffleLookup
	Clock   clock.Clock
	Logger  *logger.Logger

	sweeper ExpirySweeper
}

func NewTicketService(db TicketDBLayer, raffles RaffleLookup, clk clock.Clock, log *logger.Logger) *TicketService {
	return &TicketService{DB: db, Raffles: raffles, Clock: clk, Logger: log}
}

// EnableSweepOnRead makes ListAvailable release expired holds first.
func (s *TicketService) EnableSweepOnRead(sweeper ExpirySweeper) {
	s.sweeper = sweeper
}

// ListAvailable returns available tickets ordered by number. Sweep failures
// are logged and the listing is still served.
func (s *TicketService) ListAvailable(ctx context.Context, raffleID string) ([]models.Ticket, error) {
	if s.sweeper != nil {
		released, err := s.sweeper.ReleaseExpiredForRaffle(ctx, raffleID)
		if err != nil {
			s.Logger.Warn("TICKETS", fmt.Sprintf("Sweep on read failed for raffle %s: %v", raffleID, err))
		} else if released > 0 {
			s.Logger.LogReservation("SWEEP_ON_READ", raffleID, fmt.Sprintf("released %d expired holds", released))
		}
	}
	return s.DB.ListAvailable(ctx, raffleID)
}

// GetByIDs returns the tickets keyed by id, failing with a NotFoundError when
// any id is unknown.
func (s *TicketService) GetByIDs(ctx context.Context, ids []string) (map[string]models.Ticket, error) {
	ids = utils.UniqueStrings(ids)
	found, err := s.DB.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Ticket, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}
	var missing []string
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &models.NotFoundError{IDs: missing}
	}
	return byID, nil
}

type GenerateResult struct {
	RaffleID string `json:"raffle_id"`
	Deleted  int64  `json:"deleted"`
	Created  int    `json:"created"`
	First    string `json:"first"`
	Last     string `json:"last"`
}

// GenerateTickets destroys every ticket of the raffle, reservations and
// purchases included, and recreates numbers 0..total-1.
func (s *TicketService) GenerateTickets(ctx context.Context, raffleID string, total int) (*GenerateResult, error) {
	if total < 1 || total > MaxTickets {
		return nil, fmt.Errorf("%w: %d (allowed 1-%d)", models.ErrInvalidTicketCount, total, MaxTickets)
	}
	if _, err := s.Raffles.GetByID(ctx, raffleID); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	tickets := make([]models.Ticket, total)
	for i := 0; i < total; i++ {
		tickets[i] = models.Ticket{
			ID:        uuid.NewString(),
			RaffleID:  raffleID,
			Number:    FormatNumber(i, total),
			Status:    models.TicketStatusAvailable,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	start := time.Now()
	deleted, err := s.DB.ReplaceTickets(ctx, raffleID, tickets)
	if err != nil {
		return nil, fmt.Errorf("generate tickets for raffle %s: %w", raffleID, err)
	}

	if deleted > 0 {
		s.Logger.LogSecurity("TICKETS_REGENERATED", fmt.Sprintf("raffle %s: deleted %d tickets, created %d", raffleID, deleted, total))
	}
	s.Logger.LogDatabase("GENERATE", "tickets", fmt.Sprintf("raffle %s: %d tickets in %s", raffleID, total, time.Since(start)))

	return &GenerateResult{
		RaffleID: raffleID,
		Deleted:  deleted,
		Created:  total,
		First:    tickets[0].Number,
		Last:     tickets[total-1].Number,
	}, nil
}

// NumberWidth is the digit count of total-1, never less than MinNumberWidth.
func NumberWidth(total int) int {
	width := len(strconv.Itoa(total - 1))
	if total <= 1 {
		width = 1
	}
	if width < MinNumberWidth {
		return MinNumberWidth
	}
	return width
}

// FormatNumber renders n zero-padded for a raffle of total tickets.
func FormatNumber(n, total int) string {
	return fmt.Sprintf("%0*d", NumberWidth(total), n)
}
