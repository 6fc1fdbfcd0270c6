// Package commission derives promoter commission figures from ticket state.
// Nothing here is stored: every number is recomputed from the tickets table.
package commission

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"ms-raffle/internal/clock"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
)

const (
	DefaultRate           = 0.10
	DefaultBonusThreshold = 100
	DefaultBonusPerTicket = 5.0
)

type Tier struct {
	Name     string `json:"name"`
	MinSales int    `json:"min_sales"`
	Bonus    bool   `json:"bonus"`
}

// DefaultTiers returns the tier ladder with gold (and the bonus) at threshold.
func DefaultTiers(threshold int) []Tier {
	tiers := []Tier{
		{Name: "starter", MinSales: 0},
		{Name: "bronze", MinSales: 25},
		{Name: "silver", MinSales: 50},
		{Name: "gold", MinSales: threshold, Bonus: true},
	}
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinSales < tiers[j].MinSales })
	return tiers
}

// TierFor returns the highest tier whose threshold confirmed reaches. The
// ladder must be sorted by MinSales.
func TierFor(confirmed int, tiers []Tier) Tier {
	current := Tier{Name: "starter"}
	bonus := false
	for _, t := range tiers {
		if confirmed < t.MinSales {
			break
		}
		current = t
		bonus = bonus || t.Bonus
	}
	current.Bonus = bonus
	return current
}

type Settings struct {
	Rate           float64
	BonusPerTicket float64
	Tiers          []Tier
}

func (s Settings) withDefaults() Settings {
	// Zero is a valid rate. The 10% default is applied by config loading.
	if s.Rate < 0 {
		s.Rate = 0
	}
	if s.BonusPerTicket < 0 {
		s.BonusPerTicket = 0
	}
	if len(s.Tiers) == 0 {
		s.Tiers = DefaultTiers(DefaultBonusThreshold)
	}
	return s
}

type Stats struct {
	PromoterCode      string  `json:"promoter_code"`
	ConfirmedSales    int     `json:"confirmed_sales"`
	PendingSales      int     `json:"pending_sales"`
	CommissionEarned  float64 `json:"commission_earned"`
	PendingCommission float64 `json:"pending_commission"`
	BonusUnlocked     bool    `json:"bonus_unlocked"`
	BonusEarned       float64 `json:"bonus_earned"`
	Tier              string  `json:"tier"`
}

// Compute turns per-status sales totals into promoter stats.
func Compute(code string, totals []SalesTotal, settings Settings) Stats {
	settings = settings.withDefaults()
	stats := Stats{PromoterCode: code}
	for _, row := range totals {
		amount := float64(row.Count) * row.Price * settings.Rate
		switch row.Status {
		case models.TicketStatusPurchased:
			stats.ConfirmedSales += row.Count
			stats.CommissionEarned += amount
		case models.TicketStatusReserved:
			stats.PendingSales += row.Count
			stats.PendingCommission += amount
		}
	}
	tier := TierFor(stats.ConfirmedSales, settings.Tiers)
	stats.Tier = tier.Name
	stats.BonusUnlocked = tier.Bonus
	if tier.Bonus {
		stats.BonusEarned = float64(stats.ConfirmedSales) * settings.BonusPerTicket
	}
	stats.CommissionEarned = roundCents(stats.CommissionEarned)
	stats.PendingCommission = roundCents(stats.PendingCommission)
	stats.BonusEarned = roundCents(stats.BonusEarned)
	return stats
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

type Store interface {
	SalesTotals(ctx context.Context, code string) ([]SalesTotal, error)
	GetPromoter(ctx context.Context, code string) (*models.Promoter, error)
	CreatePromoter(ctx context.Context, p *models.Promoter) error
	SetPromoterActive(ctx context.Context, code string, active bool) error
	ListPromoters(ctx context.Context) ([]models.Promoter, error)
	AttachPromoter(ctx context.Context, ticketID, code string, at time.Time) (bool, error)
}

type Ledger struct {
	store    Store
	settings Settings
	clock    clock.Clock
	logger   *logger.Logger
}

func NewLedger(store Store, settings Settings, clk clock.Clock, log *logger.Logger) *Ledger {
	return &Ledger{store: store, settings: settings.withDefaults(), clock: clk, logger: log}
}

// StatsFor recomputes a promoter's figures from current ticket state.
func (l *Ledger) StatsFor(ctx context.Context, code string) (*Stats, error) {
	code = models.NormalizePromoterCode(code)
	if _, err := l.store.GetPromoter(ctx, code); err != nil {
		return nil, err
	}
	totals, err := l.store.SalesTotals(ctx, code)
	if err != nil {
		return nil, err
	}
	stats := Compute(code, totals, l.settings)
	return &stats, nil
}

// ResolveCode returns the stored code of an active promoter.
func (l *Ledger) ResolveCode(ctx context.Context, code string) (string, error) {
	code = models.NormalizePromoterCode(code)
	if code == "" {
		return "", fmt.Errorf("%w: empty code", models.ErrPromoterNotFound)
	}
	p, err := l.store.GetPromoter(ctx, code)
	if err != nil {
		return "", err
	}
	if !p.Active {
		return "", fmt.Errorf("%w: %s", models.ErrPromoterInactive, code)
	}
	return p.Code, nil
}

type RegisterResult struct {
	Attached bool   `json:"attached"`
	Reason   string `json:"reason,omitempty"`
}

// RegisterSale attributes a reserved ticket to a promoter. It never fails the
// caller: problems are logged and reported in the result.
func (l *Ledger) RegisterSale(ctx context.Context, ticketID, code string) RegisterResult {
	resolved, err := l.ResolveCode(ctx, code)
	if err != nil {
		l.logger.Warn("COMMISSION", fmt.Sprintf("Not attributing ticket %s to %q: %v", ticketID, code, err))
		return RegisterResult{Reason: err.Error()}
	}
	ok, err := l.store.AttachPromoter(ctx, ticketID, resolved, l.clock.Now())
	if err != nil {
		l.logger.Error("COMMISSION", fmt.Sprintf("Failed to attribute ticket %s to %s: %v", ticketID, resolved, err))
		return RegisterResult{Reason: "attribution failed"}
	}
	if !ok {
		l.logger.Warn("COMMISSION", fmt.Sprintf("Ticket %s is not reserved, %s not attached", ticketID, resolved))
		return RegisterResult{Reason: "ticket is not reserved"}
	}
	l.logger.Info("COMMISSION", fmt.Sprintf("Ticket %s attributed to %s", ticketID, resolved))
	return RegisterResult{Attached: true}
}

type CreatePromoterRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (l *Ledger) CreatePromoter(ctx context.Context, req CreatePromoterRequest) (*models.Promoter, error) {
	code := models.NormalizePromoterCode(req.Code)
	name := strings.TrimSpace(req.Name)
	if code == "" || name == "" {
		return nil, models.ErrInvalidPromoter
	}
	p := &models.Promoter{Code: code, Name: name, Active: true, CreatedAt: l.clock.Now()}
	if err := l.store.CreatePromoter(ctx, p); err != nil {
		return nil, err
	}
	l.logger.Info("COMMISSION", fmt.Sprintf("Promoter %s created", code))
	return p, nil
}

func (l *Ledger) Deactivate(ctx context.Context, code string) error {
	code = models.NormalizePromoterCode(code)
	if err := l.store.SetPromoterActive(ctx, code, false); err != nil {
		return err
	}
	l.logger.LogSecurity("PROMOTER_DEACTIVATED", code)
	return nil
}

func (l *Ledger) ListPromoters(ctx context.Context) ([]models.Promoter, error) {
	return l.store.ListPromoters(ctx)
}

// Leaderboard returns stats for every promoter, most confirmed sales first.
func (l *Ledger) Leaderboard(ctx context.Context) ([]Stats, error) {
	promoters, err := l.store.ListPromoters(ctx)
	if err != nil {
		return nil, err
	}
	board := make([]Stats, 0, len(promoters))
	for _, p := range promoters {
		totals, err := l.store.SalesTotals(ctx, p.Code)
		if err != nil {
			return nil, err
		}
		board = append(board, Compute(p.Code, totals, l.settings))
	}
	sort.SliceStable(board, func(i, j int) bool {
		if board[i].ConfirmedSales != board[j].ConfirmedSales {
			return board[i].ConfirmedSales > board[j].ConfirmedSales
		}
		return board[i].PromoterCode < board[j].PromoterCode
	})
	return board, nil
}
