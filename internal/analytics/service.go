package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"ms-raffle/internal/models"
	ticketdb "ms-raffle/internal/tickets/db"

	"github.com/uptrace/bun"
)

// Service builds the admin dashboard aggregates for a raffle.
type Service struct {
	db      *bun.DB
	tickets *ticketdb.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db: db, tickets: &ticketdb.DB{Bun: db}}
}

// RaffleSummary is the dashboard view of one raffle.
type RaffleSummary struct {
	RaffleID         string               `json:"raffle_id"`
	RaffleName       string               `json:"raffle_name"`
	Status           models.RaffleStatus  `json:"status"`
	Price            float64              `json:"price"`
	TotalTickets     int                  `json:"total_tickets"`
	Available        int                  `json:"available"`
	Reserved         int                  `json:"reserved"`
	Purchased        int                  `json:"purchased"`
	CollectedAmount  float64              `json:"collected_amount"`
	PendingAmount    float64              `json:"pending_amount"`
	OrphanedPayments int                  `json:"orphaned_payments"`
	DailySales       []DailySalesMetrics  `json:"daily_sales"`
	SalesByMethod    []MethodSalesMetrics `json:"sales_by_method"`
	SalesByPromoter  []PromoterSales      `json:"sales_by_promoter"`
}

// DailySalesMetrics contains metrics for a single UTC day
type DailySalesMetrics struct {
	Date        string  `json:"date"`
	Revenue     float64 `json:"revenue"`
	TicketsSold int     `json:"tickets_sold"`
}

type MethodSalesMetrics struct {
	Method      string  `json:"method"`
	TicketsSold int     `json:"tickets_sold"`
	Revenue     float64 `json:"revenue"`
}

type PromoterSales struct {
	Code        string `json:"code"`
	TicketsSold int    `json:"tickets_sold"`
}

type soldRow struct {
	PurchasedAt   *time.Time `bun:"purchased_at"`
	PaymentMethod *string    `bun:"payment_method"`
	PromoterCode  *string    `bun:"promoter_code"`
}

// GetRaffleSummary returns ticket counts, amounts and sales breakdowns.
// Amounts are ticket counts times the raffle's current price.
func (s *Service) GetRaffleSummary(ctx context.Context, raffleID string) (*RaffleSummary, error) {
	var raffle models.Raffle
	err := s.db.NewSelect().Model(&raffle).Where("id = ?", raffleID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrRaffleNotFound, raffleID)
	}
	if err != nil {
		return nil, fmt.Errorf("get raffle %s: %w", raffleID, err)
	}

	summary := &RaffleSummary{
		RaffleID:     raffle.ID,
		RaffleName:   raffle.Name,
		Status:       raffle.Status,
		Price:        raffle.Price,
		TotalTickets: raffle.TotalTickets,
	}

	counts, err := s.tickets.CountByStatus(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		switch c.Status {
		case models.TicketStatusAvailable:
			summary.Available = c.Count
		case models.TicketStatusReserved:
			summary.Reserved = c.Count
		case models.TicketStatusPurchased:
			summary.Purchased = c.Count
		}
	}
	summary.CollectedAmount = roundCents(float64(summary.Purchased) * raffle.Price)
	summary.PendingAmount = roundCents(float64(summary.Reserved) * raffle.Price)

	var sold []soldRow
	err = s.db.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("purchased_at", "payment_method", "promoter_code").
		Where("raffle_id = ?", raffleID).
		Where("status = ?", models.TicketStatusPurchased).
		Scan(ctx, &sold)
	if err != nil {
		return nil, fmt.Errorf("list sold tickets: %w", err)
	}
	summary.DailySales, summary.SalesByMethod, summary.SalesByPromoter = breakdown(sold, raffle.Price)

	summary.OrphanedPayments, err = s.db.NewSelect().
		Model((*models.Payment)(nil)).
		Where("raffle_id = ?", raffleID).
		Where("status = ?", models.PaymentStatusOrphaned).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count orphaned payments: %w", err)
	}

	return summary, nil
}

// Days are bucketed here rather than in SQL so the query stays portable
// between Postgres and SQLite.
func breakdown(sold []soldRow, price float64) ([]DailySalesMetrics, []MethodSalesMetrics, []PromoterSales) {
	daily := map[string]*DailySalesMetrics{}
	methods := map[string]*MethodSalesMetrics{}
	promoters := map[string]int{}

	for _, row := range sold {
		day := "unknown"
		if row.PurchasedAt != nil {
			day = row.PurchasedAt.UTC().Format("2006-01-02")
		}
		d, ok := daily[day]
		if !ok {
			d = &DailySalesMetrics{Date: day}
			daily[day] = d
		}
		d.TicketsSold++

		method := "unknown"
		if row.PaymentMethod != nil && *row.PaymentMethod != "" {
			method = *row.PaymentMethod
		}
		m, ok := methods[method]
		if !ok {
			m = &MethodSalesMetrics{Method: method}
			methods[method] = m
		}
		m.TicketsSold++

		if row.PromoterCode != nil && *row.PromoterCode != "" {
			promoters[*row.PromoterCode]++
		}
	}

	dailyOut := make([]DailySalesMetrics, 0, len(daily))
	for _, d := range daily {
		d.Revenue = roundCents(float64(d.TicketsSold) * price)
		dailyOut = append(dailyOut, *d)
	}
	sort.Slice(dailyOut, func(i, j int) bool { return dailyOut[i].Date < dailyOut[j].Date })

	methodOut := make([]MethodSalesMetrics, 0, len(methods))
	for _, m := range methods {
		m.Revenue = roundCents(float64(m.TicketsSold) * price)
		methodOut = append(methodOut, *m)
	}
	sort.Slice(methodOut, func(i, j int) bool {
		if methodOut[i].TicketsSold != methodOut[j].TicketsSold {
			return methodOut[i].TicketsSold > methodOut[j].TicketsSold
		}
		return methodOut[i].Method < methodOut[j].Method
	})

	promoterOut := make([]PromoterSales, 0, len(promoters))
	for code, n := range promoters {
		promoterOut = append(promoterOut, PromoterSales{Code: code, TicketsSold: n})
	}
	sort.Slice(promoterOut, func(i, j int) bool {
		if promoterOut[i].TicketsSold != promoterOut[j].TicketsSold {
			return promoterOut[i].TicketsSold > promoterOut[j].TicketsSold
		}
		return promoterOut[i].Code < promoterOut[j].Code
	})

	return dailyOut, methodOut, promoterOut
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
