package commission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-raffle/internal/models"

	"github.com/uptrace/bun"
)

// SalesTotal counts a promoter's tickets in one status at one raffle price.
type SalesTotal struct {
	Status models.TicketStatus `bun:"status"`
	Price  float64             `bun:"price"`
	Count  int                 `bun:"count"`
}

type DB struct {
	Bun *bun.DB
}

func (d *DB) SalesTotals(ctx context.Context, code string) ([]SalesTotal, error) {
	var rows []SalesTotal
	err := d.Bun.NewSelect().
		TableExpr("tickets AS t").
		Join("JOIN raffles AS r ON r.id = t.raffle_id").
		ColumnExpr("t.status AS status").
		ColumnExpr("r.price AS price").
		ColumnExpr("COUNT(*) AS count").
		Where("t.promoter_code = ?", code).
		Where("t.status IN (?)", bun.In([]models.TicketStatus{models.TicketStatusReserved, models.TicketStatusPurchased})).
		GroupExpr("t.status, r.price").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("promoter sales totals: %w", err)
	}
	return rows, nil
}

func (d *DB) GetPromoter(ctx context.Context, code string) (*models.Promoter, error) {
	var p models.Promoter
	err := d.Bun.NewSelect().Model(&p).Where("code = ?", code).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrPromoterNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("get promoter %s: %w", code, err)
	}
	return &p, nil
}

func (d *DB) CreatePromoter(ctx context.Context, p *models.Promoter) error {
	_, err := d.Bun.NewInsert().Model(p).Exec(ctx)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", models.ErrPromoterExists, p.Code)
	}
	return err
}

func (d *DB) SetPromoterActive(ctx context.Context, code string, active bool) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Promoter)(nil)).
		Set("active = ?", active).
		Where("code = ?", code).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update promoter %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", models.ErrPromoterNotFound, code)
	}
	return nil
}

func (d *DB) ListPromoters(ctx context.Context) ([]models.Promoter, error) {
	var promoters []models.Promoter
	if err := d.Bun.NewSelect().Model(&promoters).Order("code ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list promoters: %w", err)
	}
	return promoters, nil
}

// AttachPromoter sets the code on a ticket that is still reserved.
func (d *DB) AttachPromoter(ctx context.Context, ticketID, code string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("promoter_code = ?", code).
		Set("updated_at = ?", at).
		Where("id = ?", ticketID).
		Where("status = ?", models.TicketStatusReserved).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("attach promoter: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
