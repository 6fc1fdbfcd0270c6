package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-raffle/internal/models"

	"github.com/uptrace/bun"
)

type Store interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	AttachSession(ctx context.Context, id, sessionID, url string, at time.Time) error
	TransitionStatus(ctx context.Context, id string, from []models.PaymentStatus, to models.PaymentStatus, at time.Time) (bool, error)
}

type DB struct {
	Bun *bun.DB
}

func (d *DB) Create(ctx context.Context, p *models.Payment) error {
	if _, err := d.Bun.NewInsert().Model(p).Exec(ctx); err != nil {
		return fmt.Errorf("insert payment %s: %w", p.ID, err)
	}
	return nil
}

func (d *DB) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	return d.getBy(ctx, "id = ?", id)
}

func (d *DB) GetBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	return d.getBy(ctx, "provider_session_id = ?", sessionID)
}

func (d *DB) getBy(ctx context.Context, where, arg string) (*models.Payment, error) {
	var p models.Payment
	err := d.Bun.NewSelect().Model(&p).Where(where, arg).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

func (d *DB) AttachSession(ctx context.Context, id, sessionID, url string, at time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("provider_session_id = ?", sessionID).
		Set("checkout_url = ?", url).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("attach session to payment %s: %w", id, err)
	}
	return nil
}

// TransitionStatus moves the payment to `to` only from one of `from`.
func (d *DB) TransitionStatus(ctx context.Context, id string, from []models.PaymentStatus, to models.PaymentStatus, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update payment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
