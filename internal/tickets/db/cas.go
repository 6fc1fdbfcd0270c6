package db

import (
	"context"
	"fmt"
	"time"

	"ms-raffle/internal/models"

	"github.com/uptrace/bun"
)

// CAS describes a conditional status transition. Only rows whose id is in
// IDs and whose current status equals Expected are touched, further narrowed
// by the optional guards.
type CAS struct {
	IDs      []string
	Expected models.TicketStatus
	Next     models.TicketStatus

	// Guards
	RaffleID       string
	HolderID       string
	ReservedBefore *time.Time

	Fields TicketFields
}

// TicketFields are written alongside the new status.
type TicketFields struct {
	HolderID         *string
	PromoterCode     *string
	PaymentReference *string
	PaymentMethod    *string
	At               time.Time
}

// CompareAndSwapStatus applies cas in a single UPDATE and returns the number
// of rows that actually transitioned. Callers compare it with len(cas.IDs).
// Moving to available always clears holder, hold and purchase columns.
func (d *DB) CompareAndSwapStatus(ctx context.Context, idb bun.IDB, cas CAS) (int64, error) {
	if len(cas.IDs) == 0 {
		return 0, nil
	}

	q := d.conn(idb).NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", cas.Next).
		Set("updated_at = ?", cas.Fields.At).
		Where("id IN (?)", bun.In(cas.IDs)).
		Where("status = ?", cas.Expected)

	switch cas.Next {
	case models.TicketStatusReserved:
		q = q.Set("holder_id = ?", cas.Fields.HolderID).
			Set("reserved_at = ?", cas.Fields.At).
			Set("promoter_code = ?", cas.Fields.PromoterCode).
			Set("purchased_at = NULL").
			Set("payment_reference = NULL").
			Set("payment_method = NULL")
	case models.TicketStatusAvailable:
		q = q.Set("holder_id = NULL").
			Set("reserved_at = NULL").
			Set("promoter_code = NULL").
			Set("purchased_at = NULL").
			Set("payment_reference = NULL").
			Set("payment_method = NULL")
	case models.TicketStatusPurchased:
		q = q.Set("purchased_at = ?", cas.Fields.At).
			Set("payment_reference = ?", cas.Fields.PaymentReference).
			Set("payment_method = ?", cas.Fields.PaymentMethod)
	default:
		return 0, fmt.Errorf("unknown ticket status %q", cas.Next)
	}

	if cas.RaffleID != "" {
		q = q.Where("raffle_id = ?", cas.RaffleID)
	}
	if cas.HolderID != "" {
		q = q.Where("holder_id = ?", cas.HolderID)
	}
	if cas.ReservedBefore != nil {
		q = q.Where("reserved_at < ?", *cas.ReservedBefore)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("compare and swap %s->%s: %w", cas.Expected, cas.Next, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
