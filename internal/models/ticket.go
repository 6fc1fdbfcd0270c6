package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketStatusAvailable TicketStatus = "available"
	TicketStatusReserved  TicketStatus = "reserved"
	TicketStatusPurchased TicketStatus = "purchased"
)

// Ticket is one numbered slot of a raffle. Status transitions only happen
// through conditional updates on status.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID               string       `bun:"id,pk" json:"id"`
	RaffleID         string       `bun:"raffle_id,notnull" json:"raffle_id"`
	Number           string       `bun:"number,notnull" json:"number"`
	Status           TicketStatus `bun:"status,notnull" json:"status"`
	HolderID         *string      `bun:"holder_id" json:"holder_id,omitempty"`
	ReservedAt       *time.Time   `bun:"reserved_at" json:"reserved_at,omitempty"`
	PurchasedAt      *time.Time   `bun:"purchased_at" json:"purchased_at,omitempty"`
	PromoterCode     *string      `bun:"promoter_code" json:"promoter_code,omitempty"`
	PaymentReference *string      `bun:"payment_reference" json:"-"`
	PaymentMethod    *string      `bun:"payment_method" json:"payment_method,omitempty"`
	CreatedAt        time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt        time.Time    `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// HoldExpiresAt returns when a reserved ticket becomes eligible for the sweep.
func (t *Ticket) HoldExpiresAt(hold time.Duration) time.Time {
	if t.ReservedAt == nil {
		return time.Time{}
	}
	return t.ReservedAt.Add(hold)
}

func (t *Ticket) IsHeldBy(holderID string) bool {
	return t.Status == TicketStatusReserved && t.HolderID != nil && *t.HolderID == holderID
}

func (t *Ticket) Ref() TicketRef {
	return TicketRef{ID: t.ID, Number: t.Number}
}

// TicketRef names a ticket for error messages and events.
type TicketRef struct {
	ID     string `json:"id"`
	Number string `json:"number"`
}

// TicketAudit records an administrative override on a ticket.
type TicketAudit struct {
	bun.BaseModel `bun:"table:ticket_audits"`

	ID               string       `bun:"id,pk" json:"id"`
	TicketID         string       `bun:"ticket_id,notnull" json:"ticket_id"`
	RaffleID         string       `bun:"raffle_id,notnull" json:"raffle_id"`
	Action           string       `bun:"action,notnull" json:"action"`
	Actor            string       `bun:"actor,notnull" json:"actor"`
	Reason           string       `bun:"reason,notnull" json:"reason"`
	PreviousStatus   TicketStatus `bun:"previous_status,notnull" json:"previous_status"`
	PaymentReference *string      `bun:"payment_reference" json:"payment_reference,omitempty"`
	CreatedAt        time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

const AuditActionReleasePurchased = "release_purchased"
