package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusExpired   PaymentStatus = "expired"
	// PaymentStatusOrphaned marks a captured payment whose tickets could not be finalized.
	PaymentStatusOrphaned PaymentStatus = "orphaned"
)

const (
	PaymentMethodStripe   = "stripe"
	PaymentMethodTransfer = "transfer"
	PaymentMethodCash     = "cash"
	PaymentMethodWhatsApp = "whatsapp"
)

func IsValidPaymentMethod(method string) bool {
	return method == PaymentMethodStripe || IsManualPaymentMethod(method)
}

func IsManualPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodTransfer, PaymentMethodCash, PaymentMethodWhatsApp:
		return true
	}
	return false
}

// Payment tracks a gateway checkout for a set of held tickets.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID                string        `bun:"id,pk" json:"id"`
	RaffleID          string        `bun:"raffle_id,notnull" json:"raffle_id"`
	HolderID          string        `bun:"holder_id,notnull" json:"holder_id"`
	TicketIDs         []string      `bun:"ticket_ids,type:jsonb" json:"ticket_ids"`
	Provider          string        `bun:"provider,notnull" json:"provider"`
	ProviderSessionID string        `bun:"provider_session_id,nullzero" json:"provider_session_id,omitempty"`
	Amount            float64       `bun:"amount,notnull" json:"amount"`
	Currency          string        `bun:"currency,notnull" json:"currency"`
	Status            PaymentStatus `bun:"status,notnull" json:"status"`
	CheckoutURL       string        `bun:"checkout_url,nullzero" json:"checkout_url,omitempty"`
	CreatedAt         time.Time     `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt         time.Time     `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}
