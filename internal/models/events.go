package models

import "time"

// SaleEvent is published once per finalize call, replays included.
// Consumers dedupe on (ticket id, payment reference).
type SaleEvent struct {
	RaffleID         string    `json:"raffle_id"`
	RaffleName       string    `json:"raffle_name"`
	TicketIDs        []string  `json:"ticket_ids"`
	Numbers          []string  `json:"numbers"`
	HolderID         string    `json:"holder_id"`
	HolderName       string    `json:"holder_name,omitempty"`
	HolderPhone      string    `json:"holder_phone,omitempty"`
	PromoterCode     string    `json:"promoter_code,omitempty"`
	PaymentMethod    string    `json:"payment_method"`
	PaymentReference string    `json:"payment_reference"`
	Amount           float64   `json:"amount"`
	Replay           bool      `json:"replay"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// TicketStatusEvent announces tickets that changed status.
type TicketStatusEvent struct {
	RaffleID   string       `json:"raffle_id"`
	TicketIDs  []string     `json:"ticket_ids"`
	Numbers    []string     `json:"numbers"`
	Status     TicketStatus `json:"status"`
	Reason     string       `json:"reason"`
	OccurredAt time.Time    `json:"occurred_at"`
}

const (
	ReasonReserved         = "reserved"
	ReasonExpired          = "expired"
	ReasonAdminRelease     = "admin_release"
	ReasonPurchaseOverride = "purchase_override"
	ReasonPurchased        = "purchased"
)

func NewTicketStatusEvent(raffleID string, refs []TicketRef, status TicketStatus, reason string, at time.Time) TicketStatusEvent {
	evt := TicketStatusEvent{
		RaffleID:   raffleID,
		TicketIDs:  make([]string, 0, len(refs)),
		Numbers:    make([]string, 0, len(refs)),
		Status:     status,
		Reason:     reason,
		OccurredAt: at,
	}
	for _, ref := range refs {
		evt.TicketIDs = append(evt.TicketIDs, ref.ID)
		evt.Numbers = append(evt.Numbers, ref.Number)
	}
	return evt
}
