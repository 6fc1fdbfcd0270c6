package models

import (
	"time"

	"github.com/uptrace/bun"
)

type RaffleStatus string

const (
	RaffleStatusDraft     RaffleStatus = "draft"
	RaffleStatusActive    RaffleStatus = "active"
	RaffleStatusCompleted RaffleStatus = "completed"
)

type Raffle struct {
	bun.BaseModel `bun:"table:raffles"`

	ID           string       `bun:"id,pk" json:"id"`
	Slug         string       `bun:"slug,unique,notnull" json:"slug"`
	Name         string       `bun:"name,notnull" json:"name"`
	Description  string       `bun:"description" json:"description,omitempty"`
	Price        float64      `bun:"price,notnull" json:"price"`
	DrawDate     time.Time    `bun:"draw_date,notnull" json:"draw_date"`
	TotalTickets int          `bun:"total_tickets,notnull" json:"total_tickets"`
	Status       RaffleStatus `bun:"status,notnull" json:"status"`
	CreatedAt    time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time    `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

func (r *Raffle) IsActive() bool {
	return r.Status == RaffleStatusActive
}

// CanTransitionTo allows draft→active→completed only.
func (r *Raffle) CanTransitionTo(next RaffleStatus) bool {
	switch r.Status {
	case RaffleStatusDraft:
		return next == RaffleStatusActive
	case RaffleStatusActive:
		return next == RaffleStatusCompleted
	default:
		return false
	}
}
