package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Participant is a buyer, identified by phone number.
type Participant struct {
	bun.BaseModel `bun:"table:participants"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Phone     string    `bun:"phone,unique,notnull" json:"phone"`
	Email     string    `bun:"email" json:"email,omitempty"`
	Region    string    `bun:"region" json:"region,omitempty"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}
