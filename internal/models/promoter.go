package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type Promoter struct {
	bun.BaseModel `bun:"table:promoters"`

	Code      string    `bun:"code,pk" json:"code"`
	Name      string    `bun:"name,notnull" json:"name"`
	Active    bool      `bun:"active,notnull" json:"active"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// NormalizePromoterCode is the canonical stored form of a promoter code.
func NormalizePromoterCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
