// Package participants stores raffle buyers, keyed by phone number.
package participants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"ms-raffle/internal/clock"
	"ms-raffle/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// NormalizePhone keeps only digits and rejects numbers outside E.164 length.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	phone := b.String()
	if len(phone) < minPhoneDigits || len(phone) > maxPhoneDigits {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidPhone, raw)
	}
	return phone, nil
}

type UpsertRequest struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	Region string `json:"region"`
}

type Store struct {
	Bun   *bun.DB
	Clock clock.Clock
}

// UpsertByPhone creates the participant or refreshes name, email and region
// of the one already registered with that phone.
func (s *Store) UpsertByPhone(ctx context.Context, req UpsertRequest) (*models.Participant, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, models.ErrInvalidParticipant
	}

	now := s.Clock.Now()
	p := &models.Participant{
		ID:        uuid.NewString(),
		Name:      name,
		Phone:     phone,
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Region:    strings.TrimSpace(req.Region),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.Bun.NewInsert().
		Model(p).
		On("CONFLICT (phone) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("email = EXCLUDED.email").
		Set("region = EXCLUDED.region").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("upsert participant: %w", err)
	}
	return s.GetByPhone(ctx, phone)
}

func (s *Store) GetByPhone(ctx context.Context, phone string) (*models.Participant, error) {
	var p models.Participant
	err := s.Bun.NewSelect().Model(&p).Where("phone = ?", phone).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant with phone %s not found", phone)
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return &p, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.Participant, error) {
	var p models.Participant
	err := s.Bun.NewSelect().Model(&p).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %s: %w", id, err)
	}
	return &p, nil
}
