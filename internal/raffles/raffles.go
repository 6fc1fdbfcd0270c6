package raffles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-raffle/internal/clock"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) Create(ctx context.Context, raffle *models.Raffle) error {
	_, err := d.Bun.NewInsert().Model(raffle).Exec(ctx)
	return err
}

func (d *DB) GetByID(ctx context.Context, id string) (*models.Raffle, error) {
	var raffle models.Raffle
	err := d.Bun.NewSelect().Model(&raffle).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrRaffleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get raffle %s: %w", id, err)
	}
	return &raffle, nil
}

func (d *DB) GetBySlug(ctx context.Context, s string) (*models.Raffle, error) {
	var raffle models.Raffle
	err := d.Bun.NewSelect().Model(&raffle).Where("slug = ?", s).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrRaffleNotFound, s)
	}
	if err != nil {
		return nil, fmt.Errorf("get raffle %s: %w", s, err)
	}
	return &raffle, nil
}

func (d *DB) SlugExists(ctx context.Context, s string) (bool, error) {
	return d.Bun.NewSelect().Model((*models.Raffle)(nil)).Where("slug = ?", s).Exists(ctx)
}

func (d *DB) List(ctx context.Context, status models.RaffleStatus) ([]models.Raffle, error) {
	var raffles []models.Raffle
	q := d.Bun.NewSelect().Model(&raffles).Order("draw_date ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list raffles: %w", err)
	}
	return raffles, nil
}

// UpdateStatus moves the raffle from one status to the next only if it is
// still in the expected one.
func (d *DB) UpdateStatus(ctx context.Context, id string, from, to models.RaffleStatus, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Raffle)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update raffle status: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

type Store interface {
	Create(ctx context.Context, raffle *models.Raffle) error
	GetByID(ctx context.Context, id string) (*models.Raffle, error)
	GetBySlug(ctx context.Context, slug string) (*models.Raffle, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	List(ctx context.Context, status models.RaffleStatus) ([]models.Raffle, error)
	UpdateStatus(ctx context.Context, id string, from, to models.RaffleStatus, at time.Time) (bool, error)
}

type Service struct {
	store  Store
	clock  clock.Clock
	logger *logger.Logger
}

func NewService(store Store, clk clock.Clock, log *logger.Logger) *Service {
	return &Service{store: store, clock: clk, logger: log}
}

type CreateRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	DrawDate    time.Time `json:"draw_date"`
}

// Create stores a draft raffle with a unique slug derived from its name.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Raffle, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrInvalidRaffle)
	}
	if req.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", models.ErrInvalidRaffle)
	}
	if req.DrawDate.IsZero() {
		return nil, fmt.Errorf("%w: draw_date is required", models.ErrInvalidRaffle)
	}

	raffleSlug, err := s.uniqueSlug(ctx, name)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	raffle := &models.Raffle{
		ID:          uuid.NewString(),
		Slug:        raffleSlug,
		Name:        name,
		Description: req.Description,
		Price:       req.Price,
		DrawDate:    req.DrawDate.UTC(),
		Status:      models.RaffleStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, raffle); err != nil {
		return nil, fmt.Errorf("create raffle: %w", err)
	}
	s.logger.LogDatabase("INSERT", "raffles", fmt.Sprintf("raffle %s (%s) created", raffle.ID, raffle.Slug))
	return raffle, nil
}

func (s *Service) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "raffle"
	}
	candidate := base
	for i := 2; ; i++ {
		exists, err := s.store.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *Service) GetByID(ctx context.Context, id string) (*models.Raffle, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) GetBySlug(ctx context.Context, raffleSlug string) (*models.Raffle, error) {
	return s.store.GetBySlug(ctx, raffleSlug)
}

func (s *Service) ListActive(ctx context.Context) ([]models.Raffle, error) {
	return s.store.List(ctx, models.RaffleStatusActive)
}

// SetStatus applies a draft→active→completed transition.
func (s *Service) SetStatus(ctx context.Context, id string, next models.RaffleStatus) (*models.Raffle, error) {
	raffle, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !raffle.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusTransition, raffle.Status, next)
	}
	ok, err := s.store.UpdateStatus(ctx, id, raffle.Status, next, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: raffle %s changed concurrently", models.ErrInvalidStatusTransition, id)
	}
	s.logger.Info("RAFFLE", fmt.Sprintf("Raffle %s moved %s -> %s", id, raffle.Status, next))
	return s.store.GetByID(ctx, id)
}
