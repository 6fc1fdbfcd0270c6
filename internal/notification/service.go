// Package notification tells raffle administrators about confirmed sales.
// Sale events arrive at least once, so every notification is deduped on
// (ticket id, payment reference).
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"

	"github.com/go-redis/redis/v8"
)

const DefaultDedupeTTL = 7 * 24 * time.Hour

// Deduper claims a notification key once.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type RedisDeduper struct {
	Client *redis.Client
	TTL    time.Duration
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.Client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), d.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, key string) error {
	return d.Client.Del(ctx, key).Err()
}

func dedupeKey(ticketID, ref string) string {
	return fmt.Sprintf("sale_notified:%s:%s", ticketID, ref)
}

type Service struct {
	sender  Sender
	deduper Deduper
	logger  *logger.Logger
}

func NewService(sender Sender, deduper Deduper, log *logger.Logger) *Service {
	return &Service{sender: sender, deduper: deduper, logger: log}
}

// HandleSaleEvent sends one message for the tickets of evt not yet
// announced. A send failure releases the claims so the redelivery retries.
func (s *Service) HandleSaleEvent(ctx context.Context, evt models.SaleEvent) error {
	var claimed []string
	var fresh []string
	for i, id := range evt.TicketIDs {
		key := dedupeKey(id, evt.PaymentReference)
		ok, err := s.deduper.Claim(ctx, key)
		if err != nil {
			s.release(ctx, claimed)
			return err
		}
		if !ok {
			continue
		}
		claimed = append(claimed, key)
		if i < len(evt.Numbers) {
			fresh = append(fresh, evt.Numbers[i])
		}
	}
	if len(claimed) == 0 {
		s.logger.Debug("NOTIFY", fmt.Sprintf("Sale %s already announced", evt.PaymentReference))
		return nil
	}

	announced := evt
	announced.Numbers = fresh
	if err := s.sender.Send(ctx, FormatSaleMessage(announced)); err != nil {
		s.release(ctx, claimed)
		return err
	}
	s.logger.Info("NOTIFY", fmt.Sprintf("Announced sale %s (%d tickets)", evt.PaymentReference, len(claimed)))
	return nil
}

func (s *Service) release(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.deduper.Forget(ctx, key); err != nil {
			s.logger.Warn("NOTIFY", fmt.Sprintf("Failed to release %s: %v", key, err))
		}
	}
}

// FormatSaleMessage renders the administrator message for a sale.
func FormatSaleMessage(evt models.SaleEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Venta confirmada* %s\n", evt.RaffleName)
	fmt.Fprintf(&b, "Boletos: %s\n", strings.Join(evt.Numbers, ", "))
	if evt.HolderName != "" {
		fmt.Fprintf(&b, "Comprador: %s", evt.HolderName)
		if evt.HolderPhone != "" {
			fmt.Fprintf(&b, " (%s)", evt.HolderPhone)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Total: $%.2f via %s\n", evt.Amount, evt.PaymentMethod)
	if evt.PromoterCode != "" {
		fmt.Fprintf(&b, "Promotor: %s\n", evt.PromoterCode)
	}
	fmt.Fprintf(&b, "Ref: %s", evt.PaymentReference)
	return b.String()
}
