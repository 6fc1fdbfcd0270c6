package qr

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"ms-raffle/internal/clock"
	"ms-raffle/internal/models"

	"github.com/skip2/go-qrcode"
)

const DefaultSize = 256

var (
	ErrInvalidPayload = errors.New("invalid ticket code")
	ErrNotPurchased   = errors.New("ticket is not purchased under this payment")
)

// Claim is the content sealed into a purchased ticket's code.
type Claim struct {
	TicketID         string    `json:"tid"`
	RaffleID         string    `json:"rid"`
	Number           string    `json:"n"`
	HolderID         string    `json:"h"`
	PaymentReference string    `json:"p"`
	IssuedAt         time.Time `json:"iat"`
}

// Generator seals claims with AES-GCM and renders them as PNG QR codes.
type Generator struct {
	aead cipher.AEAD
	size int
}

func NewGenerator(secret string, size int) (*Generator, error) {
	if secret == "" {
		return nil, errors.New("qr secret is empty")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultSize
	}
	return &Generator{aead: aead, size: size}, nil
}

func (g *Generator) Seal(c Claim) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := g.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (g *Generator) Open(payload string) (*Claim, error) {
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(raw) < g.aead.NonceSize() {
		return nil, ErrInvalidPayload
	}
	nonce, ciphertext := raw[:g.aead.NonceSize()], raw[g.aead.NonceSize():]
	data, err := g.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	var c Claim
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, ErrInvalidPayload
	}
	return &c, nil
}

// Encode returns the PNG QR code of the sealed claim.
func (g *Generator) Encode(c Claim) ([]byte, error) {
	sealed, err := g.Seal(c)
	if err != nil {
		return nil, fmt.Errorf("seal ticket claim: %w", err)
	}
	return qrcode.Encode(sealed, qrcode.Medium, g.size)
}

type PaymentReader interface {
	GetByID(ctx context.Context, id string) (*models.Payment, error)
}

type TicketReader interface {
	GetByID(ctx context.Context, id string) (*models.Ticket, error)
}

// Service issues codes for tickets a buyer paid for and checks them at the
// draw.
type Service struct {
	generator *Generator
	payments  PaymentReader
	tickets   TicketReader
	clock     clock.Clock
}

func NewService(g *Generator, payments PaymentReader, tickets TicketReader, clk clock.Clock) *Service {
	return &Service{generator: g, payments: payments, tickets: tickets, clock: clk}
}

// TicketCode renders the code of ticketID, which must have been sold under
// paymentID.
func (s *Service) TicketCode(ctx context.Context, paymentID, ticketID string) ([]byte, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusSucceeded || !contains(p.TicketIDs, ticketID) {
		return nil, ErrNotPurchased
	}
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !soldUnder(t, p.ID) {
		return nil, ErrNotPurchased
	}
	return s.generator.Encode(Claim{
		TicketID:         t.ID,
		RaffleID:         t.RaffleID,
		Number:           t.Number,
		HolderID:         *t.HolderID,
		PaymentReference: p.ID,
		IssuedAt:         s.clock.Now(),
	})
}

// Verification reports whether a scanned code still matches the ticket.
type Verification struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Claim  *Claim `json:"claim"`
}

func (s *Service) Verify(ctx context.Context, payload string) (*Verification, error) {
	c, err := s.generator.Open(payload)
	if err != nil {
		return nil, err
	}
	t, err := s.tickets.GetByID(ctx, c.TicketID)
	if errors.Is(err, models.ErrTicketNotFound) {
		return &Verification{Reason: "ticket no longer exists", Claim: c}, nil
	}
	if err != nil {
		return nil, err
	}
	switch {
	case t.Status != models.TicketStatusPurchased:
		return &Verification{Reason: "ticket was released", Claim: c}, nil
	case !soldUnder(t, c.PaymentReference) || *t.HolderID != c.HolderID:
		return &Verification{Reason: "ticket was sold again", Claim: c}, nil
	}
	return &Verification{Valid: true, Claim: c}, nil
}

func soldUnder(t *models.Ticket, ref string) bool {
	return t.Status == models.TicketStatusPurchased &&
		t.PaymentReference != nil && *t.PaymentReference == ref &&
		t.HolderID != nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
