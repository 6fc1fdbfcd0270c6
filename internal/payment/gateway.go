package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"ms-raffle/internal/logger"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var ErrGatewayInitFailed = errors.New("failed to initialize payment gateway")

type CheckoutParams struct {
	PaymentID   string
	RaffleID    string
	HolderID    string
	Description string
	UnitAmount  float64
	Quantity    int
	Currency    string
	SuccessURL  string
	CancelURL   string
	ExpiresAt   time.Time
}

// CheckoutSession is the gateway-neutral view of a hosted checkout.
type CheckoutSession struct {
	ID          string
	URL         string
	Paid        bool
	Expired     bool
	AmountTotal int64
	Currency    string
	Metadata    map[string]string
}

type Gateway interface {
	CreateCheckout(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
	GetSession(ctx context.Context, id string) (*CheckoutSession, error)
}

// ToMinorUnits converts an amount to cents.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// StripeGateway creates Stripe Checkout Sessions.
type StripeGateway struct {
	client *client.API
	log    *logger.Logger
}

func NewStripeGateway(secretKey string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY is not set")
		return nil, ErrGatewayInitFailed
	}
	sc := client.New(secretKey, nil)
	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeGateway{client: sc, log: log}, nil
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.PaymentID),
		ExpiresAt:         stripe.Int64(p.ExpiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.Currency),
					UnitAmount: stripe.Int64(ToMinorUnits(p.UnitAmount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.Description),
					},
				},
				Quantity: stripe.Int64(int64(p.Quantity)),
			},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(p.PaymentID)
	params.AddMetadata("payment_id", p.PaymentID)
	params.AddMetadata("raffle_id", p.RaffleID)
	params.AddMetadata("holder_id", p.HolderID)

	s, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session for %s: %v", p.PaymentID, err))
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	g.log.Info("STRIPE", fmt.Sprintf("Created checkout session %s for payment %s", s.ID, p.PaymentID))
	return fromStripeSession(s), nil
}

func (g *StripeGateway) GetSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.client.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get checkout session %s: %w", id, err)
	}
	return fromStripeSession(s), nil
}

func fromStripeSession(s *stripe.CheckoutSession) *CheckoutSession {
	return &CheckoutSession{
		ID:          s.ID,
		URL:         s.URL,
		Paid:        s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Expired:     s.Status == stripe.CheckoutSessionStatusExpired,
		AmountTotal: s.AmountTotal,
		Currency:    string(s.Currency),
		Metadata:    s.Metadata,
	}
}
