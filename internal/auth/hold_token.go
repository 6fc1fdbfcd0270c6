package auth

import (
	"errors"
	"fmt"
	"time"

	"ms-raffle/internal/clock"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidHoldToken = errors.New("invalid hold token")

// HoldClaims identify a buyer's reservation so checkout can be started
// without an account.
type HoldClaims struct {
	RaffleID  string   `json:"rid"`
	TicketIDs []string `json:"tids"`
	jwt.RegisteredClaims
}

// HoldTokenIssuer signs HS256 tokens that expire with the hold.
type HoldTokenIssuer struct {
	secret []byte
	clock  clock.Clock
}

func NewHoldTokenIssuer(secret string, clk clock.Clock) *HoldTokenIssuer {
	return &HoldTokenIssuer{secret: []byte(secret), clock: clk}
}

func (i *HoldTokenIssuer) Issue(raffleID, holderID string, ticketIDs []string, expiresAt time.Time) (string, error) {
	now := i.clock.Now()
	claims := HoldClaims{
		RaffleID:  raffleID,
		TicketIDs: ticketIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   holderID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign hold token: %w", err)
	}
	return signed, nil
}

func (i *HoldTokenIssuer) Parse(raw string) (*HoldClaims, error) {
	var claims HoldClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHoldToken, err)
	}
	if claims.Subject == "" || claims.RaffleID == "" || len(claims.TicketIDs) == 0 {
		return nil, fmt.Errorf("%w: incomplete claims", ErrInvalidHoldToken)
	}
	return &claims, nil
}
