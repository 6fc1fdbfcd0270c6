package admin_api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-raffle/internal/analytics"
	"ms-raffle/internal/auth"
	"ms-raffle/internal/clock"
	"ms-raffle/internal/commission"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/raffles"
	"ms-raffle/internal/reservation"
	"ms-raffle/internal/sale"
	"ms-raffle/internal/tickets/qr"
	tickets "ms-raffle/internal/tickets/service"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const adminRole = "raffle-admin"

type stubVerifier map[string]auth.Principal

func (s stubVerifier) Verify(_ context.Context, raw string) (auth.Principal, error) {
	p, ok := s[raw]
	if !ok {
		return auth.Principal{}, errors.New("unknown token")
	}
	return p, nil
}

type MockRaffles struct{ mock.Mock }

func (m *MockRaffles) Create(ctx context.Context, req raffles.CreateRequest) (*models.Raffle, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*models.Raffle)
	return r, args.Error(1)
}

func (m *MockRaffles) SetStatus(ctx context.Context, id string, next models.RaffleStatus) (*models.Raffle, error) {
	args := m.Called(ctx, id, next)
	r, _ := args.Get(0).(*models.Raffle)
	return r, args.Error(1)
}

type MockGenerator struct{ mock.Mock }

func (m *MockGenerator) GenerateTickets(ctx context.Context, raffleID string, total int) (*tickets.GenerateResult, error) {
	args := m.Called(ctx, raffleID, total)
	r, _ := args.Get(0).(*tickets.GenerateResult)
	return r, args.Error(1)
}

type MockSummaries struct{ mock.Mock }

func (m *MockSummaries) GetRaffleSummary(ctx context.Context, raffleID string) (*analytics.RaffleSummary, error) {
	args := m.Called(ctx, raffleID)
	s, _ := args.Get(0).(*analytics.RaffleSummary)
	return s, args.Error(1)
}

type MockReleaser struct{ mock.Mock }

func (m *MockReleaser) Release(ctx context.Context, ids []string, actor string) (*reservation.ReleaseResult, error) {
	args := m.Called(ctx, ids, actor)
	r, _ := args.Get(0).(*reservation.ReleaseResult)
	return r, args.Error(1)
}

func (m *MockReleaser) ReleasePurchased(ctx context.Context, ids []string, actor, reason string) (int, error) {
	args := m.Called(ctx, ids, actor, reason)
	return args.Int(0), args.Error(1)
}

func (m *MockReleaser) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

type MockSales struct{ mock.Mock }

func (m *MockSales) Finalize(ctx context.Context, req sale.FinalizeRequest) (*sale.FinalizeResult, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*sale.FinalizeResult)
	return r, args.Error(1)
}

type MockPromoters struct{ mock.Mock }

func (m *MockPromoters) CreatePromoter(ctx context.Context, req commission.CreatePromoterRequest) (*models.Promoter, error) {
	args := m.Called(ctx, req)
	p, _ := args.Get(0).(*models.Promoter)
	return p, args.Error(1)
}

func (m *MockPromoters) Deactivate(ctx context.Context, code string) error {
	return m.Called(ctx, code).Error(0)
}

func (m *MockPromoters) Leaderboard(ctx context.Context) ([]commission.Stats, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).([]commission.Stats)
	return s, args.Error(1)
}

func (m *MockPromoters) StatsFor(ctx context.Context, code string) (*commission.Stats, error) {
	args := m.Called(ctx, code)
	s, _ := args.Get(0).(*commission.Stats)
	return s, args.Error(1)
}

func (m *MockPromoters) RegisterSale(ctx context.Context, ticketID, code string) commission.RegisterResult {
	return m.Called(ctx, ticketID, code).Get(0).(commission.RegisterResult)
}

type MockCodes struct{ mock.Mock }

func (m *MockCodes) Verify(ctx context.Context, payload string) (*qr.Verification, error) {
	args := m.Called(ctx, payload)
	v, _ := args.Get(0).(*qr.Verification)
	return v, args.Error(1)
}

type adminFixture struct {
	router    chi.Router
	raffles   *MockRaffles
	generator *MockGenerator
	summaries *MockSummaries
	releaser  *MockReleaser
	sales     *MockSales
	promoters *MockPromoters
	codes     *MockCodes
	clock     *clock.Fake
}

func setup(t *testing.T) *adminFixture {
	log := logger.NewWithWriter(io.Discard)
	f := &adminFixture{
		raffles:   &MockRaffles{},
		generator: &MockGenerator{},
		summaries: &MockSummaries{},
		releaser:  &MockReleaser{},
		sales:     &MockSales{},
		promoters: &MockPromoters{},
		codes:     &MockCodes{},
		clock:     clock.NewFake(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)),
	}
	h := &Handler{
		Raffles:   f.raffles,
		Generator: f.generator,
		Summaries: f.summaries,
		Tickets:   f.releaser,
		Sales:     f.sales,
		Promoters: f.promoters,
		Codes:     f.codes,
		Clock:     f.clock,
		Logger:    log,
	}
	verifier := stubVerifier{
		"admin-token":  {Subject: "u-1", Email: "ops@rifas.test", Roles: []string{adminRole}},
		"seller-token": {Subject: "u-2", Roles: []string{"seller"}},
	}
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, log))
		r.Use(auth.RequireRole(adminRole, log))
		h.RegisterRoutes(r)
	})
	f.router = r
	return f
}

func (f *adminFixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutesRequireRole(t *testing.T) {
	f := setup(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/admin/promoters", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/admin/promoters", "forged", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/admin/promoters", "seller-token", "").Code)
	f.promoters.AssertNotCalled(t, "Leaderboard", mock.Anything)
}

func TestReleasePurchasedRecordsActor(t *testing.T) {
	f := setup(t)
	f.releaser.On("ReleasePurchased", mock.Anything, []string{"t1", "t2"}, "ops@rifas.test", "chargeback").Return(2, nil)
	f.releaser.On("ReleasePurchased", mock.Anything, []string{"t1"}, "ops@rifas.test", "").Return(0, models.ErrReasonRequired)

	rec := f.do(http.MethodPost, "/api/admin/tickets/release-purchased", "admin-token", `{"ticket_ids":["t1","t2"],"reason":"chargeback"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"released":2`)

	rec = f.do(http.MethodPost, "/api/admin/tickets/release-purchased", "admin-token", `{"ticket_ids":["t1"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.releaser.AssertExpectations(t)
}

func TestReleaseAndSweep(t *testing.T) {
	f := setup(t)
	f.releaser.On("Release", mock.Anything, []string{"t1"}, "ops@rifas.test").
		Return(&reservation.ReleaseResult{Released: 0, SkippedPurchased: []string{"0001"}}, nil)
	f.releaser.On("ReleaseExpired", mock.Anything, f.clock.Now()).Return(4, nil)

	rec := f.do(http.MethodPost, "/api/admin/tickets/release", "admin-token", `{"ticket_ids":["t1"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"skipped_purchased":["0001"]`)

	rec = f.do(http.MethodPost, "/api/admin/tickets/release-expired", "admin-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"released":4`)
}

func TestConfirmSaleManualChannelOnly(t *testing.T) {
	f := setup(t)
	f.sales.On("Finalize", mock.Anything, sale.FinalizeRequest{TicketIDs: []string{"t1"}, PaymentReference: "SPEI-88", PaymentMethod: "transfer"}).
		Return(&sale.FinalizeResult{Tickets: []models.Ticket{{ID: "t1", Number: "0001", Status: models.TicketStatusPurchased}}}, nil)
	f.sales.On("Finalize", mock.Anything, sale.FinalizeRequest{TicketIDs: []string{"t9"}, PaymentReference: "SPEI-89", PaymentMethod: "cash"}).
		Return(nil, &models.NotReservedError{Tickets: []models.TicketRef{{ID: "t9", Number: "0009"}}})

	rec := f.do(http.MethodPost, "/api/admin/sales/confirm", "admin-token", `{"ticket_ids":["t1"],"payment_reference":"SPEI-88","payment_method":"Transfer"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/admin/sales/confirm", "admin-token", `{"ticket_ids":["t9"],"payment_reference":"SPEI-89","payment_method":"cash"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "0009")

	rec = f.do(http.MethodPost, "/api/admin/sales/confirm", "admin-token", `{"ticket_ids":["t1"],"payment_reference":"x","payment_method":"stripe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.sales.AssertNumberOfCalls(t, "Finalize", 2)
}

func TestGenerateTickets(t *testing.T) {
	f := setup(t)
	f.generator.On("GenerateTickets", mock.Anything, "r-1", 1000).
		Return(&tickets.GenerateResult{RaffleID: "r-1", Created: 1000, First: "0000", Last: "0999"}, nil)
	f.generator.On("GenerateTickets", mock.Anything, "r-1", 0).Return(nil, models.ErrInvalidTicketCount)

	rec := f.do(http.MethodPost, "/api/admin/raffles/r-1/tickets/generate", "admin-token", `{"total":1000}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"last":"0999"`)

	rec = f.do(http.MethodPost, "/api/admin/raffles/r-1/tickets/generate", "admin-token", `{"total":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/admin/raffles/r-1/tickets/generate", "admin-token", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRaffleLifecycle(t *testing.T) {
	f := setup(t)
	f.raffles.On("Create", mock.Anything, mock.MatchedBy(func(req raffles.CreateRequest) bool { return req.Name == "Gran Rifa" })).
		Return(&models.Raffle{ID: "r-1", Slug: "gran-rifa", Status: models.RaffleStatusDraft}, nil)
	f.raffles.On("SetStatus", mock.Anything, "r-1", models.RaffleStatusCompleted).Return(nil, models.ErrInvalidStatusTransition)

	rec := f.do(http.MethodPost, "/api/admin/raffles", "admin-token", `{"name":"Gran Rifa","price":150,"draw_date":"2026-12-24T20:00:00Z"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "gran-rifa")

	rec = f.do(http.MethodPost, "/api/admin/raffles/r-1/status", "admin-token", `{"status":"completed"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRaffleSummary(t *testing.T) {
	f := setup(t)
	f.summaries.On("GetRaffleSummary", mock.Anything, "r-1").Return(&analytics.RaffleSummary{RaffleID: "r-1", Purchased: 3, CollectedAmount: 450}, nil)
	f.summaries.On("GetRaffleSummary", mock.Anything, "nope").Return(nil, models.ErrRaffleNotFound)

	rec := f.do(http.MethodGet, "/api/admin/raffles/r-1/summary", "admin-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"collected_amount":450`)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/admin/raffles/nope/summary", "admin-token", "").Code)
}

func TestPromoterRoutes(t *testing.T) {
	f := setup(t)
	f.promoters.On("CreatePromoter", mock.Anything, commission.CreatePromoterRequest{Code: "ana", Name: "Ana"}).
		Return(&models.Promoter{Code: "ANA", Name: "Ana", Active: true}, nil)
	f.promoters.On("Leaderboard", mock.Anything).Return([]commission.Stats{{PromoterCode: "ANA", ConfirmedSales: 12}}, nil)
	f.promoters.On("StatsFor", mock.Anything, "ghost").Return(nil, models.ErrPromoterNotFound)
	f.promoters.On("Deactivate", mock.Anything, "ANA").Return(nil)
	f.promoters.On("RegisterSale", mock.Anything, "t1", "OLD").Return(commission.RegisterResult{Attached: false, Reason: "promoter is inactive"})

	assert.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/admin/promoters", "admin-token", `{"code":"ana","name":"Ana"}`).Code)

	rec := f.do(http.MethodGet, "/api/admin/promoters", "admin-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ANA")

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/admin/promoters/ghost/stats", "admin-token", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/admin/promoters/ANA/deactivate", "admin-token", "").Code)

	rec = f.do(http.MethodPost, "/api/admin/promoters/OLD/sales", "admin-token", `{"ticket_id":"t1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"attached":false`)
	f.promoters.AssertExpectations(t)
}

func TestVerifyCode(t *testing.T) {
	f := setup(t)
	f.codes.On("Verify", mock.Anything, "good").
		Return(&qr.Verification{Valid: true, Claim: &qr.Claim{TicketID: "t1", Number: "0001"}}, nil)
	f.codes.On("Verify", mock.Anything, "garbage").Return(nil, qr.ErrInvalidPayload)

	rec := f.do(http.MethodPost, "/api/admin/tickets/verify-code", "admin-token", `{"code":" good "}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)

	rec = f.do(http.MethodPost, "/api/admin/tickets/verify-code", "admin-token", `{"code":"garbage"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.codes.AssertExpectations(t)
}
