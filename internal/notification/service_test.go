package notification_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/notification"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, text string) error {
	return m.Called(text).Error(0)
}

func setupDeduper(t *testing.T) (*miniredis.Miniredis, *notification.RedisDeduper) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, &notification.RedisDeduper{Client: client, TTL: notification.DefaultDedupeTTL}
}

func sampleEvent() models.SaleEvent {
	return models.SaleEvent{
		RaffleID:         "r1",
		RaffleName:       "Rifa Camioneta",
		TicketIDs:        []string{"t1", "t2"},
		Numbers:          []string{"0001", "0002"},
		HolderName:       "Ana",
		HolderPhone:      "5512345678",
		PromoterCode:     "ANA",
		PaymentMethod:    models.PaymentMethodTransfer,
		PaymentReference: "pay_1",
		Amount:           300,
	}
}

func TestHandleSaleEventDedupesReplays(t *testing.T) {
	mr, deduper := setupDeduper(t)
	sender := new(MockSender)
	sender.On("Send", mock.Anything).Return(nil).Once()
	svc := notification.NewService(sender, deduper, logger.NewWithWriter(io.Discard))

	evt := sampleEvent()
	require.NoError(t, svc.HandleSaleEvent(context.Background(), evt))
	evt.Replay = true
	require.NoError(t, svc.HandleSaleEvent(context.Background(), evt))

	sender.AssertNumberOfCalls(t, "Send", 1)
	assert.True(t, mr.Exists("sale_notified:t1:pay_1"))
	ttl := mr.TTL("sale_notified:t2:pay_1")
	assert.InDelta(t, notification.DefaultDedupeTTL.Seconds(), ttl.Seconds(), 1)
}

func TestHandleSaleEventRetriesAfterSendFailure(t *testing.T) {
	mr, deduper := setupDeduper(t)
	sender := new(MockSender)
	sender.On("Send", mock.Anything).Return(errors.New("telegram 502")).Once()
	sender.On("Send", mock.Anything).Return(nil).Once()
	svc := notification.NewService(sender, deduper, logger.NewWithWriter(io.Discard))

	err := svc.HandleSaleEvent(context.Background(), sampleEvent())
	assert.Error(t, err)
	assert.False(t, mr.Exists("sale_notified:t1:pay_1"), "claims are released on failure")

	require.NoError(t, svc.HandleSaleEvent(context.Background(), sampleEvent()))
	sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestHandleSaleEventOnlyAnnouncesNewTickets(t *testing.T) {
	_, deduper := setupDeduper(t)
	ok, err := deduper.Claim(context.Background(), "sale_notified:t1:pay_1")
	require.NoError(t, err)
	require.True(t, ok)

	sender := new(MockSender)
	sender.On("Send", mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "0002") && !strings.Contains(text, "0001")
	})).Return(nil)
	svc := notification.NewService(sender, deduper, logger.NewWithWriter(io.Discard))

	require.NoError(t, svc.HandleSaleEvent(context.Background(), sampleEvent()))
	sender.AssertExpectations(t)
}

func TestFormatSaleMessage(t *testing.T) {
	text := notification.FormatSaleMessage(sampleEvent())

	assert.Contains(t, text, "Rifa Camioneta")
	assert.Contains(t, text, "0001, 0002")
	assert.Contains(t, text, "Ana (5512345678)")
	assert.Contains(t, text, "$300.00 via transfer")
	assert.Contains(t, text, "Promotor: ANA")
	assert.Contains(t, text, "Ref: pay_1")
}

type fakeBot struct {
	sent []tgbotapi.Chattable
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramSender(t *testing.T) {
	bot := &fakeBot{}
	sender := &notification.TelegramSender{Bot: bot, ChatID: 42}

	require.NoError(t, sender.Send(context.Background(), "hola"))
	require.Len(t, bot.sent, 1)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, "hola", msg.Text)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sender.Send(ctx, "late"), context.Canceled)

	_, err := notification.NewTelegramSender("", 42)
	assert.Error(t, err)
}
