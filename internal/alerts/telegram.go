package alerts

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

// Telegram caps bots around 20 messages/minute per chat; stay under it and
// drop rather than queue when the bucket is empty.
var telegramRate = rate.Every(3 * time.Second)

const telegramBurst = 5

// botSender is the slice of tgbotapi.BotAPI the alerter uses
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter pushes alerts to Telegram chats. Sends are rate-limited
// and optionally wrapped in a circuit breaker; alerts below the severity
// floor are skipped by the manager.
type TelegramAlerter struct {
	api     botSender
	chatIDs []int64
	floor   Severity
	limiter *rate.Limiter
	guard   *gobreaker.CircuitBreaker
	botName string
}

// NewTelegramAlerter connects the bot. guard may be nil; floor defaults to
// WARNING when empty.
func NewTelegramAlerter(botToken string, chatIDs []int64, floor Severity, guard *gobreaker.CircuitBreaker) (*TelegramAlerter, error) {
	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	if floor == "" {
		floor = SeverityWarning
	}

	log.Info().
		Str("bot_username", api.Self.UserName).
		Int("chat_count", len(chatIDs)).
		Str("severity_floor", string(floor)).
		Msg("Telegram alerter initialized")

	return &TelegramAlerter{
		api:     api,
		chatIDs: chatIDs,
		floor:   floor,
		limiter: rate.NewLimiter(telegramRate, telegramBurst),
		guard:   guard,
		botName: api.Self.UserName,
	}, nil
}

// MinSeverity reports the channel's severity floor
func (t *TelegramAlerter) MinSeverity() Severity {
	return t.floor
}

// Send delivers one alert to every configured chat
func (t *TelegramAlerter) Send(_ context.Context, alert Alert) error {
	if len(t.chatIDs) == 0 {
		return nil
	}
	if !t.limiter.Allow() {
		metrics.RecordAlertDropped()
		log.Warn().Str("alert_title", alert.Title).Msg("Telegram alert dropped by rate limit")
		return nil
	}

	message := formatAlert(alert)
	var lastErr error
	sent := 0
	for _, chatID := range t.chatIDs {
		msg := tgbotapi.NewMessage(chatID, message)
		msg.ParseMode = "Markdown"

		if err := t.deliver(msg); err != nil {
			log.Error().Err(err).Int64("chat_id", chatID).
				Str("alert_title", alert.Title).Msg("Failed to send Telegram alert")
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return fmt.Errorf("failed to send alert to any chat: %w", lastErr)
	}
	return nil
}

func (t *TelegramAlerter) deliver(msg tgbotapi.MessageConfig) error {
	if t.guard == nil {
		_, err := t.api.Send(msg)
		return err
	}
	_, err := t.guard.Execute(func() (interface{}, error) {
		return t.api.Send(msg)
	})
	return err
}

func formatAlert(alert Alert) string {
	var marker string
	switch alert.Severity {
	case SeverityCritical:
		marker = "🚨"
	case SeverityWarning:
		marker = "⚠️"
	default:
		marker = "ℹ️"
	}

	message := fmt.Sprintf("%s *%s*\n\n%s", marker, alert.Title, alert.Message)
	if len(alert.Metadata) > 0 {
		message += "\n\n*Details:*"
		for key, value := range alert.Metadata {
			message += fmt.Sprintf("\n• %s: `%v`", key, value)
		}
	}
	message += fmt.Sprintf("\n\n_Time: %s_", alert.Timestamp.Format("2006-01-02 15:04:05"))
	return message
}
