// services/notifier.go
package services

import (
	"context"
	"fmt"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ReleaseNotifier announces that a challenge was released. Best effort only:
// a failed announcement never un-releases a challenge.
type ReleaseNotifier interface {
	AnnounceRelease(ctx context.Context, campaign *models.Campaign, challenge *models.Challenge) error
}

// TelegramNotifier posts release announcements to a community chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (n *TelegramNotifier) AnnounceRelease(ctx context.Context, campaign *models.Campaign, challenge *models.Challenge) error {
	text := fmt.Sprintf("🚀 Challenge %d of %s is live: %s",
		challenge.Position, campaign.Title, challenge.Title)
	msg := tgbotapi.NewMessage(n.chatID, text)
	_, err := n.bot.Send(msg)
	return err
}

// NopNotifier is used when no announcement channel is configured.
type NopNotifier struct{}

func (NopNotifier) AnnounceRelease(ctx context.Context, campaign *models.Campaign, challenge *models.Challenge) error {
	return nil
}
