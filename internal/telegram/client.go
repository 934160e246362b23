// Package telegram delivers messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/noahxzhu/timetable-notify/internal/format"
)

// ErrDelivery wraps a failed send to one chat.
var ErrDelivery = errors.New("delivery failed")

// PinCallback is the callback data of the pin button under schedules.
const PinCallback = "pin_schedule"

// API is the subset of *tgbotapi.BotAPI the service uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Client struct {
	API     API
	BotID   int64
	BotName string
}

// NewClient connects to the Bot API with token.
func NewClient(token string) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return &Client{API: bot, BotID: bot.Self.ID, BotName: bot.Self.UserName}, nil
}

// PinKeyboard is the single-button keyboard attached to schedules.
func PinKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(format.PinButtonText, PinCallback),
		),
	)
}

// Deliver sends an HTML schedule message with the pin button to chatID.
func (c *Client) Deliver(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: chat %d: %v", ErrDelivery, chatID, err)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = PinKeyboard()

	if _, err := c.API.Send(msg); err != nil {
		return fmt.Errorf("%w: chat %d: %v", ErrDelivery, chatID, err)
	}
	return nil
}
