// Package telegram is the chat platform boundary: bot setup, inbound
// message handling, and the outbound transport used by the orchestrator.
package telegram

import (
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
)

// NewBot creates the underlying Telegram bot client.
func NewBot(token string, logger *slog.Logger) (*tgbot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	b, err := tgbot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	logger.Info("telegram bot created")
	return b, nil
}
