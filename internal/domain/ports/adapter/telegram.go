// File: internal/domain/ports/adapter/telegram.go
package adapter

import "context"

type InlineButton struct {
	Text string
	Data string
	URL  string
}

// TelegramBotAdapter is the outbound half of the bot. Chat ids are the
// string form stored on model.User.
type TelegramBotAdapter interface {
	SendMessage(ctx context.Context, chatID string, text string) error
	SendButtons(ctx context.Context, chatID string, text string, rows [][]InlineButton) error
	AnswerCallback(ctx context.Context, callbackID string) error
}
