// Package messenger delivers engine messages through the Telegram Bot API.
package messenger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cliffng14/accountably/internal/logger"
	"github.com/cliffng14/accountably/internal/service"
)

// BotAPI is the part of *tgbotapi.BotAPI the messenger uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

const maxRetries = 2

type Telegram struct {
	bot  BotAPI
	log  *logger.Logger
	unit time.Duration // scale of Telegram's retry_after
}

func NewTelegram(bot BotAPI, log *logger.Logger) *Telegram {
	return &Telegram{bot: bot, log: log.With("component", "Telegram"), unit: time.Second}
}

var _ service.Notifier = (*Telegram)(nil)

// Send posts an HTML message and returns its message id.
func (t *Telegram) Send(ctx context.Context, m service.Message) (int, error) {
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if m.ReplyTo != 0 {
		msg.ReplyToMessageID = m.ReplyTo
		msg.AllowSendingWithoutReply = true
	}
	switch {
	case m.ForceReply:
		msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	case len(m.Buttons) > 0:
		msg.ReplyMarkup = keyboard(m.Buttons)
	}

	var sent tgbotapi.Message
	err := t.retry(ctx, func() error {
		var err error
		sent, err = t.bot.Send(msg)
		return err
	})
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// Edit replaces a message's text; nil buttons removes its keyboard.
func (t *Telegram) Edit(ctx context.Context, chatID int64, messageID int, text string, buttons [][]service.Button) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if len(buttons) > 0 {
		kb := keyboard(buttons)
		edit.ReplyMarkup = &kb
	}
	return t.request(ctx, edit)
}

// ClearButtons removes the inline keyboard from a message.
func (t *Telegram) ClearButtons(ctx context.Context, chatID int64, messageID int) error {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	return t.request(ctx, edit)
}

// Answer acknowledges a button tap, optionally as a modal alert.
func (t *Telegram) Answer(ctx context.Context, callbackID, text string, alert bool) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert
	return t.request(ctx, cb)
}

func (t *Telegram) request(ctx context.Context, c tgbotapi.Chattable) error {
	err := t.retry(ctx, func() error {
		_, err := t.bot.Request(c)
		return err
	})
	if isNotModified(err) {
		return nil
	}
	return err
}

// retry repeats op while Telegram answers with a flood-control wait.
func (t *Telegram) retry(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wait := &retryAfter{}
	bo := backoff.WithContext(backoff.WithMaxRetries(wait, maxRetries), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
			wait.next = time.Duration(tgErr.RetryAfter) * t.unit
			return err
		}
		return backoff.Permanent(err)
	}, bo, func(err error, d time.Duration) {
		t.log.Warn("Telegram rate limited, retrying", "wait", d, "error", err)
	})
}

// retryAfter waits as long as the last 429 response asked.
type retryAfter struct {
	next time.Duration
}

func (r *retryAfter) NextBackOff() time.Duration { return r.next }

func (r *retryAfter) Reset() {}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func keyboard(rows [][]service.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}
