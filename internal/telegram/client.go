// Package telegram is the outbound side of the bot: every call to the Bot API
// goes through Client, which throttles and retries it.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrTransport wraps a Bot API call that still failed after its retries.
var ErrTransport = errors.New("telegram transport failure")

// BotAPI is the part of *tgbotapi.BotAPI the client uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChat(cfg tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatAdministrators(cfg tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
	GetInviteLink(cfg tgbotapi.ChatInviteLinkConfig) (string, error)
}

// ChatInfo is the display metadata of a group.
type ChatInfo struct {
	Title     string
	Handle    string
	InviteURL string
}

type Options struct {
	RatePerSec int           // sends per second, burst of the same size
	Retries    int           // extra attempts after the first
	RetryBase  time.Duration // first retry delay, doubled each attempt
	Clock      clockwork.Clock
}

type Client struct {
	api     BotAPI
	log     *zap.Logger
	limiter *rate.Limiter
	retries int
	base    time.Duration
	clock   clockwork.Clock
}

func New(api BotAPI, log *zap.Logger, opts Options) *Client {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 25
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Client{
		api:     api,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		retries: opts.Retries,
		base:    opts.RetryBase,
		clock:   opts.Clock,
	}
}

// NewBotAPI connects with an HTTP client bounded by timeout.
func NewBotAPI(token string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
}

// do runs call under the rate limiter, retrying transient failures.
func (c *Client) do(ctx context.Context, op string, call func() error) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return fmt.Errorf("%w: %s: %w", ErrTransport, op, werr)
		}
		if err = call(); err == nil {
			return nil
		}
		delay, retry := c.retryDelay(err, attempt)
		if !retry || attempt == c.retries {
			break
		}
		c.log.Debug("telegram call failed, retrying",
			zap.String("op", op), zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrTransport, op, ctx.Err())
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// retryDelay honours flood control and gives up on client errors such as a
// blocked bot or a deleted message.
func (c *Client) retryDelay(err error, attempt int) (time.Duration, bool) {
	delay := c.base << attempt
	if apiErr, ok := asAPIError(err); ok {
		switch {
		case apiErr.RetryAfter > 0:
			return time.Duration(apiErr.RetryAfter) * time.Second, true
		case apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests:
			return 0, false
		}
	}
	return delay, true
}

func asAPIError(err error) (*tgbotapi.Error, bool) {
	var p *tgbotapi.Error
	if errors.As(err, &p) && p != nil {
		return p, true
	}
	var v tgbotapi.Error
	if errors.As(err, &v) {
		return &v, true
	}
	return nil, false
}

// Send posts an HTML message. markup may be nil.
func (c *Client) Send(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	var id int
	err := c.do(ctx, "send", func() error {
		m, err := c.api.Send(msg)
		id = m.MessageID
		return err
	})
	return id, err
}

// Forward copies each message of from into to, in order. A message that
// cannot be forwarded does not stop the rest.
func (c *Client) Forward(ctx context.Context, to, from int64, ids []int) error {
	var errs []error
	for _, id := range ids {
		fwd := tgbotapi.NewForward(to, from, id)
		if err := c.do(ctx, "forward", func() error {
			_, err := c.api.Send(fwd)
			return err
		}); err != nil {
			errs = append(errs, fmt.Errorf("message %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// EditText replaces the text of a message. Its inline keyboard goes with it.
func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	return c.do(ctx, "edit", func() error {
		_, err := c.api.Request(edit)
		return err
	})
}

// ClearMarkup removes the inline keyboard of a message.
func (c *Client) ClearMarkup(ctx context.Context, chatID int64, messageID int) error {
	empty := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, empty)
	return c.do(ctx, "clear_markup", func() error {
		_, err := c.api.Request(edit)
		return err
	})
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	return c.do(ctx, "answer_callback", func() error {
		_, err := c.api.Request(cb)
		return err
	})
}

// ChatInfo reads title and handle of a group. The invite link is only
// available when the bot is an administrator; its absence is not an error.
func (c *Client) ChatInfo(ctx context.Context, chatID int64) (ChatInfo, error) {
	var chat tgbotapi.Chat
	err := c.do(ctx, "get_chat", func() error {
		var err error
		chat, err = c.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
		return err
	})
	if err != nil {
		return ChatInfo{}, err
	}
	info := ChatInfo{Title: chat.Title, Handle: chat.UserName, InviteURL: chat.InviteLink}
	if info.Handle == "" && info.InviteURL == "" {
		var link string
		err := c.do(ctx, "get_invite_link", func() error {
			var err error
			link, err = c.api.GetInviteLink(tgbotapi.ChatInviteLinkConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
			return err
		})
		if err == nil {
			info.InviteURL = link
		} else {
			c.log.Debug("no invite link", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
	return info, nil
}

// Administrators lists the human administrators of a group. Bots can not
// enumerate regular members, so this seeds the roster of a new group.
func (c *Client) Administrators(ctx context.Context, chatID int64) ([]int64, error) {
	var members []tgbotapi.ChatMember
	err := c.do(ctx, "get_administrators", func() error {
		var err error
		members, err = c.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
		return err
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if m.User != nil && !m.User.IsBot {
			ids = append(ids, m.User.ID)
		}
	}
	return ids, nil
}
