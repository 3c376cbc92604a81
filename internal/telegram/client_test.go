package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type fakeAPI struct {
	mu    sync.Mutex
	sent  []tgbotapi.Chattable
	errs  []error // consumed one per call, nil entries succeed
	admin []tgbotapi.ChatMember
	chat  tgbotapi.Chat
	link  string
}

func (f *fakeAPI) next(c tgbotapi.Chattable) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := f.next(c); err != nil {
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{MessageID: 100 + f.calls()}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := f.next(c); err != nil {
		return nil, err
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetChat(cfg tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	return f.chat, nil
}

func (f *fakeAPI) GetChatAdministrators(cfg tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error) {
	return f.admin, nil
}

func (f *fakeAPI) GetInviteLink(cfg tgbotapi.ChatInviteLinkConfig) (string, error) {
	if f.link == "" {
		return "", &tgbotapi.Error{Code: 400, Message: "not enough rights"}
	}
	return f.link, nil
}

func newClient(api BotAPI, clock clockwork.Clock) *Client {
	return New(api, zap.NewNop(), Options{RatePerSec: 1000, Retries: 2, RetryBase: time.Millisecond, Clock: clock})
}

func TestSendUsesHTML(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, nil)
	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("x", "y")))

	id, err := c.Send(context.Background(), 5, "<b>hi</b>", &kb)
	if err != nil {
		t.Fatal(err)
	}
	if id != 101 {
		t.Fatalf("id = %d", id)
	}
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T", api.sent[0])
	}
	if msg.ParseMode != tgbotapi.ModeHTML || msg.ChatID != 5 || msg.ReplyMarkup == nil {
		t.Fatalf("message = %+v", msg)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	api := &fakeAPI{errs: []error{
		&tgbotapi.Error{Code: 502, Message: "bad gateway"},
		errors.New("connection reset"),
		nil,
	}}
	c := newClient(api, nil)
	if _, err := c.Send(context.Background(), 1, "x", nil); err != nil {
		t.Fatal(err)
	}
	if api.calls() != 3 {
		t.Fatalf("calls = %d, want 3", api.calls())
	}
}

func TestGivesUpAfterRetries(t *testing.T) {
	boom := errors.New("timeout")
	api := &fakeAPI{errs: []error{boom, boom, boom, boom}}
	c := newClient(api, nil)
	_, err := c.Send(context.Background(), 1, "x", nil)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if api.calls() != 3 {
		t.Fatalf("calls = %d, want 3", api.calls())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	api := &fakeAPI{errs: []error{&tgbotapi.Error{Code: 403, Message: "bot was blocked by the user"}}}
	c := newClient(api, nil)
	if _, err := c.Send(context.Background(), 1, "x", nil); !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v", err)
	}
	if api.calls() != 1 {
		t.Fatalf("calls = %d, want 1", api.calls())
	}
}

func TestHonoursRetryAfter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	flood := &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 7}}
	api := &fakeAPI{errs: []error{flood}}
	fc := clockwork.NewFakeClock()
	c := newClient(api, fc)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(ctx, 1, "x", nil)
		done <- err
	}()

	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	fc.Advance(6 * time.Second)
	select {
	case err := <-done:
		t.Fatalf("returned before retry_after elapsed: %v", err)
	default:
	}
	fc.Advance(time.Second)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if api.calls() != 2 {
		t.Fatalf("calls = %d, want 2", api.calls())
	}
}

func TestForwardContinuesPastFailures(t *testing.T) {
	api := &fakeAPI{errs: []error{nil, &tgbotapi.Error{Code: 400, Message: "message to forward not found"}, nil}}
	c := newClient(api, nil)

	err := c.Forward(context.Background(), 9, -100, []int{1, 2, 3})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v", err)
	}
	if api.calls() != 3 {
		t.Fatalf("calls = %d, want 3", api.calls())
	}
	fwd := api.sent[2].(tgbotapi.ForwardConfig)
	if fwd.ChatID != 9 || fwd.FromChatID != -100 || fwd.MessageID != 3 {
		t.Fatalf("forward = %+v", fwd)
	}
}

func TestClearMarkupSendsEmptyKeyboard(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, nil)
	if err := c.ClearMarkup(context.Background(), 1, 77); err != nil {
		t.Fatal(err)
	}
	edit := api.sent[0].(tgbotapi.EditMessageReplyMarkupConfig)
	if edit.MessageID != 77 || edit.ReplyMarkup == nil || edit.ReplyMarkup.InlineKeyboard == nil {
		t.Fatalf("edit = %+v", edit)
	}
}

func TestEditTextDropsKeyboard(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, nil)
	if err := c.EditText(context.Background(), 1, 78, "<b>expired</b>"); err != nil {
		t.Fatal(err)
	}
	edit := api.sent[0].(tgbotapi.EditMessageTextConfig)
	if edit.MessageID != 78 || edit.ParseMode != tgbotapi.ModeHTML || edit.ReplyMarkup != nil {
		t.Fatalf("edit = %+v", edit)
	}
}

func TestAdministratorsSkipsBots(t *testing.T) {
	api := &fakeAPI{admin: []tgbotapi.ChatMember{
		{User: &tgbotapi.User{ID: 1}},
		{User: &tgbotapi.User{ID: 2, IsBot: true}},
		{User: &tgbotapi.User{ID: 3}},
	}}
	ids, err := newClient(api, nil).Administrators(context.Background(), -5)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("ids = %v", ids)
	}
}

func TestChatInfoFallsBackToInviteLink(t *testing.T) {
	api := &fakeAPI{chat: tgbotapi.Chat{Title: "Team"}, link: "https://t.me/+abc"}
	info, err := newClient(api, nil).ChatInfo(context.Background(), -5)
	if err != nil {
		t.Fatal(err)
	}
	if info.Title != "Team" || info.InviteURL != "https://t.me/+abc" {
		t.Fatalf("info = %+v", info)
	}

	api.link = ""
	info, err = newClient(api, nil).ChatInfo(context.Background(), -5)
	if err != nil || info.InviteURL != "" {
		t.Fatalf("info = %+v, err = %v", info, err)
	}
}
