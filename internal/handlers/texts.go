package handlers

import (
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbSubscribe   = "sub:"
	cbUnsubscribe = "unsub:"
	cbHour        = "rh:"
	cbMinute      = "rm:"
)

func (h *Handler) t(lang, key string, args ...any) string {
	return h.cat.T(lang, key, args...)
}

// cmd renders a configured command word for an HTML phrase.
func cmd(word string) string { return html.EscapeString(word) }

func (h *Handler) helpText(lang string) string {
	c := h.cmds
	return h.t(lang, "help",
		cmd(c.Start), cmd(c.Stop), cmd(c.Mentions), cmd(c.Reminder),
		cmd(c.Groups), cmd(c.Timezone), cmd(c.NoReminder), cmd(c.Status))
}

// groupKeyboard offers the opposite of the current subscription state.
func (h *Handler) groupKeyboard(lang string, groupID int64, subscribed bool) tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatInt(groupID, 10)
	btn := tgbotapi.NewInlineKeyboardButtonData(h.t(lang, "btn_start_tracking"), cbSubscribe+id)
	if subscribed {
		btn = tgbotapi.NewInlineKeyboardButtonData(h.t(lang, "btn_stop_tracking"), cbUnsubscribe+id)
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

// reminderKeyboard has 24 hour buttons above 60 minute buttons, six per row.
func reminderKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	rows = appendGrid(rows, 24, func(i int) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(pad(i)+":··", cbHour+strconv.Itoa(i))
	})
	rows = appendGrid(rows, 60, func(i int) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData("··:"+pad(i), cbMinute+strconv.Itoa(i))
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func appendGrid(rows [][]tgbotapi.InlineKeyboardButton, n int, button func(int) tgbotapi.InlineKeyboardButton) [][]tgbotapi.InlineKeyboardButton {
	const perRow = 6
	for start := 0; start < n; start += perRow {
		row := make([]tgbotapi.InlineKeyboardButton, 0, perRow)
		for i := start; i < start+perRow && i < n; i++ {
			row = append(row, button(i))
		}
		rows = append(rows, row)
	}
	return rows
}

func pad(i int) string {
	if i < 10 {
		return "0" + strconv.Itoa(i)
	}
	return strconv.Itoa(i)
}

// splitCommand returns the command word and its argument. "/start@my_bot"
// is reduced to "/start" when the suffix names this bot.
func (h *Handler) splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	word, rest, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(word, '@'); at > 0 && strings.EqualFold(word[at+1:], h.botName) {
		word = word[:at]
	}
	return word, strings.TrimSpace(rest)
}
