package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards (ReplyMarkup).
// It stores rows as tele.Row ([]tele.Btn) and applies them via ReplyMarkup.Inline().
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a new row (buttons) to the inline keyboard.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Rows appends buttons split into rows of at most perRow buttons.
func (i *Inline) Rows(perRow int, btns ...tele.Btn) *Inline {
	if perRow <= 0 {
		perRow = 1
	}
	for len(btns) > 0 {
		n := min(perRow, len(btns))
		i.Row(btns[:n]...)
		btns = btns[n:]
	}
	return i
}

// Len reports the number of rows.
func (i *Inline) Len() int { return len(i.rows) }

// Markup returns underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data (we do NOT encode it).
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// SearchBtn opens inline mode in the current chat with query prefilled.
func SearchBtn(text, query string) tele.Btn {
	return tele.Btn{Text: text, InlineQueryChat: query}
}

// Confirm builds a one-row yes/no keyboard.
func Confirm(yes, no tele.Btn) *tele.ReplyMarkup {
	return NewInline().Row(yes, no).Markup()
}
