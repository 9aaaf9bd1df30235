package transport

import "context"

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateCallback    UpdateKind = "callback"
	UpdateInlineQuery UpdateKind = "inline_query"
)

type Update struct {
	Kind        UpdateKind
	Message     *Message
	Callback    *Callback
	InlineQuery *InlineQuery
}

// ChatID returns the chat the update belongs to, or the sender for inline
// queries (which carry no chat).
func (u Update) ChatID() int64 {
	switch {
	case u.Message != nil:
		return u.Message.ChatID
	case u.Callback != nil:
		return u.Callback.ChatID
	case u.InlineQuery != nil:
		return u.InlineQuery.FromID
	}
	return 0
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	LanguageCode string
	Text         string
	IsGroup      bool
	// ViaBot is set when the message was posted through an inline result.
	ViaBot bool
}

type Callback struct {
	ID           string
	FromID       int64
	ChatID       int64
	ThreadID     int
	MessageID    int
	LanguageCode string
	Data         string
}

type InlineQuery struct {
	ID           string
	FromID       int64
	LanguageCode string
	Query        string
}

// InlineResult is a text article offered in inline mode. Choosing it posts
// MessageText to the chat.
type InlineResult struct {
	ID          string
	Title       string
	Description string
	MessageText string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, url, caption string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	AnswerInlineQuery(ctx context.Context, queryID string, results []InlineResult, cacheSeconds int) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// MaxInlineResults is Telegram's cap on answerInlineQuery results.
const MaxInlineResults = 50
