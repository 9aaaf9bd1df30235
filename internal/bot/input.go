package bot

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"

	"surveybot/internal/survey"
	kit "surveybot/internal/transport"
	"surveybot/internal/transport/telegram/router"
	"surveybot/pkg/logx"
)

// inlineCacheSeconds keeps Telegram from re-asking for the same prefix while
// the user types.
const inlineCacheSeconds = 60

// cbAnswer handles "ans:pick:<index>:<key>".
func (b *Bot) cbAnswer(ctx context.Context, req *router.Request, payload string) error {
	idxStr, key, ok := strings.Cut(payload, ":")
	idx, err := strconv.Atoi(idxStr)
	if !ok || err != nil {
		return req.AnswerCallback(ctx, "")
	}
	res := b.survey.AnswerChoice(survey.SessionID(req.Chat.ChatID), idx, key, req.Update.Callback.MessageID)
	b.logOutcome("answer", req.Chat.ChatID, res)
	return nil
}

// cbConfirm handles "cfm:yes:<index>" and "cfm:no:<index>".
func (b *Bot) cbConfirm(yes bool) router.CallbackHandlerFunc {
	return func(ctx context.Context, req *router.Request, payload string) error {
		idx, err := strconv.Atoi(payload)
		if err != nil {
			return req.AnswerCallback(ctx, "")
		}
		res := b.survey.Confirm(survey.SessionID(req.Chat.ChatID), idx, yes, req.Update.Callback.MessageID)
		b.logOutcome("confirm", req.Chat.ChatID, res)
		return nil
	}
}

// Stale presses (an old keyboard, a double tap) are expected; they are only
// worth a debug line.
func (b *Bot) logOutcome(what string, chat int64, res survey.Result) {
	if res.Outcome == survey.Applied {
		return
	}
	b.log.Debug(what+" ignored",
		logx.Int64("chat_id", chat),
		logx.String("outcome", res.Outcome.String()),
		logx.String("reason", res.Reason),
	)
}

// onText receives plain text and unknown commands.
func (b *Bot) onText(ctx context.Context, req *router.Request, text string) error {
	chat := req.Chat.ChatID
	loc := b.locale(ctx, chat, req.Locale)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		return b.reply(ctx, req, b.t(loc, "help_info"))
	}

	if q, ok := b.survey.Expecting(survey.SessionID(chat)); ok {
		if q.HasOptions() {
			return b.reply(ctx, req, b.t(loc, "pick_option"))
		}
		res := b.survey.AnswerText(survey.SessionID(chat), text)
		b.logOutcome("text answer", chat, res)
		return nil
	}
	// Results picked from the address search arrive here too; with no
	// open question they are not small talk.
	if m := req.Update.Message; m != nil && m.ViaBot {
		return nil
	}
	return b.reply(ctx, req, b.t(loc, smallTalk(text)))
}

func smallTalk(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "hello"):
		return "smalltalk_hello"
	case strings.Contains(t, "how are you"):
		return "smalltalk_how"
	}
	return "smalltalk_unknown"
}

// onInline answers address searches.
func (b *Bot) onInline(ctx context.Context, req *router.Request, query string) error {
	q := req.Update.InlineQuery
	if q == nil {
		return nil
	}
	query = strings.TrimSpace(query)
	var hits []string
	if b.addresses != nil && query != "" {
		hits = b.addresses.Suggest(query, b.Settings().MaxResults)
	}
	results := make([]kit.InlineResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, kit.InlineResult{
			ID:          resultID(h),
			Title:       h,
			MessageText: h,
		})
	}
	if err := req.Adapter.AnswerInlineQuery(ctx, q.ID, results, inlineCacheSeconds); err != nil {
		b.log.Debug("inline answer failed", logx.Int64("from_id", q.FromID), logx.Err(err))
		return err
	}
	return nil
}

func resultID(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 36)
}
