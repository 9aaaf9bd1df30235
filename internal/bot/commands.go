package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"surveybot/internal/storage"
	"surveybot/internal/survey"
	kit "surveybot/internal/transport"
	"surveybot/internal/transport/telegram/router"
	"surveybot/pkg/logx"
	"surveybot/pkg/tgui"
)

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Route: "start", Description: "Start the survey", Handle: b.cmdStart},
		{Route: "stop", Description: "Stop the survey", Handle: b.cmdStop},
		{Route: "cancel", Description: "Cancel the survey", Handle: b.cmdCancel},
		{Route: "help", Description: "Show help", Usage: "help [command]", Handle: b.cmdHelp},
		{Route: "setfrequency", Aliases: []string{"freq"}, Description: "Set question frequency", Handle: b.cmdSetFrequency},
		{Route: "status", Description: "Show survey progress", Handle: b.cmdStatus},
		{Route: "retry", Description: "Resend answers that could not be saved", Timeout: 2 * time.Minute, Handle: b.cmdRetry},
		{Route: "reload", Description: "Reload questions (and addresses)", Usage: "reload [addresses]", Access: router.AccessOwnerOnly, Timeout: 5 * time.Minute, Handle: b.cmdReload},
		{Route: "surveys", Description: "List backend surveys", Access: router.AccessOwnerOnly, Handle: b.cmdSurveys},
		{Route: "stats", Description: "Session statistics", Access: router.AccessOwnerOnly, Handle: b.cmdStats},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Prefix: cbAnswer, Action: actPick, Description: "answer option", Access: router.CallbackAccessEveryone, Handle: b.cbAnswer},
		{Prefix: cbConfirm, Action: actYes, Description: "confirm answer", Access: router.CallbackAccessEveryone, Handle: b.cbConfirm(true)},
		{Prefix: cbConfirm, Action: actNo, Description: "re-ask question", Access: router.CallbackAccessEveryone, Handle: b.cbConfirm(false)},
		{Prefix: cbFrequency, Action: actSet, Description: "choose frequency", Access: router.CallbackAccessEveryone, Handle: b.cbFrequency},
	}
}

func senderName(req *router.Request) string {
	if m := req.Update.Message; m != nil {
		return m.FromName
	}
	return ""
}

func (b *Bot) reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Reply(ctx, text, nil)
	return err
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	chat := req.Chat.ChatID
	loc := b.locale(ctx, chat, req.Locale)
	name := senderName(req)
	if b.ex != nil {
		b.ex.rememberName(chat, name)
	}
	if rec, ok := b.survey.Status(survey.SessionID(chat)); ok && rec.Active() && !b.survey.Settings().MultiVote {
		return b.reply(ctx, req, b.t(loc, "already_running"))
	}
	text := b.t(loc, "greet_and_set_frequency", name) + "\n" + b.t(loc, "select_frequency")
	_, err := req.Reply(ctx, text, &kit.SendOptions{ReplyMarkupAdapter: b.frequencyKeyboard(loc)})
	return err
}

func (b *Bot) cmdSetFrequency(ctx context.Context, req *router.Request) error {
	loc := b.locale(ctx, req.Chat.ChatID, req.Locale)
	// "/setfrequency twice_a_day" skips the keyboard
	if len(req.Args) > 0 {
		return b.chooseFrequency(ctx, req, loc, req.Args[0], 0)
	}
	_, err := req.Reply(ctx, b.t(loc, "select_frequency"), &kit.SendOptions{ReplyMarkupAdapter: b.frequencyKeyboard(loc)})
	return err
}

func (b *Bot) frequencyKeyboard(loc string) *tele.ReplyMarkup {
	set := b.Settings()
	btns := make([]tele.Btn, 0, len(set.Frequencies))
	for _, f := range set.Frequencies {
		btns = append(btns, tgui.Btn(b.frequencyLabel(loc, f.Key), tgui.Data(cbFrequency, actSet, f.Key)))
	}
	return tgui.NewInline().Rows(2, btns...).Markup()
}

func (b *Bot) frequencyLabel(loc, key string) string {
	if b.tr != nil && b.tr.Has(key) {
		return b.t(loc, key)
	}
	return key
}

func (b *Bot) cbFrequency(ctx context.Context, req *router.Request, key string) error {
	loc := b.locale(ctx, req.Chat.ChatID, req.Locale)
	msgID := 0
	if req.Update.Callback != nil {
		msgID = req.Update.Callback.MessageID
	}
	return b.chooseFrequency(ctx, req, loc, key, msgID)
}

// chooseFrequency stores the choice and either re-paces the running session
// or starts a new one.
func (b *Bot) chooseFrequency(ctx context.Context, req *router.Request, loc, key string, keyboardMsg int) error {
	chat := req.Chat.ChatID
	f, ok := b.Settings().frequency(key)
	if !ok {
		if req.Update.Callback != nil {
			return req.AnswerCallback(ctx, b.t(loc, "unknown_frequency"))
		}
		return b.reply(ctx, req, b.t(loc, "unknown_frequency"))
	}
	b.savePreference(ctx, storage.Preference{ChatID: chat, FrequencyKey: f.Key, Locale: loc})

	if keyboardMsg > 0 {
		text := b.t(loc, "select_frequency") + " " + tgui.B(b.frequencyLabel(loc, f.Key)).String()
		ref := kit.MessageRef{ChatID: chat, MessageID: keyboardMsg}
		if err := req.Adapter.EditText(ctx, ref, text, &kit.SendOptions{ParseMode: htmlMode}); err != nil && !isNotModified(err) {
			b.log.Debug("frequency keyboard not closed", logx.Int64("chat_id", chat), logx.Err(err))
		}
	}

	id := survey.SessionID(chat)
	if rec, ok := b.survey.Status(id); ok && rec.Active() {
		res := b.survey.SetFrequency(id, f.Every)
		if res.Outcome != survey.Applied {
			b.log.Debug("frequency not applied", logx.Int64("chat_id", chat), logx.String("reason", res.Reason))
		}
		return nil
	}
	return b.startSurvey(ctx, req, loc, f.Every)
}

func (b *Bot) startSurvey(ctx context.Context, req *router.Request, loc string, every time.Duration) error {
	chat := req.Chat.ChatID
	set := b.Settings()
	start := time.Now()
	res, err := b.survey.Start(ctx, survey.SessionID(chat), survey.StartRequest{
		SurveyID:  set.SurveyID,
		Frequency: every,
		Locale:    loc,
	})
	entry := storage.AuditEntry{ChatID: chat, SurveyID: set.SurveyID, Action: "start", TookMS: time.Since(start).Milliseconds()}
	if err != nil {
		entry.Error = err.Error()
		b.audit(ctx, entry)
		return b.reply(ctx, req, b.t(loc, "backend_unavailable"))
	}
	switch {
	case res.Outcome == survey.Applied:
		entry.OK = true
		b.audit(ctx, entry)
		return nil
	case res.Reason == survey.ReasonActive:
		return b.reply(ctx, req, b.t(loc, "already_running"))
	default:
		entry.Error = res.Reason
		b.audit(ctx, entry)
		b.log.Warn("survey not started", logx.Int64("chat_id", chat), logx.String("reason", res.Reason))
		return b.reply(ctx, req, b.t(loc, "backend_unavailable"))
	}
}

func (b *Bot) cmdStop(ctx context.Context, req *router.Request) error {
	return b.endSurvey(ctx, req, survey.ReasonStop, "stop_msg")
}

func (b *Bot) cmdCancel(ctx context.Context, req *router.Request) error {
	return b.endSurvey(ctx, req, survey.ReasonCancel, "cancel_msg")
}

// endSurvey cancels the session. The farewell comes from the effect; without a
// session the user still gets it directly.
func (b *Bot) endSurvey(ctx context.Context, req *router.Request, reason, farewell string) error {
	chat := req.Chat.ChatID
	res := b.survey.Cancel(survey.SessionID(chat), reason)
	if res.Outcome == survey.Applied {
		b.audit(ctx, storage.AuditEntry{ChatID: chat, Action: reason, OK: true})
		return nil
	}
	return b.reply(ctx, req, b.t(b.locale(ctx, chat, req.Locale), farewell))
}

func (b *Bot) cmdHelp(ctx context.Context, req *router.Request) error {
	loc := b.locale(ctx, req.Chat.ChatID, req.Locale)
	if len(req.Args) > 0 || req.Owner {
		// owners get the full command tree
		text := tgui.Esc(b.t(loc, "help_info")).String()
		if req.Manager != nil {
			text += "\n" + req.Manager.HelpText(req.Args)
		}
		_, err := req.Reply(ctx, text, &kit.SendOptions{ParseMode: htmlMode, DisablePreview: true})
		return err
	}
	return b.reply(ctx, req, b.t(loc, "help_info"))
}

func (b *Bot) cmdStatus(ctx context.Context, req *router.Request) error {
	loc := b.locale(ctx, req.Chat.ChatID, req.Locale)
	rec, ok := b.survey.Status(survey.SessionID(req.Chat.ChatID))
	switch {
	case !ok || rec.Phase == survey.PhaseCancelled:
		return b.reply(ctx, req, b.t(loc, "no_session"))
	case rec.Completed:
		return b.reply(ctx, req, b.t(loc, "status_done"))
	case rec.Phase == survey.PhaseAwaitingAnswer || rec.Phase == survey.PhaseAwaitingConfirmation:
		return b.reply(ctx, req, b.t(loc, "status_waiting", rec.Index+1, rec.Catalog.Len()))
	default:
		label := rec.Frequency.String()
		if key, ok := b.Settings().frequencyKey(rec.Frequency); ok {
			label = b.frequencyLabel(loc, key)
		}
		return b.reply(ctx, req, b.t(loc, "status_running", rec.Index+1, rec.Catalog.Len(), label))
	}
}

func (b *Bot) cmdRetry(ctx context.Context, req *router.Request) error {
	loc := b.locale(ctx, req.Chat.ChatID, req.Locale)
	if b.ex == nil {
		return b.reply(ctx, req, b.t(loc, "retry_none"))
	}
	// owners may pass "all"
	scope := req.Chat.ChatID
	if req.Owner && len(req.Args) > 0 && req.Args[0] == "all" {
		scope = 0
	}
	sent, total, err := b.ex.RetryPending(ctx, scope)
	if err != nil {
		return err
	}
	if total == 0 {
		return b.reply(ctx, req, b.t(loc, "retry_none"))
	}
	return b.reply(ctx, req, b.t(loc, "retry_done", sent, total))
}

func (b *Bot) cmdReload(ctx context.Context, req *router.Request) error {
	loc := b.locale(ctx, req.Chat.ChatID, req.Locale)
	b.survey.Catalogs().Invalidate(b.Settings().SurveyID)
	msg := b.t(loc, "reload_done")
	if len(req.Args) > 0 && req.Args[0] == "addresses" {
		if b.refresh == nil {
			return b.reply(ctx, req, "address autocomplete is disabled")
		}
		if err := b.refresh(ctx); err != nil {
			return fmt.Errorf("address refresh: %w", err)
		}
		if b.addresses != nil {
			if snap := b.addresses.Load(); snap != nil && snap.Index != nil {
				msg += fmt.Sprintf("\naddresses: %d (%s)", snap.Index.Len(), snap.Source)
			}
		}
	}
	return b.reply(ctx, req, msg)
}

func (b *Bot) cmdSurveys(ctx context.Context, req *router.Request) error {
	loc := b.locale(ctx, req.Chat.ChatID, req.Locale)
	if b.surveys == nil {
		return errors.New("survey listing unavailable")
	}
	list, err := b.surveys.ListSurveys(ctx)
	if err != nil {
		return b.reply(ctx, req, b.t(loc, "backend_unavailable"))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	lines := make([]string, 0, len(list)+1)
	lines = append(lines, tgui.B(b.t(loc, "surveys_header")).String())
	current := b.Settings().SurveyID
	for _, s := range list {
		line := tgui.Code(strconv.FormatInt(s.ID, 10)).String() + " " + tgui.Esc(s.Title).String()
		if s.Active {
			line += " ✅"
		}
		if s.ID == current {
			line += " ⭐"
		}
		lines = append(lines, line)
	}
	_, err = req.Reply(ctx, strings.Join(lines, "\n"), &kit.SendOptions{ParseMode: htmlMode})
	return err
}

func (b *Bot) cmdStats(ctx context.Context, req *router.Request) error {
	st := b.survey.Stats()
	lines := []string{
		fmt.Sprintf("sessions: %d", st.Sessions),
		fmt.Sprintf("active: %d", st.Active),
		fmt.Sprintf("completed: %d", st.Completed),
		fmt.Sprintf("pending timers: %d", st.PendingTimers),
	}
	if b.addresses != nil {
		if snap := b.addresses.Load(); snap != nil && snap.Index != nil {
			lines = append(lines, fmt.Sprintf("addresses: %d (%s, %s)", snap.Index.Len(), snap.Source, snap.BuiltAt.Format(time.RFC3339)))
		}
	}
	if b.store != nil {
		if p, err := b.store.ListPending(ctx, 500); err == nil {
			lines = append(lines, fmt.Sprintf("pending responses: %d", len(p)))
		}
	}
	return b.reply(ctx, req, strings.Join(lines, "\n"))
}
