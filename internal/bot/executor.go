package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"surveybot/internal/eventbus"
	"surveybot/internal/i18n"
	"surveybot/internal/storage"
	"surveybot/internal/survey"
	kit "surveybot/internal/transport"
	"surveybot/pkg/logx"
	"surveybot/pkg/tgui"
)

const htmlMode = "HTML"

// callback prefixes and actions
const (
	cbAnswer    = "ans"
	cbConfirm   = "cfm"
	cbFrequency = "freq"

	actPick = "pick"
	actYes  = "yes"
	actNo   = "no"
	actSet  = "set"
)

type ExecutorOptions struct {
	Adapter    kit.Adapter
	Translator *i18n.Translator
	Submitter  survey.Submitter
	Store      storage.Store
	Tokens     *tgui.TokenStore
	Bus        eventbus.Bus
	Log        logx.Logger
	// Classify maps transport errors onto retry decisions for the outbox.
	Classify func(error) error
}

// Executor renders survey effects as Telegram messages. It implements
// outbox.Executor.
type Executor struct {
	adapter  kit.Adapter
	tr       *i18n.Translator
	submit   survey.Submitter
	store    storage.Store
	tokens   *tgui.TokenStore
	bus      eventbus.Bus
	log      logx.Logger
	classify func(error) error

	settings atomic.Pointer[Settings]

	// first names, for the welcome line
	names sync.Map // int64 -> string

	retryMu sync.Mutex
}

func NewExecutor(opts ExecutorOptions) *Executor {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	ex := &Executor{
		adapter:  opts.Adapter,
		tr:       opts.Translator,
		submit:   opts.Submitter,
		store:    opts.Store,
		tokens:   opts.Tokens,
		bus:      opts.Bus,
		log:      log.With(logx.String("comp", "executor")),
		classify: opts.Classify,
	}
	ex.settings.Store(&Settings{MaxResults: 50})
	return ex
}

func (ex *Executor) Apply(set Settings) { ex.settings.Store(&set) }

func (ex *Executor) rememberName(chatID int64, name string) {
	if name = strings.TrimSpace(name); name != "" {
		ex.names.Store(chatID, name)
	}
}

func (ex *Executor) name(chatID int64) string {
	if v, ok := ex.names.Load(chatID); ok {
		return v.(string)
	}
	return ""
}

func (ex *Executor) t(locale, key string, args ...any) string {
	if ex.tr == nil {
		return key
	}
	return ex.tr.T(locale, key, args...)
}

// Execute performs one effect. Errors are classified for the outbox retry loop.
func (ex *Executor) Execute(ctx context.Context, eff survey.Effect) error {
	err := ex.execute(ctx, eff)
	if err != nil && ex.classify != nil {
		return ex.classify(err)
	}
	return err
}

func (ex *Executor) execute(ctx context.Context, eff survey.Effect) error {
	h := eff.Target()
	to := kit.ChatTarget{ChatID: int64(h.Session)}
	loc := h.Locale

	switch e := eff.(type) {
	case survey.Welcome:
		return ex.send(ctx, to, ex.t(loc, "welcome_msg", ex.name(to.ChatID)), nil)

	case survey.SendQuestion:
		return ex.sendQuestion(ctx, to, e)

	case survey.ShowAnswer:
		label := e.Label
		if !e.Found || label == "" {
			label = ex.t(loc, "answer_unknown")
		}
		text := ex.t(loc, "answer_to_question", e.Question.Text, label)
		if e.MessageID > 0 {
			return ex.adapter.EditText(ctx, kit.MessageRef{ChatID: to.ChatID, MessageID: e.MessageID}, text, nil)
		}
		return ex.send(ctx, to, text, nil)

	case survey.SendConfirmationPrompt:
		idx := strconv.Itoa(e.Index)
		kb := tgui.Confirm(
			tgui.Btn(ex.t(loc, "yes_msg"), tgui.Data(cbConfirm, actYes, idx)),
			tgui.Btn(ex.t(loc, "no_msg"), tgui.Data(cbConfirm, actNo, idx)),
		)
		return ex.send(ctx, to, ex.t(loc, "confirmation_msg"), &kit.SendOptions{ReplyMarkupAdapter: kb})

	case survey.CloseConfirmation:
		if e.MessageID <= 0 {
			return nil
		}
		choice := ex.t(loc, "no_msg")
		if e.Accepted {
			choice = ex.t(loc, "yes_msg")
		}
		err := ex.adapter.EditText(ctx, kit.MessageRef{ChatID: to.ChatID, MessageID: e.MessageID}, ex.t(loc, "confirmed_msg", choice), nil)
		if isNotModified(err) {
			return nil
		}
		return err

	case survey.SendCompletion:
		return ex.send(ctx, to, ex.t(loc, "questions_complete_msg"), nil)

	case survey.SubmitResponse:
		ex.submitResponse(ctx, to, e)
		return nil

	case survey.SendFarewell:
		key := "cancel_msg"
		if e.Reason == survey.ReasonStop {
			key = "stop_msg"
		}
		return ex.send(ctx, to, ex.t(loc, key), nil)

	case survey.FrequencyChanged:
		return ex.send(ctx, to, ex.t(loc, "frequency_set_confirmation", ex.frequencyLabel(loc, e.Frequency)), nil)
	}
	ex.log.Warn("unknown effect", logx.String("type", fmt.Sprintf("%T", eff)))
	return nil
}

func (ex *Executor) send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	_, err := ex.adapter.SendText(ctx, to, text, opt)
	return err
}

func (ex *Executor) sendQuestion(ctx context.Context, to kit.ChatTarget, e survey.SendQuestion) error {
	loc := e.Locale
	set := ex.settings.Load()
	q := e.Question

	var sb strings.Builder
	sb.WriteString(tgui.I(ex.t(loc, "question_progress", e.Index+1, e.Total)).String())
	sb.WriteString("\n\n")
	sb.WriteString(tgui.Esc(q.Text).String())

	kb := tgui.NewInline()
	switch {
	case q.HasOptions():
		btns := make([]tele.Btn, 0, len(q.Options))
		for _, o := range q.Options {
			data := tgui.DataOrToken(ex.tokens, cbAnswer, actPick, strconv.Itoa(e.Index)+":"+o.Key)
			btns = append(btns, tgui.Btn(tgui.Label(o.Label, tgui.MaxButtonRunes), data))
		}
		kb.Rows(1, btns...)
	case q.Kind == survey.KindAddress:
		sb.WriteString("\n\n")
		sb.WriteString(tgui.Esc(ex.t(loc, "search_msg")).String())
		kb.Row(tgui.SearchBtn(ex.t(loc, "search_button"), ""))
	}

	opt := &kit.SendOptions{ParseMode: htmlMode, DisablePreview: true}
	if kb.Len() > 0 {
		opt.ReplyMarkupAdapter = kb.Markup()
	}
	if set.ExtractImages && len(q.Images) > 0 {
		_, err := ex.adapter.SendPhoto(ctx, to, q.Images[0], sb.String(), opt)
		if err == nil {
			return nil
		}
		// Telegram could not fetch the image; the question still has to go out.
		ex.log.Warn("question image not sent", logx.Int64("chat_id", to.ChatID), logx.String("url", q.Images[0]), logx.Err(err))
	}
	_, err := ex.adapter.SendText(ctx, to, sb.String(), opt)
	return err
}

func (ex *Executor) frequencyLabel(loc string, d time.Duration) string {
	set := ex.settings.Load()
	if key, ok := set.frequencyKey(d); ok {
		if ex.tr != nil && ex.tr.Has(key) {
			return ex.t(loc, key)
		}
		return key
	}
	return d.String()
}

// persistTimeout bounds the writes and the notice that follow a submission.
// They run on a fresh context because ctx may already have expired.
const persistTimeout = 10 * time.Second

// submitResponse stores a completed survey in the backend. A failure keeps
// the response as pending and tells the user; it is never retried by the
// outbox because the backend client already retried.
func (ex *Executor) submitResponse(ctx context.Context, to kit.ChatTarget, e survey.SubmitResponse) {
	start := time.Now()
	if ex.submit == nil {
		return
	}
	id, err := ex.submit.SubmitResponse(ctx, e.SurveyID, e.Seed, e.Answers)
	took := time.Since(start)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	entry := storage.AuditEntry{ChatID: to.ChatID, SurveyID: e.SurveyID, Action: "submit", TookMS: took.Milliseconds()}
	if err == nil {
		entry.OK = true
		entry.Target = id
		auditTo(ctx, ex.store, ex.log, entry)
		ex.publish(eventbus.SubmissionSent, map[string]any{"chat_id": to.ChatID, "survey_id": e.SurveyID, "response_id": id})
		ex.log.Info("response submitted", logx.Int64("chat_id", to.ChatID), logx.Int64("survey_id", e.SurveyID), logx.String("response_id", id), logx.Duration("took", took))
		return
	}

	entry.Error = err.Error()
	auditTo(ctx, ex.store, ex.log, entry)
	ex.log.Warn("response not submitted", logx.Int64("chat_id", to.ChatID), logx.Int64("survey_id", e.SurveyID), logx.Err(err))
	ex.publish(eventbus.SubmissionFailed, map[string]any{"chat_id": to.ChatID, "survey_id": e.SurveyID, "error": err.Error()})

	if errors.Is(err, survey.ErrRejectedData) {
		// resending the same data cannot succeed
		_ = ex.send(ctx, to, ex.t(e.Locale, "backend_unavailable"), nil)
		return
	}
	if ex.store != nil {
		p := storage.PendingSubmission{
			ID:        uuid.NewString(),
			SessionID: to.ChatID,
			SurveyID:  e.SurveyID,
			Seed:      e.Seed,
			Answers:   e.Answers,
			CreatedAt: time.Now(),
			Attempts:  1,
			LastError: err.Error(),
		}
		if serr := ex.store.SavePending(ctx, p); serr != nil {
			ex.log.Error("pending response lost", logx.Int64("chat_id", to.ChatID), logx.Any("answers", e.Answers), logx.Err(serr))
		} else {
			ex.publish(eventbus.SubmissionPending, map[string]any{"chat_id": to.ChatID, "survey_id": e.SurveyID, "id": p.ID})
		}
	} else {
		ex.log.Error("response dropped (storage disabled)", logx.Int64("chat_id", to.ChatID), logx.Any("answers", e.Answers))
	}
	_ = ex.send(ctx, to, ex.t(e.Locale, "submit_failed"), nil)
}

// RetryPending resubmits stored responses. chatID limits the run to one
// chat; 0 retries everything. Runs are serialized.
func (ex *Executor) RetryPending(ctx context.Context, chatID int64) (sent, total int, err error) {
	if ex.store == nil || ex.submit == nil {
		return 0, 0, nil
	}
	ex.retryMu.Lock()
	defer ex.retryMu.Unlock()

	items, err := ex.store.ListPending(ctx, 500)
	if err != nil {
		return 0, 0, err
	}
	for _, p := range items {
		if chatID != 0 && p.SessionID != chatID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sent, total, err
		}
		total++
		id, serr := ex.submit.SubmitResponse(ctx, p.SurveyID, p.Seed, p.Answers)
		if serr != nil {
			if merr := ex.store.MarkAttempt(ctx, p.ID, serr.Error()); merr != nil {
				ex.log.Warn("pending attempt not recorded", logx.String("id", p.ID), logx.Err(merr))
			}
			if errors.Is(serr, survey.ErrRejectedData) {
				ex.log.Error("pending response rejected by backend; dropping", logx.String("id", p.ID), logx.Any("answers", p.Answers), logx.Err(serr))
				_ = ex.store.DeletePending(ctx, p.ID)
			}
			continue
		}
		if derr := ex.store.DeletePending(ctx, p.ID); derr != nil {
			ex.log.Warn("pending response not deleted", logx.String("id", p.ID), logx.Err(derr))
		}
		sent++
		auditTo(ctx, ex.store, ex.log, storage.AuditEntry{ChatID: p.SessionID, SurveyID: p.SurveyID, Action: "resubmit", Target: id, OK: true})
		ex.publish(eventbus.SubmissionSent, map[string]any{"chat_id": p.SessionID, "survey_id": p.SurveyID, "response_id": id, "pending_id": p.ID})
	}
	if total > 0 {
		ex.log.Info("pending responses retried", logx.Int("sent", sent), logx.Int("total", total))
	}
	return sent, total, nil
}

func (ex *Executor) publish(typ string, data map[string]any) {
	if ex.bus == nil {
		return
	}
	ex.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
