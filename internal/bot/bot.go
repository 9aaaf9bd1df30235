// Package bot is the Dispatcher between Telegram and the survey core. It
// turns commands, button presses, inline queries and free text into survey
// events, and it renders survey effects back into Telegram messages.
package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"surveybot/internal/address"
	"surveybot/internal/backend/limesurvey"
	"surveybot/internal/eventbus"
	"surveybot/internal/i18n"
	"surveybot/internal/storage"
	"surveybot/internal/survey"
	"surveybot/internal/transport/telegram/router"
	"surveybot/pkg/logx"
)

// Frequency is one entry of the frequency keyboard.
type Frequency struct {
	Key   string
	Every time.Duration
}

// Settings are the hot-reloadable parts of the survey configuration.
type Settings struct {
	SurveyID         int64
	DefaultLocale    string
	Frequencies      []Frequency
	DefaultFrequency string
	ExtractImages    bool
	MaxResults       int
}

func (s Settings) frequency(key string) (Frequency, bool) {
	for _, f := range s.Frequencies {
		if f.Key == key {
			return f, true
		}
	}
	return Frequency{}, false
}

// frequencyKey maps a duration back to its keyboard key.
func (s Settings) frequencyKey(d time.Duration) (string, bool) {
	for _, f := range s.Frequencies {
		if f.Every == d {
			return f.Key, true
		}
	}
	return "", false
}

// SurveyLister lists the surveys of the backend for owners.
type SurveyLister interface {
	ListSurveys(ctx context.Context) ([]limesurvey.SurveyInfo, error)
}

type Options struct {
	Survey     *survey.Service
	Executor   *Executor
	Translator *i18n.Translator
	Store      storage.Store // nil when storage is disabled
	Addresses  *address.Holder
	Surveys    SurveyLister
	Bus        eventbus.Bus
	Log        logx.Logger
	Settings   Settings

	// RefreshAddresses rebuilds the address index; optional.
	RefreshAddresses func(ctx context.Context) error
}

// Bot is the Dispatcher.
type Bot struct {
	survey    *survey.Service
	ex        *Executor
	tr        *i18n.Translator
	store     storage.Store
	addresses *address.Holder
	surveys   SurveyLister
	bus       eventbus.Bus
	log       logx.Logger
	refresh   func(ctx context.Context) error

	settings atomic.Pointer[Settings]

	// prefs caches preferences; the store is the source of truth when enabled.
	prefsMu sync.RWMutex
	prefs   map[int64]storage.Preference
}

func New(opts Options) *Bot {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		survey:    opts.Survey,
		ex:        opts.Executor,
		tr:        opts.Translator,
		store:     opts.Store,
		addresses: opts.Addresses,
		surveys:   opts.Surveys,
		bus:       opts.Bus,
		log:       log.With(logx.String("comp", "bot")),
		refresh:   opts.RefreshAddresses,
		prefs:     map[int64]storage.Preference{},
	}
	b.Apply(opts.Settings)
	return b
}

// Apply swaps the settings of the dispatcher and its executor.
func (b *Bot) Apply(set Settings) {
	if set.MaxResults <= 0 {
		set.MaxResults = 50
	}
	b.settings.Store(&set)
	if b.ex != nil {
		b.ex.Apply(set)
	}
}

func (b *Bot) Settings() Settings { return *b.settings.Load() }

// Register installs commands, callbacks and fallbacks on m.
func (b *Bot) Register(m *router.CommandManager) {
	m.SetRegistry(b.Commands(), b.Callbacks())
	m.SetFallbacks(b.onText, b.onInline)
}

// locale picks the stored preference, then the Telegram language, then the
// configured default.
func (b *Bot) locale(ctx context.Context, chatID int64, telegramLang string) string {
	if p, ok := b.preference(ctx, chatID); ok && p.Locale != "" {
		return p.Locale
	}
	if telegramLang != "" && b.tr != nil {
		return b.tr.Resolve(telegramLang)
	}
	return b.Settings().DefaultLocale
}

func (b *Bot) t(locale, key string, args ...any) string {
	if b.tr == nil {
		return key
	}
	return b.tr.T(locale, key, args...)
}

func (b *Bot) preference(ctx context.Context, chatID int64) (storage.Preference, bool) {
	b.prefsMu.RLock()
	p, ok := b.prefs[chatID]
	b.prefsMu.RUnlock()
	if ok || b.store == nil {
		return p, ok
	}
	p, ok, err := b.store.GetPreference(ctx, chatID)
	if err != nil {
		b.log.Warn("preference lookup failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return storage.Preference{}, false
	}
	if ok {
		b.prefsMu.Lock()
		b.prefs[chatID] = p
		b.prefsMu.Unlock()
	}
	return p, ok
}

func (b *Bot) savePreference(ctx context.Context, p storage.Preference) {
	p.UpdatedAt = time.Now()
	b.prefsMu.Lock()
	b.prefs[p.ChatID] = p
	b.prefsMu.Unlock()
	if b.store == nil {
		return
	}
	if err := b.store.PutPreference(ctx, p); err != nil && !errors.Is(err, storage.ErrDisabled) {
		b.log.Warn("preference not saved", logx.Int64("chat_id", p.ChatID), logx.Err(err))
	}
}

func (b *Bot) audit(ctx context.Context, e storage.AuditEntry) {
	auditTo(ctx, b.store, b.log, e)
}

func auditTo(ctx context.Context, st storage.Store, log logx.Logger, e storage.AuditEntry) {
	if st == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if err := st.AppendAudit(ctx, e); err != nil && !errors.Is(err, storage.ErrDisabled) {
		log.Debug("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}
