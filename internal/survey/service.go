package survey

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"surveybot/internal/eventbus"
	"surveybot/pkg/logx"
)

type Options struct {
	Catalogs *CachedCatalogs
	Sink     EffectSink
	Bus      eventbus.Bus
	Log      logx.Logger
	Settings Settings

	// Now and NewSeed are replaced in tests.
	Now     func() time.Time
	NewSeed func() string
}

// Service serializes events per session, runs them through Handle and turns
// the result into timer changes and queued effects.
type Service struct {
	store    *Store
	sched    *Scheduler
	catalogs *CachedCatalogs
	sink     EffectSink
	bus      eventbus.Bus
	log      logx.Logger
	settings atomic.Pointer[Settings]
	now      func() time.Time
	newSeed  func() string
}

func NewService(opts Options) *Service {
	s := &Service{
		store:    NewStore(),
		sched:    NewScheduler(),
		catalogs: opts.Catalogs,
		sink:     opts.Sink,
		bus:      opts.Bus,
		log:      opts.Log,
		now:      opts.Now,
		newSeed:  opts.NewSeed,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newSeed == nil {
		s.newSeed = func() string { return uuid.NewString() }
	}
	set := opts.Settings
	s.settings.Store(&set)
	return s
}

// SetSettings swaps session settings. Running sessions keep their frequency.
func (s *Service) SetSettings(set Settings) {
	s.settings.Store(&set)
}

func (s *Service) Settings() Settings { return *s.settings.Load() }

func (s *Service) Catalogs() *CachedCatalogs { return s.catalogs }

type StartRequest struct {
	SurveyID  int64
	Frequency time.Duration
	Locale    string
}

// Start loads the survey catalog (outside the session lock) and begins a new
// session. Backend errors are returned as is; the session is left untouched.
func (s *Service) Start(ctx context.Context, id SessionID, req StartRequest) (Result, error) {
	cat, err := s.catalogs.Get(ctx, req.SurveyID)
	if err != nil {
		s.log.Warn("catalog unavailable", logx.Int64("session", int64(id)), logx.Int64("survey", req.SurveyID), logx.Err(err))
		return Result{Outcome: Rejected}, err
	}
	ev := Start(req.SurveyID, req.Frequency)
	ev.Locale = req.Locale
	ev.Seed = s.newSeed()
	return s.apply(id, cat, ev), nil
}

func (s *Service) AnswerChoice(id SessionID, questionIndex int, key string, messageID int) Result {
	return s.apply(id, nil, ChoiceAnswer(questionIndex, key, messageID))
}

func (s *Service) AnswerText(id SessionID, value string) Result {
	return s.apply(id, nil, TextAnswer(value))
}

func (s *Service) Confirm(id SessionID, questionIndex int, yes bool, messageID int) Result {
	return s.apply(id, nil, Confirm(questionIndex, yes, messageID))
}

func (s *Service) Cancel(id SessionID, reason string) Result {
	return s.apply(id, nil, Cancel(reason))
}

func (s *Service) SetFrequency(id SessionID, d time.Duration) Result {
	return s.apply(id, nil, SetFrequency(d))
}

// Status returns a copy of the session record.
func (s *Service) Status(id SessionID) (*Record, bool) {
	return s.store.Get(id)
}

// Expecting reports the kind of input the session currently waits for.
func (s *Service) Expecting(id SessionID) (QuestionDescriptor, bool) {
	rec, ok := s.store.Get(id)
	if !ok || rec.Phase != PhaseAwaitingAnswer {
		return QuestionDescriptor{}, false
	}
	return rec.Catalog.At(rec.Index)
}

type Stats struct {
	Sessions      int `json:"sessions"`
	Active        int `json:"active"`
	Completed     int `json:"completed"`
	PendingTimers int `json:"pending_timers"`
}

func (s *Service) Stats() Stats {
	recs := s.store.Snapshot()
	st := Stats{Sessions: len(recs), PendingTimers: s.sched.Pending()}
	for _, r := range recs {
		if r.Completed {
			st.Completed++
		} else if r.Active() {
			st.Active++
		}
	}
	return st
}

func (s *Service) Snapshot() []*Record { return s.store.Snapshot() }

// Stop cancels all timers. Effects already handed to the sink are not recalled.
func (s *Service) Stop() {
	s.sched.Stop()
}

func (s *Service) onTimer(id SessionID, gen Generation) {
	s.applyWith(id, nil, Tick(), gen)
}

func (s *Service) apply(id SessionID, cat *Catalog, ev Event) Result {
	return s.applyWith(id, cat, ev, 0)
}

func (s *Service) applyWith(id SessionID, cat *Catalog, ev Event, gen Generation) Result {
	ev.Session = id
	ev.Now = s.now()
	set := *s.settings.Load()

	var res Result
	s.store.Do(id, func(cur *Record) *Record {
		if ev.Kind == EventTick {
			if s.sched.Current(id) != gen {
				res = ignored(cur, ReasonStale)
				return cur
			}
			defer s.sched.Release(id, gen)
		}
		c := cat
		if c == nil && cur != nil {
			c = cur.Catalog
		}
		res = Handle(cur, c, ev, set)
		if res.Outcome != Applied {
			return cur
		}

		switch res.Timer.Op {
		case TimerArm:
			s.sched.Schedule(id, res.Timer.Delay, s.onTimer)
		case TimerCancel:
			s.sched.Cancel(id)
		}
		if len(res.Effects) > 0 && s.sink != nil {
			s.sink.Submit(res.Effects)
		}
		return res.Record
	})

	s.publish(id, ev, res)
	return res
}

func (s *Service) publish(id SessionID, ev Event, res Result) {
	if res.Outcome != Applied {
		s.log.Debug("event not applied",
			logx.Int64("session", int64(id)),
			logx.String("event", ev.Kind.String()),
			logx.String("outcome", res.Outcome.String()),
			logx.String("reason", res.Reason),
		)
		if res.Outcome == Ignored && s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.StaleEventDropped, Data: int64(id)})
		}
		return
	}
	if s.bus == nil {
		return
	}
	for _, eff := range res.Effects {
		var typ string
		switch e := eff.(type) {
		case Welcome:
			typ = eventbus.SessionStarted
		case SendQuestion:
			typ = eventbus.QuestionDelivered
		case ShowAnswer:
			typ = eventbus.AnswerRecorded
		case CloseConfirmation:
			typ = eventbus.AnswerRejected
			if e.Accepted {
				typ = eventbus.AnswerConfirmed
			}
		case SendCompletion:
			typ = eventbus.SessionCompleted
		case SendFarewell:
			typ = eventbus.SessionCancelled
		case FrequencyChanged:
			typ = eventbus.FrequencyChanged
		default:
			continue
		}
		s.bus.Publish(eventbus.Event{Type: typ, Data: int64(id)})
	}
}
