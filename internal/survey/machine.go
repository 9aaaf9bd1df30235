package survey

import (
	"context"
	"errors"
	"time"

	"github.com/looplab/fsm"
)

type Outcome int

const (
	Applied Outcome = iota
	Ignored
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Ignored:
		return "ignored"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Reasons attached to Ignored and Rejected results.
const (
	ReasonNoSession     = "no_session"
	ReasonStale         = "stale"
	ReasonWrongQuestion = "wrong_question"
	ReasonExpectsChoice = "expects_choice"
	ReasonExpectsText   = "expects_text"
	ReasonActive        = "session_active"
	ReasonBadFrequency  = "bad_frequency"
	ReasonEmptyCatalog  = "empty_catalog"
)

// Result is what Handle decided. A nil Record removes the session.
type Result struct {
	Record  *Record
	Effects []Effect
	Timer   TimerDirective
	Outcome Outcome
	Reason  string
}

type Settings struct {
	// MultiVote allows Start to replace an unfinished session.
	MultiVote        bool
	DefaultFrequency time.Duration
}

// fsm event names
const (
	fsmStart   = "start"
	fsmDeliver = "deliver"
	fsmFinish  = "finish"
	fsmAnswer  = "answer"
	fsmAccept  = "accept"
	fsmConfirm = "confirm"
	fsmReask   = "reask"
	fsmCancel  = "cancel"
)

var transitions = fsm.Events{
	{Name: fsmStart, Src: []string{string(PhaseNone), string(PhaseCompleted), string(PhaseCancelled)}, Dst: string(PhaseScheduled)},
	{Name: fsmDeliver, Src: []string{string(PhaseScheduled)}, Dst: string(PhaseAwaitingAnswer)},
	{Name: fsmFinish, Src: []string{string(PhaseScheduled)}, Dst: string(PhaseCompleted)},
	{Name: fsmAnswer, Src: []string{string(PhaseAwaitingAnswer)}, Dst: string(PhaseAwaitingConfirmation)},
	{Name: fsmAccept, Src: []string{string(PhaseAwaitingAnswer)}, Dst: string(PhaseScheduled)},
	{Name: fsmConfirm, Src: []string{string(PhaseAwaitingConfirmation)}, Dst: string(PhaseScheduled)},
	{Name: fsmReask, Src: []string{string(PhaseAwaitingConfirmation)}, Dst: string(PhaseScheduled)},
	{Name: fsmCancel, Src: []string{string(PhaseScheduled), string(PhaseAwaitingAnswer), string(PhaseAwaitingConfirmation)}, Dst: string(PhaseCancelled)},
}

// transition moves rec through the phase table. It reports false when the
// event is not valid in the current phase.
func transition(from Phase, event string) (Phase, bool) {
	m := fsm.NewFSM(string(from), transitions, nil)
	if err := m.Event(context.Background(), event); err != nil {
		var noop fsm.NoTransitionError
		if errors.As(err, &noop) {
			return from, true
		}
		return from, false
	}
	return Phase(m.Current()), true
}

// CanTransition reports whether event is accepted in phase.
func CanTransition(from Phase, event string) bool {
	return fsm.NewFSM(string(from), transitions, nil).Can(event)
}

// Handle applies ev to rec (nil when the user has no session). It never
// mutates rec; the returned Record is a fresh copy.
func Handle(rec *Record, cat *Catalog, ev Event, set Settings) Result {
	now := ev.Now
	if now.IsZero() {
		now = time.Now()
	}
	switch ev.Kind {
	case EventStart:
		return handleStart(rec, cat, ev, set, now)
	case EventTick:
		return handleTick(rec, now)
	case EventAnswer:
		return handleAnswer(rec, ev, now)
	case EventConfirm:
		return handleConfirm(rec, ev, now)
	case EventCancel:
		return handleCancel(rec, ev)
	case EventSetFrequency:
		return handleSetFrequency(rec, ev, now)
	}
	return ignored(rec, ReasonStale)
}

func ignored(rec *Record, reason string) Result {
	return Result{Record: rec, Timer: keepTimer(), Outcome: Ignored, Reason: reason}
}

func header(r *Record) Header {
	return Header{Session: r.SessionID, Locale: r.Locale}
}

func handleStart(rec *Record, cat *Catalog, ev Event, set Settings, now time.Time) Result {
	if rec.Active() && !set.MultiVote {
		return Result{Record: rec, Timer: keepTimer(), Outcome: Rejected, Reason: ReasonActive}
	}
	if cat.Len() == 0 {
		return Result{Record: rec, Timer: keepTimer(), Outcome: Rejected, Reason: ReasonEmptyCatalog}
	}
	freq := ev.Frequency
	if freq <= 0 {
		freq = set.DefaultFrequency
	}
	if freq <= 0 {
		return Result{Record: rec, Timer: keepTimer(), Outcome: Rejected, Reason: ReasonBadFrequency}
	}

	// a replaced session starts over from the empty phase
	phase, _ := transition(PhaseNone, fsmStart)
	next := &Record{
		SessionID:       ev.Session,
		SurveyID:        cat.SurveyID,
		Locale:          ev.Locale,
		Seed:            ev.Seed,
		Frequency:       freq,
		Phase:           phase,
		ConfirmRequired: true,
		Answers:         map[string]string{},
		StartedAt:       now,
		UpdatedAt:       now,
		Catalog:         cat,
	}
	if rec != nil && next.Locale == "" {
		next.Locale = rec.Locale
	}
	return Result{
		Record:  next,
		Effects: []Effect{Welcome{Header: header(next), Total: cat.Len()}},
		Timer:   armTimer(freq),
		Outcome: Applied,
	}
}

func handleTick(rec *Record, now time.Time) Result {
	if rec == nil {
		return ignored(nil, ReasonNoSession)
	}
	next := rec.Clone()
	next.UpdatedAt = now

	if q, ok := next.Catalog.At(next.Index); ok {
		phase, ok := transition(next.Phase, fsmDeliver)
		if !ok {
			return ignored(rec, ReasonStale)
		}
		next.Phase = phase
		return Result{
			Record: next,
			Effects: []Effect{SendQuestion{
				Header:   header(next),
				Index:    next.Index,
				Total:    next.Catalog.Len(),
				Question: q,
			}},
			Timer:   keepTimer(),
			Outcome: Applied,
		}
	}

	phase, ok := transition(next.Phase, fsmFinish)
	if !ok {
		return ignored(rec, ReasonStale)
	}
	next.Phase = phase
	next.Completed = true
	next.PendingConfirmation = false
	return Result{
		Record: next,
		Effects: []Effect{
			SendCompletion{Header: header(next)},
			SubmitResponse{Header: header(next), SurveyID: next.SurveyID, Seed: next.Seed, Answers: next.Clone().Answers},
		},
		Timer:   cancelTimer(),
		Outcome: Applied,
	}
}

func handleAnswer(rec *Record, ev Event, now time.Time) Result {
	if rec == nil {
		return ignored(nil, ReasonNoSession)
	}
	if rec.Phase != PhaseAwaitingAnswer {
		return ignored(rec, ReasonStale)
	}
	if ev.QuestionIndex != AnyQuestion && ev.QuestionIndex != rec.Index {
		return ignored(rec, ReasonWrongQuestion)
	}
	q, ok := rec.Catalog.At(rec.Index)
	if !ok {
		return ignored(rec, ReasonStale)
	}
	if q.HasOptions() && !ev.Choice {
		return ignored(rec, ReasonExpectsChoice)
	}
	if !q.HasOptions() && ev.Choice {
		return ignored(rec, ReasonExpectsText)
	}

	label, found := ev.Value, true
	if ev.Choice {
		label, found = q.Label(ev.Value)
	}

	next := rec.Clone()
	next.UpdatedAt = now
	next.Answers[q.Code] = ev.Value
	effects := []Effect{ShowAnswer{
		Header:    header(next),
		MessageID: ev.MessageID,
		Question:  q,
		Value:     ev.Value,
		Label:     label,
		Found:     found,
	}}

	if next.ConfirmRequired {
		next.Phase, _ = transition(next.Phase, fsmAnswer)
		next.PendingConfirmation = true
		effects = append(effects, SendConfirmationPrompt{Header: header(next), Index: next.Index})
		return Result{Record: next, Effects: effects, Timer: keepTimer(), Outcome: Applied}
	}

	// the re-asked answer is taken without a second confirmation
	next.Phase, _ = transition(next.Phase, fsmAccept)
	next.ConfirmRequired = true
	next.Index++
	return Result{Record: next, Effects: effects, Timer: armTimer(next.Frequency), Outcome: Applied}
}

func handleConfirm(rec *Record, ev Event, now time.Time) Result {
	if rec == nil {
		return ignored(nil, ReasonNoSession)
	}
	if rec.Phase != PhaseAwaitingConfirmation || !rec.PendingConfirmation {
		return ignored(rec, ReasonStale)
	}
	if ev.QuestionIndex != AnyQuestion && ev.QuestionIndex != rec.Index {
		return ignored(rec, ReasonWrongQuestion)
	}

	next := rec.Clone()
	next.UpdatedAt = now
	next.PendingConfirmation = false
	effects := []Effect{CloseConfirmation{Header: header(next), MessageID: ev.MessageID, Accepted: ev.Yes}}

	if ev.Yes {
		next.Phase, _ = transition(next.Phase, fsmConfirm)
		next.Index++
		return Result{Record: next, Effects: effects, Timer: armTimer(next.Frequency), Outcome: Applied}
	}

	next.Phase, _ = transition(next.Phase, fsmReask)
	next.ConfirmRequired = false
	return Result{Record: next, Effects: effects, Timer: armTimer(0), Outcome: Applied}
}

func handleCancel(rec *Record, ev Event) Result {
	if !rec.Active() {
		return ignored(rec, ReasonNoSession)
	}
	if _, ok := transition(rec.Phase, fsmCancel); !ok {
		return ignored(rec, ReasonStale)
	}
	return Result{
		Record:  nil,
		Effects: []Effect{SendFarewell{Header: header(rec), Reason: ev.Reason}},
		Timer:   cancelTimer(),
		Outcome: Applied,
	}
}

func handleSetFrequency(rec *Record, ev Event, now time.Time) Result {
	if !rec.Active() {
		return ignored(rec, ReasonNoSession)
	}
	if ev.Frequency <= 0 {
		return Result{Record: rec, Timer: keepTimer(), Outcome: Rejected, Reason: ReasonBadFrequency}
	}
	next := rec.Clone()
	next.UpdatedAt = now
	next.Frequency = ev.Frequency
	timer := keepTimer()
	// a pending re-ask stays due immediately
	if next.Phase == PhaseScheduled && next.ConfirmRequired {
		timer = armTimer(next.Frequency)
	}
	return Result{
		Record:  next,
		Effects: []Effect{FrequencyChanged{Header: header(next), Frequency: next.Frequency}},
		Timer:   timer,
		Outcome: Applied,
	}
}
