package survey

import (
	"testing"
	"time"
)

func testCatalog() *Catalog {
	return &Catalog{
		SurveyID: 123,
		Questions: []QuestionDescriptor{
			{ID: 1, GroupID: 10, Code: "123X10X1", Text: "Favourite colour?", Kind: KindChoice, Options: []Option{{Key: "A1", Label: "Red"}, {Key: "A2", Label: "Blue"}}},
			{ID: 2, GroupID: 10, Code: "123X10X2", Text: "Where do you live?", Kind: KindAddress},
		},
	}
}

func started(t *testing.T, cat *Catalog, freq time.Duration) *Record {
	t.Helper()
	res := Handle(nil, cat, Event{Kind: EventStart, Session: 7, SurveyID: cat.SurveyID, Frequency: freq, Seed: "seed"}, Settings{})
	if res.Outcome != Applied {
		t.Fatalf("start outcome = %v (%s)", res.Outcome, res.Reason)
	}
	return res.Record
}

func TestStartArmsTimerAndWelcomes(t *testing.T) {
	t.Parallel()
	cat := testCatalog()
	res := Handle(nil, cat, Event{Kind: EventStart, Session: 7, Frequency: 2 * time.Second}, Settings{})
	if res.Outcome != Applied {
		t.Fatalf("Outcome = %v, want applied", res.Outcome)
	}
	if res.Timer.Op != TimerArm || res.Timer.Delay != 2*time.Second {
		t.Fatalf("Timer = %+v, want arm 2s", res.Timer)
	}
	rec := res.Record
	if rec.Index != 0 || rec.Phase != PhaseScheduled || !rec.ConfirmRequired || rec.SessionID != 7 {
		t.Fatalf("record = %+v", rec)
	}
	if len(res.Effects) != 1 {
		t.Fatalf("effects = %d, want 1", len(res.Effects))
	}
	if _, ok := res.Effects[0].(Welcome); !ok {
		t.Fatalf("effect = %T, want Welcome", res.Effects[0])
	}
}

func TestStartRejectedWhileActive(t *testing.T) {
	t.Parallel()
	cat := testCatalog()
	rec := started(t, cat, time.Second)

	res := Handle(rec, cat, Start(cat.SurveyID, time.Second), Settings{})
	if res.Outcome != Rejected || res.Reason != ReasonActive {
		t.Fatalf("Outcome = %v/%s, want rejected/%s", res.Outcome, res.Reason, ReasonActive)
	}
	if len(res.Effects) != 0 || res.Record != rec {
		t.Fatal("rejected start must not change anything")
	}

	res = Handle(rec, cat, Start(cat.SurveyID, time.Second), Settings{MultiVote: true})
	if res.Outcome != Applied || res.Record == rec {
		t.Fatalf("multi-vote start outcome = %v", res.Outcome)
	}
}

func TestStartFallsBackToDefaultFrequency(t *testing.T) {
	t.Parallel()
	res := Handle(nil, testCatalog(), Start(123, 0), Settings{DefaultFrequency: time.Hour})
	if res.Record.Frequency != time.Hour {
		t.Fatalf("Frequency = %v, want 1h", res.Record.Frequency)
	}
	res = Handle(nil, testCatalog(), Start(123, 0), Settings{})
	if res.Outcome != Rejected || res.Reason != ReasonBadFrequency {
		t.Fatalf("Outcome = %v/%s", res.Outcome, res.Reason)
	}
	res = Handle(nil, &Catalog{SurveyID: 1}, Start(1, time.Second), Settings{})
	if res.Reason != ReasonEmptyCatalog {
		t.Fatalf("Reason = %s, want %s", res.Reason, ReasonEmptyCatalog)
	}
}

func TestFullWalkWithReask(t *testing.T) {
	t.Parallel()
	cat := testCatalog()
	rec := started(t, cat, 2*time.Second)

	res := Handle(rec, cat, Tick(), Settings{})
	q, ok := res.Effects[0].(SendQuestion)
	if !ok || q.Index != 0 || q.Question.Code != "123X10X1" {
		t.Fatalf("tick effect = %#v", res.Effects[0])
	}
	rec = res.Record

	res = Handle(rec, cat, ChoiceAnswer(0, "A1", 55), Settings{})
	if len(res.Effects) != 2 {
		t.Fatalf("answer effects = %d, want 2", len(res.Effects))
	}
	show := res.Effects[0].(ShowAnswer)
	if show.Label != "Red" || !show.Found || show.MessageID != 55 {
		t.Fatalf("ShowAnswer = %+v", show)
	}
	if _, ok := res.Effects[1].(SendConfirmationPrompt); !ok {
		t.Fatalf("second effect = %T", res.Effects[1])
	}
	rec = res.Record
	if !rec.PendingConfirmation || rec.Phase != PhaseAwaitingConfirmation {
		t.Fatalf("record = %+v", rec)
	}

	res = Handle(rec, cat, Confirm(0, true, 56), Settings{})
	if res.Timer.Op != TimerArm || res.Timer.Delay != 2*time.Second {
		t.Fatalf("yes timer = %+v", res.Timer)
	}
	rec = res.Record
	if rec.Index != 1 || rec.PendingConfirmation {
		t.Fatalf("after yes = %+v", rec)
	}

	rec = Handle(rec, cat, Tick(), Settings{}).Record
	rec = Handle(rec, cat, TextAnswer("Stephansplatz 1, 1010"), Settings{}).Record

	res = Handle(rec, cat, Confirm(1, false, 57), Settings{})
	if res.Timer.Op != TimerArm || res.Timer.Delay != 0 {
		t.Fatalf("no timer = %+v, want arm 0", res.Timer)
	}
	rec = res.Record
	if rec.Index != 1 || rec.ConfirmRequired {
		t.Fatalf("after no = %+v", rec)
	}

	res = Handle(rec, cat, Tick(), Settings{})
	if q := res.Effects[0].(SendQuestion); q.Index != 1 {
		t.Fatalf("re-ask index = %d, want 1", q.Index)
	}
	rec = res.Record

	res = Handle(rec, cat, TextAnswer("Graben 5, 1010"), Settings{})
	if len(res.Effects) != 1 {
		t.Fatalf("re-answer effects = %d, want 1 (no prompt)", len(res.Effects))
	}
	if res.Timer.Op != TimerArm || res.Timer.Delay != 2*time.Second {
		t.Fatalf("re-answer timer = %+v", res.Timer)
	}
	rec = res.Record
	if rec.Index != 2 || !rec.ConfirmRequired {
		t.Fatalf("after re-answer = %+v", rec)
	}

	res = Handle(rec, cat, Tick(), Settings{})
	if res.Timer.Op != TimerCancel || !res.Record.Completed {
		t.Fatalf("final tick = %+v", res)
	}
	sub, ok := res.Effects[1].(SubmitResponse)
	if !ok {
		t.Fatalf("effect = %T, want SubmitResponse", res.Effects[1])
	}
	if sub.Answers["123X10X1"] != "A1" || sub.Answers["123X10X2"] != "Graben 5, 1010" || len(sub.Answers) != 2 {
		t.Fatalf("answers = %v", sub.Answers)
	}
	if sub.Seed != "seed" || sub.SurveyID != 123 {
		t.Fatalf("submit = %+v", sub)
	}

	if Handle(res.Record, cat, Tick(), Settings{}).Outcome != Ignored {
		t.Fatal("tick after completion must be ignored")
	}
}

func TestInvalidAnswerKeyIsEchoed(t *testing.T) {
	t.Parallel()
	cat := testCatalog()
	rec := Handle(started(t, cat, time.Second), cat, Tick(), Settings{}).Record
	res := Handle(rec, cat, ChoiceAnswer(0, "A9", 0), Settings{})
	if res.Outcome != Applied {
		t.Fatalf("Outcome = %v", res.Outcome)
	}
	show := res.Effects[0].(ShowAnswer)
	if show.Found || show.Value != "A9" {
		t.Fatalf("ShowAnswer = %+v", show)
	}
	if res.Record.Answers["123X10X1"] != "A9" {
		t.Fatalf("answers = %v", res.Record.Answers)
	}
}

func TestStaleInputsIgnored(t *testing.T) {
	t.Parallel()
	cat := testCatalog()
	scheduled := started(t, cat, time.Second)
	asking := Handle(scheduled, cat, Tick(), Settings{}).Record

	tests := []struct {
		name   string
		rec    *Record
		ev     Event
		reason string
	}{
		{name: "answer without session", rec: nil, ev: TextAnswer("x"), reason: ReasonNoSession},
		{name: "answer before question", rec: scheduled, ev: ChoiceAnswer(0, "A1", 0), reason: ReasonStale},
		{name: "answer for old question", rec: asking, ev: ChoiceAnswer(3, "A1", 0), reason: ReasonWrongQuestion},
		{name: "text for choice question", rec: asking, ev: TextAnswer("red"), reason: ReasonExpectsChoice},
		{name: "confirm without prompt", rec: asking, ev: Confirm(0, true, 0), reason: ReasonStale},
		{name: "tick while waiting", rec: asking, ev: Tick(), reason: ReasonStale},
		{name: "cancel without session", rec: nil, ev: Cancel(ReasonStop), reason: ReasonNoSession},
		{name: "frequency without session", rec: nil, ev: SetFrequency(time.Second), reason: ReasonNoSession},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := Handle(tt.rec, cat, tt.ev, Settings{})
			if res.Outcome != Ignored || res.Reason != tt.reason {
				t.Fatalf("Outcome = %v/%s, want ignored/%s", res.Outcome, res.Reason, tt.reason)
			}
			if len(res.Effects) != 0 || res.Timer.Op != TimerKeep {
				t.Fatalf("ignored result carried effects or timer: %+v", res)
			}
			if res.Record != tt.rec {
				t.Fatal("ignored result replaced the record")
			}
		})
	}
}

func TestCancelRemovesSession(t *testing.T) {
	t.Parallel()
	cat := testCatalog()
	rec := started(t, cat, time.Second)
	res := Handle(rec, cat, Cancel(ReasonStop), Settings{})
	if res.Record != nil || res.Timer.Op != TimerCancel {
		t.Fatalf("cancel result = %+v", res)
	}
	bye, ok := res.Effects[0].(SendFarewell)
	if !ok || bye.Reason != ReasonStop {
		t.Fatalf("effect = %#v", res.Effects[0])
	}
}

func TestSetFrequencyReschedulesPendingTick(t *testing.T) {
	t.Parallel()
	cat := testCatalog()
	rec := started(t, cat, time.Hour)
	res := Handle(rec, cat, SetFrequency(10*time.Second), Settings{})
	if res.Record.Frequency != 10*time.Second {
		t.Fatalf("Frequency = %v", res.Record.Frequency)
	}
	if res.Timer.Op != TimerArm || res.Timer.Delay != 10*time.Second {
		t.Fatalf("Timer = %+v", res.Timer)
	}

	asking := Handle(res.Record, cat, Tick(), Settings{}).Record
	res = Handle(asking, cat, SetFrequency(time.Minute), Settings{})
	if res.Timer.Op != TimerKeep {
		t.Fatalf("Timer while waiting for answer = %+v, want keep", res.Timer)
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()
	if !CanTransition(PhaseScheduled, fsmDeliver) {
		t.Fatal("scheduled should accept deliver")
	}
	if CanTransition(PhaseCompleted, fsmCancel) {
		t.Fatal("completed should not accept cancel")
	}
	if got, ok := transition(PhaseAwaitingConfirmation, fsmReask); !ok || got != PhaseScheduled {
		t.Fatalf("reask = %v/%v", got, ok)
	}
}
