package survey

import "time"

type EventKind int

const (
	EventStart EventKind = iota + 1
	EventTick
	EventAnswer
	EventConfirm
	EventCancel
	EventSetFrequency
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventTick:
		return "tick"
	case EventAnswer:
		return "answer"
	case EventConfirm:
		return "confirm"
	case EventCancel:
		return "cancel"
	case EventSetFrequency:
		return "set_frequency"
	default:
		return "unknown"
	}
}

// AnyQuestion disables the question index check on answers and confirmations.
const AnyQuestion = -1

// Event is an input to the state machine.
type Event struct {
	Kind    EventKind
	Session SessionID
	Now     time.Time

	// start
	SurveyID int64
	Locale   string
	Seed     string

	// start, set_frequency
	Frequency time.Duration

	// answer, confirm: the question index the input refers to, or AnyQuestion
	QuestionIndex int
	MessageID     int

	// answer
	Value  string
	Choice bool

	// confirm
	Yes bool

	// cancel
	Reason string
}

func Start(surveyID int64, freq time.Duration) Event {
	return Event{Kind: EventStart, SurveyID: surveyID, Frequency: freq}
}

func Tick() Event { return Event{Kind: EventTick} }

// ChoiceAnswer is a button press carrying an option key.
func ChoiceAnswer(questionIndex int, key string, messageID int) Event {
	return Event{Kind: EventAnswer, QuestionIndex: questionIndex, Value: key, Choice: true, MessageID: messageID}
}

// TextAnswer is a typed or inline-selected value.
func TextAnswer(value string) Event {
	return Event{Kind: EventAnswer, QuestionIndex: AnyQuestion, Value: value}
}

func Confirm(questionIndex int, yes bool, messageID int) Event {
	return Event{Kind: EventConfirm, QuestionIndex: questionIndex, Yes: yes, MessageID: messageID}
}

const (
	ReasonCancel = "cancel"
	ReasonStop   = "stop"
)

func Cancel(reason string) Event {
	if reason == "" {
		reason = ReasonCancel
	}
	return Event{Kind: EventCancel, Reason: reason}
}

func SetFrequency(d time.Duration) Event {
	return Event{Kind: EventSetFrequency, Frequency: d}
}
