package survey

import "time"

// Effect is an outbound action produced by the state machine.
// Effects of one session must be executed in the order produced.
type Effect interface {
	Target() Header
}

// Header addresses an effect to a session and its display language.
type Header struct {
	Session SessionID
	Locale  string
}

func (h Header) Target() Header { return h }

type Welcome struct {
	Header
	Total int
}

type SendQuestion struct {
	Header
	Index    int
	Total    int
	Question QuestionDescriptor
}

// ShowAnswer echoes the recorded answer. MessageID is the question message
// to edit, or 0 to send a new message.
type ShowAnswer struct {
	Header
	MessageID int
	Question  QuestionDescriptor
	Value     string
	Label     string
	Found     bool
}

type SendConfirmationPrompt struct {
	Header
	Index int
}

// CloseConfirmation removes the yes/no keyboard from the prompt message.
type CloseConfirmation struct {
	Header
	MessageID int
	Accepted  bool
}

type SendCompletion struct {
	Header
}

type SubmitResponse struct {
	Header
	SurveyID int64
	Seed     string
	Answers  map[string]string
}

type SendFarewell struct {
	Header
	Reason string
}

type FrequencyChanged struct {
	Header
	Frequency time.Duration
}

// EffectSink accepts effects for asynchronous execution. Submit must not
// block on I/O; it is called while the session is locked.
type EffectSink interface {
	Submit(effects []Effect)
}

type TimerOp int

const (
	TimerKeep TimerOp = iota
	TimerArm
	TimerCancel
)

type TimerDirective struct {
	Op    TimerOp
	Delay time.Duration
}

func keepTimer() TimerDirective               { return TimerDirective{Op: TimerKeep} }
func armTimer(d time.Duration) TimerDirective { return TimerDirective{Op: TimerArm, Delay: d} }
func cancelTimer() TimerDirective             { return TimerDirective{Op: TimerCancel} }
