// Package fsm is the turn-taking state machine of one interview session. It is
// a pure transition function: no timers, no I/O. Side effects are returned as
// Actions for the caller to perform.
package fsm

type State string

const (
	Idle          State = "idle"
	Connecting    State = "connecting"
	Ready         State = "ready"
	AISpeaking    State = "ai_speaking"
	UserSpeaking  State = "user_speaking"
	Processing    State = "processing"
	Transitioning State = "transitioning"
	Evaluating    State = "evaluating"
	Completed     State = "completed"
	Error         State = "error"
)

// States lists every state in declaration order.
var States = []State{Idle, Connecting, Ready, AISpeaking, UserSpeaking, Processing, Transitioning, Evaluating, Completed, Error}

type EventType string

const (
	EventConnect           EventType = "CONNECT"
	EventConnected         EventType = "CONNECTED"
	EventError             EventType = "ERROR"
	EventUserSpeechStarted EventType = "USER_SPEECH_STARTED"
	EventUserSpeechEnded   EventType = "USER_SPEECH_ENDED"
	EventAISpeakingStarted EventType = "AI_SPEAKING_STARTED"
	EventAISpeakingEnded   EventType = "AI_SPEAKING_ENDED"
	EventNextQuestion      EventType = "NEXT_QUESTION"
	EventInterviewComplete EventType = "INTERVIEW_COMPLETE"
	EventEvaluationStarted EventType = "EVALUATION_STARTED"
	EventTransitionFailed  EventType = "TRANSITION_FAILED"
	EventQuestionChanged   EventType = "QUESTION_CHANGED"
	EventRetry             EventType = "RETRY"
	EventDisconnect        EventType = "DISCONNECT"
	EventProcessingTimeout EventType = "PROCESSING_TIMEOUT"
)

// Event is one input to the machine. Forced applies to NEXT_QUESTION only and
// bypasses the response guard. QuestionIndex applies to QUESTION_CHANGED.
type Event struct {
	Type          EventType
	Forced        bool
	QuestionIndex int
}

// Context is the extended state carried alongside State.
type Context struct {
	HasUserResponse bool
	QuestionIndex   int
}

type Action string

const (
	LockUserInput         Action = "LOCK_USER_INPUT"
	UnlockUserInput       Action = "UNLOCK_USER_INPUT"
	LockAIOutput          Action = "LOCK_AI_OUTPUT"
	UnlockAIOutput        Action = "UNLOCK_AI_OUTPUT"
	StartProcessingTimer  Action = "START_PROCESSING_TIMER"
	CancelProcessingTimer Action = "CANCEL_PROCESSING_TIMER"
	EnqueueEvaluation     Action = "ENQUEUE_EVALUATION"
)

// AcceptsUserAudio reports whether candidate audio may be forwarded in s.
func AcceptsUserAudio(s State) bool {
	return s == UserSpeaking || s == Ready
}

// AllowsAIOutput reports whether model audio may be delivered in s.
func AllowsAIOutput(s State) bool {
	return s == AISpeaking || s == Processing || s == Ready
}

type key struct {
	from State
	ev   EventType
}

type edge struct {
	to    State
	guard func(Event, Context) bool
}

func hasResponse(e Event, c Context) bool { return e.Forced || c.HasUserResponse }

func forcedOnly(e Event, _ Context) bool { return e.Forced }

var table = map[key]edge{
	{Idle, EventConnect}:         {to: Connecting},
	{Connecting, EventConnected}: {to: Ready},
	{Connecting, EventError}:     {to: Error},

	{Ready, EventUserSpeechStarted}: {to: UserSpeaking},
	{Ready, EventAISpeakingStarted}: {to: AISpeaking},
	{Ready, EventNextQuestion}:      {to: Transitioning, guard: hasResponse},
	{Ready, EventInterviewComplete}: {to: Completed},

	{AISpeaking, EventAISpeakingEnded}: {to: Ready},
	{AISpeaking, EventNextQuestion}:    {to: Transitioning, guard: forcedOnly},

	{UserSpeaking, EventUserSpeechEnded}: {to: Processing},
	{UserSpeaking, EventNextQuestion}:    {to: Transitioning, guard: forcedOnly},

	{Processing, EventAISpeakingStarted}: {to: AISpeaking},
	{Processing, EventProcessingTimeout}: {to: Ready},
	{Processing, EventNextQuestion}:      {to: Transitioning, guard: hasResponse},

	{Transitioning, EventEvaluationStarted}: {to: Evaluating},
	{Transitioning, EventTransitionFailed}:  {to: Error},

	{Evaluating, EventQuestionChanged}:   {to: Ready},
	{Evaluating, EventInterviewComplete}: {to: Completed},
	{Evaluating, EventTransitionFailed}:  {to: Error},

	{Error, EventRetry}:      {to: Connecting},
	{Error, EventDisconnect}: {to: Idle},
}

// Transition applies e to (s, c). When the event is not accepted it returns
// s and c unchanged, no actions and false.
func Transition(s State, e Event, c Context) (State, Context, []Action, bool) {
	ed, ok := table[key{s, e.Type}]
	if !ok || (ed.guard != nil && !ed.guard(e, c)) {
		return s, c, nil, false
	}

	next := c
	switch {
	case s == Connecting && e.Type == EventConnected:
		next.HasUserResponse = false
	case e.Type == EventQuestionChanged:
		next.HasUserResponse = false
		next.QuestionIndex = e.QuestionIndex
	}
	if ed.to == UserSpeaking {
		next.HasUserResponse = true
	}

	var actions []Action
	actions = append(actions, exitActions(s)...)
	actions = append(actions, entryActions(ed.to)...)
	if s == Transitioning && ed.to == Evaluating {
		actions = append(actions, EnqueueEvaluation)
	}
	return ed.to, next, actions, true
}

func entryActions(s State) []Action {
	switch s {
	case AISpeaking:
		return []Action{LockUserInput}
	case UserSpeaking:
		return []Action{LockAIOutput}
	case Processing:
		return []Action{StartProcessingTimer}
	}
	return nil
}

func exitActions(s State) []Action {
	switch s {
	case AISpeaking:
		return []Action{UnlockUserInput}
	case UserSpeaking:
		return []Action{UnlockAIOutput}
	case Processing:
		return []Action{CancelProcessingTimer}
	}
	return nil
}
