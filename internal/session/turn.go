package session

import "github.com/ashureev/meshchat/internal/domain"

// Outcome is how a turn was resolved.
type Outcome int

const (
	// OutcomePending means the turn has not resolved yet.
	OutcomePending Outcome = iota
	// OutcomeAnswered means a bot answer was appended.
	OutcomeAnswered
	// OutcomeNavigated means the answer triggered automatic navigation.
	OutcomeNavigated
	// OutcomeAlert means an alert was raised and nothing was appended.
	OutcomeAlert
	// OutcomeTimeout means the fixed timeout message was appended.
	OutcomeTimeout
	// OutcomeRateLimited means the fixed rate-limit message was appended.
	OutcomeRateLimited
	// OutcomeDropped means the manager was unmounted before the turn resolved.
	OutcomeDropped
)

var outcomeNames = map[Outcome]string{
	OutcomePending:     "pending",
	OutcomeAnswered:    "answered",
	OutcomeNavigated:   "navigated",
	OutcomeAlert:       "alert",
	OutcomeTimeout:     "timeout",
	OutcomeRateLimited: "rate_limited",
	OutcomeDropped:     "dropped",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// Turn tracks one in-flight query.
type Turn struct {
	ConversationID string
	UserMessage    *domain.Message

	done     chan struct{}
	resolved bool // guarded by Manager.mu
	outcome  Outcome
	err      error
}

func newTurn(conversationID string, user *domain.Message) *Turn {
	return &Turn{
		ConversationID: conversationID,
		UserMessage:    user,
		done:           make(chan struct{}),
	}
}

// Done is closed once the turn has resolved.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn resolves and returns its outcome.
func (t *Turn) Wait() Outcome {
	<-t.done
	return t.outcome
}

// Outcome returns the outcome, or OutcomePending while in flight.
func (t *Turn) Outcome() Outcome {
	select {
	case <-t.done:
		return t.outcome
	default:
		return OutcomePending
	}
}

// Err returns the transport error of a failed turn.
func (t *Turn) Err() error {
	<-t.done
	return t.err
}

func (t *Turn) finish(outcome Outcome, err error) {
	t.outcome = outcome
	t.err = err
	close(t.done)
}
