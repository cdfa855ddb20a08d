package session

import "github.com/ashureev/meshchat/internal/domain"

// EventType names a state change of the manager.
type EventType string

const (
	EventMessages     EventType = "messages"
	EventAlert        EventType = "alert"
	EventLoading      EventType = "loading"
	EventNavigate     EventType = "navigate"
	EventTurnComplete EventType = "turn_complete"
	EventReset        EventType = "reset"
)

// Event describes one state change. Only the fields relevant to Type are set.
type Event struct {
	Type           EventType         `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Messages       []*domain.Message `json:"messages,omitempty"`
	Alert          *domain.Alert     `json:"alert,omitempty"`
	Loading        bool              `json:"loading"`
	Path           string            `json:"path,omitempty"`
}

// Observer receives state changes. Notify is usually called while the
// manager holds its lock, so implementations must not block or call back
// into the manager.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Notify calls f(e).
func (f ObserverFunc) Notify(e Event) { f(e) }

// Navigator performs the navigation side effect of an auto-navigated answer.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

// Navigate calls f(path).
func (f NavigatorFunc) Navigate(path string) { f(path) }

type nopObserver struct{}

func (nopObserver) Notify(Event) {}

type nopNavigator struct{}

func (nopNavigator) Navigate(string) {}
