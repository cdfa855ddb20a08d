// Package domain contains core domain types for the chat session service.
package domain

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks a message typed by the console user.
	RoleUser Role = "user"
	// RoleBot marks a message produced by the assistant or synthesized by the service.
	RoleBot Role = "bot"
)

// ActionKind categorizes a suggested follow-up.
type ActionKind string

const (
	// ActionKindNavigation points at a console route.
	ActionKindNavigation ActionKind = "navigation"
	// ActionKindFile carries file content the user may download or inspect.
	ActionKindFile ActionKind = "file"
)

// Action is a suggested follow-up emitted by the bot.
type Action struct {
	Kind     ActionKind `json:"kind"`
	Title    string     `json:"title"`
	Payload  string     `json:"payload"`
	FileName string     `json:"fileName,omitempty"`
}

// IsNavigation reports whether the action targets a console route.
func (a Action) IsNavigation() bool {
	return a.Kind == ActionKindNavigation
}

// ReferencedDocument is a citation returned alongside a bot answer.
type ReferencedDocument struct {
	Link  string `json:"link"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Message is one turn entry of a conversation.
//
// Messages are shared by pointer between the store, the active view and
// persisted snapshots. They must not be mutated after being appended; the
// store replaces a message with a copy when its actions are cleared.
type Message struct {
	Role                Role                 `json:"role"`
	Content             string               `json:"content"`
	Name                string               `json:"name"`
	Avatar              string               `json:"avatar"`
	Timestamp           string               `json:"timestamp"`
	ReferencedDocuments []ReferencedDocument `json:"referencedDocuments"`
	Actions             []Action             `json:"actions,omitempty"`
}

// HasActions reports whether the message carries a non-empty action list.
func (m *Message) HasActions() bool {
	return m != nil && len(m.Actions) > 0
}

// WithoutActions returns a shallow copy with the action list removed.
func (m *Message) WithoutActions() *Message {
	cp := *m
	cp.Actions = nil
	return &cp
}
