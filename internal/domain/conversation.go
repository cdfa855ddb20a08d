package domain

import "time"

const (
	// EmptyPreview is shown for a conversation without a user or bot message.
	EmptyPreview = "<<empty>>"
	// NoResultsText is the placeholder entry returned by an unmatched search.
	NoResultsText = "No results found"
)

// Entry is one row of the conversation history list.
type Entry struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// PreviewText returns the content of the first user or bot message.
func PreviewText(msgs []*Message) string {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == RoleUser || m.Role == RoleBot {
			if m.Content != "" {
				return m.Content
			}
			break
		}
	}
	return EmptyPreview
}

// StoredConversation is a persisted conversation snapshot.
type StoredConversation struct {
	SessionKey     string
	ConversationID string
	MessagesJSON   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
