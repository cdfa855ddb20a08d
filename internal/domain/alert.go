package domain

// AlertVariant sets the severity a UI uses to render an alert.
type AlertVariant string

const (
	AlertDanger  AlertVariant = "danger"
	AlertWarning AlertVariant = "warning"
	AlertInfo    AlertVariant = "info"
)

// Alert is a transient notice surfaced to the user. Alerts are never
// persisted and never become part of a conversation.
type Alert struct {
	Title   string       `json:"title"`
	Message string       `json:"message"`
	Variant AlertVariant `json:"variant"`
}
