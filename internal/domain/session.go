package domain

import "time"

// BrowserSession tracks one browser tab of an anonymous device.
type BrowserSession struct {
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Key returns the identifier used to scope per-session state.
func (s *BrowserSession) Key() string {
	return SessionKey(s.UserID, s.SessionID)
}

// SessionKey joins a device id and a tab session id.
func SessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Expired reports whether the session has been idle longer than ttl.
func (s *BrowserSession) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastSeenAt) > ttl
}
