package session

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// NewConversationID returns a random UUID, or a hex timestamp followed by
// two random hex blocks when no random UUID can be produced.
func NewConversationID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fallbackID(time.Now())
	}
	return id.String()
}

func fallbackID(now time.Time) string {
	return fmt.Sprintf("%x-%08x-%08x", now.UnixMilli(), rand.Uint32(), rand.Uint32())
}
