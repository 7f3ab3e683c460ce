package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID returns a random UUID string, the primary key format for every
// ledger entity.
func NewID() string {
	return uuid.NewString()
}

// NewEventID returns a prefixed, globally unique event id used by consumers
// to drop redeliveries.
func NewEventID() string {
	return fmt.Sprintf("evt_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
}
