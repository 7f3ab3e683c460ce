package order

import "pos-ledger/internal/models"

// transitions is the kitchen workflow: queued -> cooking -> ready -> served,
// with cancellation allowed from any non-terminal state. Served and canceled
// are terminal.
var transitions = map[string]map[string]bool{
	models.LineQueued: {
		models.LineCooking:  true,
		models.LineCanceled: true,
	},
	models.LineCooking: {
		models.LineReady:    true,
		models.LineCanceled: true,
	},
	models.LineReady: {
		models.LineServed:   true,
		models.LineCanceled: true,
	},
	models.LineServed:   {},
	models.LineCanceled: {},
}

// CanTransition reports whether the kitchen workflow allows moving a line
// from one status to another.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// KnownStatus reports whether s is a valid line status at all.
func KnownStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// eventTypeFor maps a line's new status to its audit event type.
func eventTypeFor(status string) string {
	switch status {
	case models.LineCooking:
		return models.EventLineCooking
	case models.LineReady:
		return models.EventLineReady
	case models.LineServed:
		return models.EventLineServed
	case models.LineCanceled:
		return models.EventLineCanceled
	default:
		return models.EventLineQueued
	}
}
