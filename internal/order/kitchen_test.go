package order

import (
	"testing"

	"pos-ledger/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestKitchenTransitions(t *testing.T) {
	allowed := [][2]string{
		{models.LineQueued, models.LineCooking},
		{models.LineQueued, models.LineCanceled},
		{models.LineCooking, models.LineReady},
		{models.LineCooking, models.LineCanceled},
		{models.LineReady, models.LineServed},
		{models.LineReady, models.LineCanceled},
	}
	for _, pair := range allowed {
		assert.True(t, CanTransition(pair[0], pair[1]), "%s -> %s should be allowed", pair[0], pair[1])
	}

	denied := [][2]string{
		{models.LineQueued, models.LineReady},
		{models.LineQueued, models.LineServed},
		{models.LineCooking, models.LineQueued},
		{models.LineReady, models.LineCooking},
		{models.LineServed, models.LineCanceled},
		{models.LineServed, models.LineServed},
		{models.LineCanceled, models.LineQueued},
		{models.LineCanceled, models.LineCooking},
	}
	for _, pair := range denied {
		assert.False(t, CanTransition(pair[0], pair[1]), "%s -> %s should be denied", pair[0], pair[1])
	}
}

func TestKnownStatus(t *testing.T) {
	for _, s := range []string{models.LineQueued, models.LineCooking, models.LineReady, models.LineServed, models.LineCanceled} {
		assert.True(t, KnownStatus(s))
	}
	assert.False(t, KnownStatus("plated"))
	assert.False(t, KnownStatus(""))
}

func TestEventTypeForStatus(t *testing.T) {
	assert.Equal(t, models.EventLineCooking, eventTypeFor(models.LineCooking))
	assert.Equal(t, models.EventLineReady, eventTypeFor(models.LineReady))
	assert.Equal(t, models.EventLineServed, eventTypeFor(models.LineServed))
	assert.Equal(t, models.EventLineCanceled, eventTypeFor(models.LineCanceled))
	assert.Equal(t, models.EventLineQueued, eventTypeFor(models.LineQueued))
}
