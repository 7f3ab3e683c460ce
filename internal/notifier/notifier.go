// Package notifier fans committed ledger events out to subscribers. Publish
// is called by services strictly after their transaction commits, so a
// subscriber can never observe a state that might still roll back.
package notifier

import (
	"fmt"

	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
)

// KafkaPublisher is the external transport. Messages are keyed by check id,
// so Kafka's per-key partition ordering preserves per-check order for remote
// kitchen displays.
type KafkaPublisher interface {
	PublishEvent(event models.EventMessage) error
}

// Notifier delivers each event to local SSE subscribers and to Kafka.
// Delivery is at-least-once; consumers dedup on EventID.
type Notifier struct {
	Emitter *Emitter
	Kafka   KafkaPublisher
	Logger  *logger.Logger
}

func New(emitter *Emitter, kafka KafkaPublisher, log *logger.Logger) *Notifier {
	return &Notifier{
		Emitter: emitter,
		Kafka:   kafka,
		Logger:  log,
	}
}

// Publish broadcasts one committed event. A Kafka failure is logged, not
// returned: the ledger row is already committed and the event log allows
// consumers to resync, so the operation must not fail after the fact.
func (n *Notifier) Publish(event models.EventMessage) {
	n.Emitter.Emit(event)

	if n.Kafka != nil {
		if err := n.Kafka.PublishEvent(event); err != nil {
			n.Logger.Error("KAFKA", fmt.Sprintf("publish %s for check %s failed: %v",
				event.Type, event.CheckID, err))
		}
	}
}
