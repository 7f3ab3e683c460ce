// kds-consumer is a kitchen display feed: it tails the ledger event topic
// and prints line activity per cook station. Delivery is at-least-once, so
// it remembers recent event ids and drops redeliveries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"pos-ledger/internal/config"
	"pos-ledger/internal/kafka"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
)

// dedupWindow caps how many event ids are remembered before old ones are
// evicted.
const dedupWindow = 10000

type dedup struct {
	mu    sync.Mutex
	seen  map[string]bool
	order []string
}

func newDedup() *dedup {
	return &dedup{seen: make(map[string]bool)}
}

// Seen reports whether the event id was already handled and records it.
func (d *dedup) Seen(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[eventID] {
		return true
	}
	d.seen[eventID] = true
	d.order = append(d.order, eventID)
	if len(d.order) > dedupWindow {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return false
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	log := logger.NewLogger()
	defer log.Close()
	cfg := config.Load()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.LedgerEvents, cfg.Kafka.GroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	seen := newDedup()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("KAFKA", "Shutdown signal received")
		cancel()
	}()

	log.Info("KAFKA", "KDS consumer tailing "+cfg.Kafka.Topics.LedgerEvents)
	consumer.Start(ctx, func(event models.EventMessage) {
		if seen.Seen(event.EventID) {
			log.Debug("KAFKA", "dropping redelivered event "+event.EventID)
			return
		}

		switch event.Type {
		case models.EventLineQueued, models.EventLineCooking, models.EventLineReady,
			models.EventLineServed, models.EventLineCanceled:
			log.LogKitchen(event.Type, event.LineID, fmt.Sprintf("check %s: %s", event.CheckID, event.Payload))
		case models.EventCheckOpened, models.EventCheckClosed, models.EventCheckVoided:
			log.LogCheck(event.Type, event.CheckID, event.Payload)
		default:
			log.Info("KAFKA", fmt.Sprintf("%s check %s", event.Type, event.CheckID))
		}
	})

	log.Info("KAFKA", "KDS consumer stopped")
}
