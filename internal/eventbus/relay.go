package eventbus

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"lumina/internal/config"
)

// KafkaRelay mirrors every bus emission onto a Kafka topic for
// out-of-process log consumers. It is an observability tap, not the
// bus's transport: subscribers on this process's Bus are unaffected
// if the relay or the broker is unavailable. Grounded on
// internal/orchestrator/kafka.go's Writer usage.
type KafkaRelay struct {
	writer *kafka.Writer
	log    zerolog.Logger
	subID  SubscriptionID
}

// NewKafkaRelay returns nil when cfg.Enabled is false.
func NewKafkaRelay(cfg config.KafkaConfig, log zerolog.Logger) *KafkaRelay {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return nil
	}
	return &KafkaRelay{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
			Async:    true,
		},
		log: log,
	}
}

// Attach subscribes the relay to every bus event. Safe to call once.
func (r *KafkaRelay) Attach(bus *Bus) {
	if r == nil {
		return
	}
	r.subID = bus.Subscribe("*", r.onEvent)
}

// Detach unsubscribes and closes the Kafka writer.
func (r *KafkaRelay) Detach(bus *Bus) {
	if r == nil {
		return
	}
	bus.Unsubscribe(r.subID)
	if err := r.writer.Close(); err != nil {
		r.log.Warn().Err(err).Msg("eventbus: kafka relay close failed")
	}
}

func (r *KafkaRelay) onEvent(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Type),
		Value: payload,
	})
}
