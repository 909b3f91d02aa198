package notify

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"processline/internal/config"
)

// MessageWriter is the subset of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications keyed by process id so that all
// notifications of one process land on the same partition.
type KafkaNotifier struct {
	Writer MessageWriter
}

func NewKafkaNotifier(cfg config.KafkaConfig) *KafkaNotifier {
	return &KafkaNotifier{Writer: &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return k.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.ProcessID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
		},
	})
}

func (k *KafkaNotifier) Close() error {
	return k.Writer.Close()
}
