package events

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/pkg/errors"
)

// KafkaWriter ships events to a kafka topic in cloudevents structured
// mode.
type KafkaWriter struct {
	producer sarama.SyncProducer
}

func NewKafkaWriter(brokers []string, clientID string) (*KafkaWriter, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kafka producer")
	}

	return &KafkaWriter{producer: producer}, nil
}

func (w *KafkaWriter) Write(_ context.Context, topic string, e cloudevents.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	_, _, err = w.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(e.ID()),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return errors.Wrap(err, "failed to send event")
	}

	return nil
}

func (w *KafkaWriter) Close(_ context.Context) error {
	return w.producer.Close()
}
