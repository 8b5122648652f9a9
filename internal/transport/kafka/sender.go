// Package kafka publishes stock transitions as JSON records to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"stockwatch/internal/notifier"
	logx "stockwatch/pkg/logx"
)

type Config struct {
	Brokers           []string
	Topic             string
	CreateTopic       bool
	Partitions        int32
	ReplicationFactor int16
}

// Event is the record value. Records are keyed by product id so one
// product's alerts stay ordered within a partition.
type Event struct {
	EventID   string    `json:"event_id"`
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	Previous  string    `json:"previous"`
	InStock   bool      `json:"in_stock"`
	Quantity  *int64    `json:"quantity,omitempty"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

type Sender struct {
	cl    *kgo.Client
	topic string
	log   logx.Logger
	now   func() time.Time
}

// New connects lazily; brokers are first contacted on the first produce
// (or on topic creation when CreateTopic is set).
func New(ctx context.Context, cfg Config, log logx.Logger) (*Sender, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	topic := strings.TrimSpace(cfg.Topic)
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "kafka"), logx.String("topic", topic))

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("stockwatch"),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	if cfg.CreateTopic {
		if err := ensureTopic(ctx, cl, topic, cfg.Partitions, cfg.ReplicationFactor); err != nil {
			cl.Close()
			return nil, err
		}
		log.Info("kafka topic ready", logx.Int("partitions", int(max(cfg.Partitions, 1))))
	}

	return &Sender{cl: cl, topic: topic, log: log, now: time.Now}, nil
}

func ensureTopic(ctx context.Context, cl *kgo.Client, topic string, partitions int32, rf int16) error {
	if partitions <= 0 {
		partitions = 1
	}
	if rf <= 0 {
		rf = 1
	}
	resps, err := kadm.NewClient(cl).CreateTopics(ctx, partitions, rf, nil, topic)
	if err != nil {
		return fmt.Errorf("kafka create topic %q: %w", topic, err)
	}
	for _, r := range resps {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka create topic %q: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (s *Sender) Name() string { return "kafka" }

// Send blocks until the broker acknowledges the record or ctx ends.
func (s *Sender) Send(ctx context.Context, msg notifier.Message) error {
	rec, err := s.record(msg)
	if err != nil {
		return err
	}
	if err := s.cl.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}
	s.log.Debug("record produced", logx.String("product_id", msg.Transition.ProductID))
	return nil
}

func (s *Sender) record(msg notifier.Message) (*kgo.Record, error) {
	t := msg.Transition
	val, err := json.Marshal(Event{
		EventID:   uuid.NewString(),
		ProductID: t.ProductID,
		Name:      t.Name,
		Previous:  t.Previous.String(),
		InStock:   t.NewInStock,
		Quantity:  t.Quantity,
		Text:      msg.Text,
		At:        s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("kafka encode: %w", err)
	}
	return &kgo.Record{
		Topic: s.topic,
		Key:   []byte(t.ProductID),
		Value: val,
		Headers: []kgo.RecordHeader{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}

// Close releases the client and its broker connections.
func (s *Sender) Close() {
	if s != nil && s.cl != nil {
		s.cl.Close()
	}
}
