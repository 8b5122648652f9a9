//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kgo"

	"stockwatch/internal/notifier"
	"stockwatch/internal/stock"
	"stockwatch/internal/transport/kafka"
	logx "stockwatch/pkg/logx"
)

type KafkaSenderSuite struct {
	suite.Suite
	container *redpanda.Container
	broker    string
}

func TestKafkaSenderSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSenderSuite))
}

func (s *KafkaSenderSuite) SetupSuite() {
	ctx := context.Background()
	c, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v23.3.3")
	s.Require().NoError(err)
	s.container = c
	s.broker, err = c.KafkaSeedBroker(ctx)
	s.Require().NoError(err)
}

func (s *KafkaSenderSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *KafkaSenderSuite) TestSendDeliversKeyedRecord() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sender, err := kafka.New(ctx, kafka.Config{
		Brokers:     []string{s.broker},
		Topic:       "stock-transitions",
		CreateTopic: true,
		Partitions:  1,
	}, logx.Nop())
	s.Require().NoError(err)
	defer sender.Close()

	qty := int64(3)
	tr := stock.StockTransition{ProductID: "p1", Name: "Paneer", NewInStock: true, Quantity: &qty}
	s.Require().NoError(sender.Send(ctx, notifier.Message{Text: notifier.FormatMessage(tr), Transition: tr}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker),
		kgo.ConsumeTopics("stock-transitions"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var got []*kgo.Record
	for len(got) == 0 && ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		fetches.EachRecord(func(r *kgo.Record) { got = append(got, r) })
	}
	s.Require().Len(got, 1)
	s.Equal("p1", string(got[0].Key))

	var ev kafka.Event
	s.Require().NoError(json.Unmarshal(got[0].Value, &ev))
	s.Equal("Paneer", ev.Name)
	s.Equal("unknown", ev.Previous)
	s.Require().NotNil(ev.Quantity)
	s.Equal(int64(3), *ev.Quantity)
}

func (s *KafkaSenderSuite) TestCreateTopicIsIdempotent() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		sender, err := kafka.New(ctx, kafka.Config{Brokers: []string{s.broker}, Topic: "idempotent", CreateTopic: true}, logx.Nop())
		s.Require().NoError(err)
		sender.Close()
	}
}
