package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/flightviz/dronepath/internal/core/domain"
)

// Subscriber reads frames and route events from NATS. It implements
// ports.FrameSubscriber.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber on an existing connection.
func NewSubscriber(conn *nats.Conn) (*Subscriber, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeFrames delivers raw encoded frames until cancel is called.
func (s *Subscriber) SubscribeFrames(handler func(data []byte)) (func(), error) {
	sub, err := s.conn.Subscribe(SubjectFrames, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", SubjectFrames, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// SubscribeRouteEvents consumes the route stream through a durable consumer.
// A handler error or undecodable message is nak'd and redelivered up to
// three times.
func (s *Subscriber) SubscribeRouteEvents(ctx context.Context, durable string, handler func(ctx context.Context, event *domain.RouteEvent) error) error {
	sub, err := s.js.Subscribe(SubjectRoutePrefix+">", func(msg *nats.Msg) {
		var event domain.RouteEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Warn("bad route event", "subject", msg.Subject, "error", err)
			_ = msg.Nak()
			return
		}
		if err := handler(ctx, &event); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.MaxDeliver(3),
		nats.DeliverNew(),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes. The connection is left to its owner.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
}
