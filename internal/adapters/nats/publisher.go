package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/flightviz/dronepath/internal/core/domain"
)

// Subjects.
const (
	// SubjectFrames carries every playback frame. Frames are superseded by
	// the next one within milliseconds, so they go over core NATS.
	SubjectFrames = "drone.frames"
	// SubjectRoutePrefix is followed by the route event kind.
	SubjectRoutePrefix = "drone.route."
	// StreamRoute keeps route events for late subscribers.
	StreamRoute = "DRONE_ROUTE"
)

// Publisher implements ports.FramePublisher on NATS.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Connect dials NATS with reconnect settings suited to a long-running service.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// NewPublisher enables JetStream on conn and makes sure the route stream
// exists.
func NewPublisher(conn *nats.Conn) (*Publisher, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	cfg := nats.StreamConfig{
		Name:       StreamRoute,
		Subjects:   []string{SubjectRoutePrefix + ">"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     24 * time.Hour,
		MaxMsgs:    10000,
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist, try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishFrame sends frame on SubjectFrames.
func (p *Publisher) PublishFrame(ctx context.Context, frame *domain.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return p.conn.Publish(SubjectFrames, data)
}

// PublishRouteEvent stores event in the route stream. The event ID is the
// JetStream message ID, so a retried publish is stored once.
func (p *Publisher) PublishRouteEvent(ctx context.Context, event *domain.RouteEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	opts := []nats.PubOpt{nats.Context(ctx)}
	if event.ID != "" {
		opts = append(opts, nats.MsgId(event.ID))
	}
	_, err = p.js.Publish(SubjectRoutePrefix+event.Kind, data, opts...)
	return err
}

// Connected reports whether the connection is up, for readiness probes.
func (p *Publisher) Connected() bool {
	return p.conn.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}
