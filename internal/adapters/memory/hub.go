// Package memory provides an in-process frame hub used when NATS is not
// configured.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/flightviz/dronepath/internal/core/domain"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Hub fans encoded frames out to subscribers. A slow subscriber loses frames
// rather than blocking the clock; only the latest frame matters to a renderer.
// Route events are delivered to frame subscribers too, as their own JSON
// document tagged with "type":"route".
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan []byte
	nextID uint64
	buffer int
}

// NewHub creates a hub with the given per-subscriber buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[uint64]chan []byte), buffer: buffer}
}

// PublishFrame implements ports.FramePublisher.
func (h *Hub) PublishFrame(ctx context.Context, frame *domain.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

type routeEnvelope struct {
	Type  string             `json:"type"`
	Event *domain.RouteEvent `json:"event"`
}

// PublishRouteEvent implements ports.FramePublisher.
func (h *Hub) PublishRouteEvent(ctx context.Context, event *domain.RouteEvent) error {
	data, err := json.Marshal(routeEnvelope{Type: "route", Event: event})
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

// SubscribeFrames implements ports.FrameSubscriber. handler runs on a
// dedicated goroutine per subscriber, in publish order.
func (h *Hub) SubscribeFrames(handler func(data []byte)) (func(), error) {
	ch := make(chan []byte, h.buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for data := range ch {
			handler(data)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
			<-done
		})
	}, nil
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
}
