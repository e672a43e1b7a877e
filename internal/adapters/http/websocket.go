package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/flightviz/dronepath/internal/pkg/metrics"
)

// wsMessage is a playback command sent by a client.
type wsMessage struct {
	Action string   `json:"action"`          // play | pause | reset | seek | speed
	Value  *float64 `json:"value,omitempty"` // progress for seek, speed for speed
}

// WebSocketHandler streams frames to the client and accepts playback
// commands. The current frame is sent right after the upgrade.
// Clients send JSON: {"action":"seek","value":42}
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		remoteAddr := c.RemoteAddr().String()
		slog.Info("ws client connected", "remote", remoteAddr)
		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()

		var mu sync.Mutex
		write := func(data []byte) error {
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}
		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			return write(data)
		}

		cancel, err := StartFrameStream(deps, write)
		if err != nil {
			slog.Debug("ws frame stream failed", "remote", remoteAddr, "error", err)
			return
		}
		defer cancel()

		// Keep-alive ping
		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}

			var m wsMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				_ = writeJSON(map[string]string{"error": "invalid JSON"})
				continue
			}

			switch m.Action {
			case "play":
				deps.Simulation.Play()
			case "pause":
				deps.Simulation.Pause()
			case "reset":
				deps.Simulation.Reset()
			case "seek":
				if m.Value == nil {
					_ = writeJSON(map[string]string{"error": "seek needs a value"})
					continue
				}
				deps.Simulation.Seek(*m.Value)
			case "speed":
				if m.Value == nil || !validSpeed(*m.Value) {
					_ = writeJSON(map[string]string{"error": speedRangeMessage})
					continue
				}
				if _, err := deps.Simulation.SetSpeed(*m.Value); err != nil {
					_ = writeJSON(map[string]string{"error": err.Error()})
					continue
				}
			default:
				_ = writeJSON(map[string]string{"error": "unknown action: " + m.Action})
			}
		}

		slog.Info("ws client disconnected", "remote", remoteAddr)
	}
}

// StartFrameStream sends the current frame through write and then forwards
// every published frame to it. Nothing is subscribed if the first write
// fails.
func StartFrameStream(deps *Dependencies, write func([]byte) error) (cancel func(), err error) {
	data, err := json.Marshal(deps.Simulation.Frame())
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if err := write(data); err != nil {
		return nil, fmt.Errorf("initial frame: %w", err)
	}
	cancel, err = deps.Frames.SubscribeFrames(func(data []byte) {
		_ = write(data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe frames: %w", err)
	}
	return cancel, nil
}
