// Package stream broadcasts downsampled frames to websocket viewers.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"terra/internal/core"
	"terra/internal/telemetry"
)

const (
	writeWait = 5 * time.Second
	readWait  = 60 * time.Second
	// queued frames per viewer; slower viewers miss frames
	clientQueue = 8
)

// FrameMsg is the JSON message sent for every broadcast frame.
type FrameMsg struct {
	Type     string    `json:"type"`
	Tick     uint64    `json:"tick"`
	N        int       `json:"n"`
	Terrain  []float32 `json:"terrain"`
	Water    []float32 `json:"water"`
	Volume   float64   `json:"volume"`
	Sediment float64   `json:"sediment"`
	MaxSpeed float64   `json:"max_speed"`
}

// NewFrame downsamples terrain and water by k.
func NewFrame(tick uint64, terrain, water *core.Field, m telemetry.Mass, k int) FrameMsg {
	t, n := Downsample(terrain, k)
	w, _ := Downsample(water, k)
	return FrameMsg{
		Type:     "FRAME",
		Tick:     tick,
		N:        n,
		Terrain:  t,
		Water:    w,
		Volume:   m.Volume,
		Sediment: m.Sediment,
		MaxSpeed: m.MaxSpeed,
	}
}

// Downsample averages k×k blocks of the interior. A trailing partial block is
// averaged over the cells it has.
func Downsample(f *core.Field, k int) ([]float32, int) {
	if k < 1 {
		k = 1
	}
	n := f.N()
	m := (n + k - 1) / k
	out := make([]float32, m*m)
	for by := 0; by < m; by++ {
		for bx := 0; bx < m; bx++ {
			sum, count := 0.0, 0
			for row := by*k + 1; row <= min(n, by*k+k); row++ {
				for col := bx*k + 1; col <= min(n, bx*k+k); col++ {
					sum += f.At(col, row)
					count++
				}
			}
			out[by*m+bx] = float32(sum / float64(count))
		}
	}
	return out, m
}

// Hub fans frames out to every connected viewer.
type Hub struct {
	log      *log.Logger
	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[uint64]chan []byte
	last    []byte
	dropped uint64
}

// NewHub returns a hub with no clients. Handler admits them.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: map[uint64]chan []byte{},
	}
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many messages were skipped for slow viewers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Broadcast encodes v once and queues it for every viewer without blocking.
func (h *Hub) Broadcast(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = b
	for _, ch := range h.clients {
		select {
		case ch <- b:
		default:
			h.dropped++
		}
	}
	return nil
}

func (h *Hub) join() (uint64, chan []byte) {
	id := h.nextID.Add(1)
	ch := make(chan []byte, clientQueue)
	h.mu.Lock()
	h.clients[id] = ch
	if h.last != nil {
		ch <- h.last
	}
	h.mu.Unlock()
	return id, ch
}

func (h *Hub) leave(id uint64) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Handler upgrades the request and streams frames until the viewer leaves.
// Viewers receive the most recent frame immediately on connect.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, out := h.join()
		defer h.leave(id)
		if h.log != nil {
			h.log.Printf("viewer %d connected from %s", id, r.RemoteAddr)
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Viewers never send anything meaningful; reading keeps control
		// frames flowing and notices disconnects.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		if h.log != nil {
			h.log.Printf("viewer %d disconnected", id)
		}
	}
}
