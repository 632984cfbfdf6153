package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"terra/internal/core"
	"terra/internal/telemetry"
)

func TestDownsampleAveragesBlocks(t *testing.T) {
	f := core.NewField(3)
	for row := 1; row <= 3; row++ {
		for col := 1; col <= 3; col++ {
			f.Set(col, row, float64(col))
		}
	}
	got, m := Downsample(f, 2)
	if m != 2 {
		t.Fatalf("size %d, want 2", m)
	}
	want := []float32{1.5, 3, 1.5, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("downsample %v, want %v", got, want)
		}
	}
	same, m := Downsample(f, 0)
	if m != 3 || same[4] != 2 {
		t.Fatalf("k=0 must copy the interior, got %v", same)
	}
}

func TestHubDeliversFrames(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	terrain := core.NewField(4)
	water := core.NewField(4)
	water.Set(1, 1, 2)
	msg := NewFrame(7, terrain, water, telemetry.Mass{Volume: 2}, 2)
	if err := hub.Broadcast(msg); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got FrameMsg
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != "FRAME" || got.Tick != 7 || got.N != 2 || got.Volume != 2 {
		t.Fatalf("frame %+v", got)
	}
	if got.Water[0] != 0.5 {
		t.Fatalf("water block %v, want 0.5", got.Water[0])
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLateViewerGetsLastFrame(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.Broadcast(FrameMsg{Type: "FRAME", Tick: 3}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got FrameMsg
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Tick != 3 {
		t.Fatalf("late viewer got tick %d, want 3", got.Tick)
	}
}
