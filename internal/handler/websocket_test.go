package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CageChen/markkeep/internal/index"
	"github.com/gorilla/websocket"
)

func TestWSHandler_BroadcastsChanges(t *testing.T) {
	store := index.NewStore()
	ws := NewWSHandler(testLogger())
	store.OnChange(ws.OnChange)

	srv := httptest.NewServer(NewRouter(store, ws, testLogger()))
	defer srv.Close()
	defer ws.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/frontmatter/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for ws.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	store.Upsert("a.md", "hello", index.FileMeta{})
	store.Remove("a.md")

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for _, want := range []string{"upsert", "remove"} {
		var msg struct {
			Type    string        `json:"type"`
			Payload ChangePayload `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != "fileChange" || msg.Payload.Event != want || msg.Payload.Path != "a.md" {
			t.Errorf("message = %+v, want %s of a.md", msg, want)
		}
		if msg.Payload.Generation == 0 {
			t.Error("expected a generation")
		}
	}
}

func TestWSHandler_CloseDisconnects(t *testing.T) {
	ws := NewWSHandler(testLogger())
	srv := httptest.NewServer(NewRouter(index.NewStore(), ws, testLogger()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/frontmatter/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for ws.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ws.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}

	if ws.Clients() != 0 {
		t.Errorf("expected no clients after Close, got %d", ws.Clients())
	}
}
