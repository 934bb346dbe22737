package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestWebSocketChannel_RoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		if req["type"] != TypeConnect || req["ephemeralToken"] != "tok" {
			conn.Close(websocket.StatusPolicyViolation, "bad connect")
			return
		}

		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
		wsjson.Write(r.Context(), conn, map[string]string{"type": "connected", "session_id": "s1"})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ch, err := WebSocketDialer{}.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer ch.Close("done")

	if err := ch.Write(ctx, NewConnectMessage("tok", ModeFormCreation, nil)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := ch.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	msg, err := ParseServerMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := msg.(ConnectedMessage); !ok || m.SessionID != "s1" {
		t.Errorf("Expected connected s1, got %#v", msg)
	}

	_, err = ch.Read(ctx)
	if !isNormalClose(err) {
		t.Errorf("Expected a normal close from the server, got %v", err)
	}
}

func TestWebSocketDialer_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	_, err := WebSocketDialer{}.Dial(context.Background(), url)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Expected ErrTransport, got %v", err)
	}
}
