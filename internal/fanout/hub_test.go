package fanout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/zapdeskhq/zapdesk/internal/bus"
	"github.com/zapdeskhq/zapdesk/internal/push"
)

// dial spins a test server that joins every accepted connection to ownerID
// and returns a connected client.
func dial(t *testing.T, hub *Hub, ownerID string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		sub := hub.JoinOwner(conn, ownerID)
		<-sub.Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func waitSubscribers(t *testing.T, hub *Hub, ownerID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount(ownerID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("owner %s has %d subscribers, want %d", ownerID, hub.SubscriberCount(ownerID), want)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var f Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestEmitReachesOwnerGroup(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dial(t, hub, "owner-1")
	waitSubscribers(t, hub, "owner-1", 1)

	hub.Emit("owner-1", "message", map[string]string{"id": "m1"})

	frame := readFrame(t, conn)
	if frame.Event != "message" {
		t.Errorf("event = %q", frame.Event)
	}
	if frame.Data.(map[string]any)["id"] != "m1" {
		t.Errorf("data = %+v", frame.Data)
	}
}

func TestEmitIsolatesOwners(t *testing.T) {
	hub := NewHub(zap.NewNop())
	alice := dial(t, hub, "alice")
	bob := dial(t, hub, "bob")
	waitSubscribers(t, hub, "alice", 1)
	waitSubscribers(t, hub, "bob", 1)

	hub.Emit("alice", "message", "only-alice")
	hub.Emit("bob", "message", "only-bob")

	if frame := readFrame(t, alice); frame.Data != "only-alice" {
		t.Errorf("alice got %+v", frame)
	}
	if frame := readFrame(t, bob); frame.Data != "only-bob" {
		t.Errorf("bob got %+v", frame)
	}
}

func TestRemoveDropsSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		sub := hub.JoinOwner(conn, "owner-1")
		hub.Remove(sub)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	waitSubscribers(t, hub, "owner-1", 0)

	// Emitting into an empty group is a no-op.
	hub.Emit("owner-1", "message", "nobody home")
}

func TestRunBridgesBusEnvelopes(t *testing.T) {
	hub := NewHub(zap.NewNop())
	b := bus.New()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx, b)

	conn := dial(t, hub, "owner-1")
	waitSubscribers(t, hub, "owner-1", 1)

	emitter := push.NewEmitter(b)
	emitter.Emit("owner-1", push.EventReady, map[string]string{"session_id": "s1"})

	frame := readFrame(t, conn)
	if frame.Event != push.EventReady {
		t.Errorf("event = %q", frame.Event)
	}
}
