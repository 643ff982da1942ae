package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/dohr-michael/orchestra/internal/events"
)

func dialHub(t *testing.T, state StateFunc) (*Hub, *events.Bus, *websocket.Conn) {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	hub := NewHub(bus, state)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return hub, bus, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	data, err := MarshalFrame(f)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHubBroadcastsBusEvents(t *testing.T) {
	_, bus, conn := dialHub(t, nil)

	bus.Publish(events.NewTaskEvent(events.SourceOrchestrator, events.TaskAssignedPayload{
		TaskID:  "task_1",
		AgentID: "a1",
		Via:     "pass",
	}, "task_1"))

	f := readFrame(t, conn)
	if f.Type != FrameTypeEvent || f.Event != string(events.EventTaskAssigned) {
		t.Fatalf("got type=%q event=%q", f.Type, f.Event)
	}
	if f.TaskID != "task_1" {
		t.Errorf("task_id: got %q", f.TaskID)
	}

	var e events.Event
	if err := json.Unmarshal(f.Payload, &e); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if e.Payload["agent_id"] != "a1" {
		t.Errorf("payload agent_id: got %v", e.Payload["agent_id"])
	}
}

func TestHubSubscribeFiltersEvents(t *testing.T) {
	_, bus, conn := dialHub(t, nil)

	params, _ := json.Marshal(SubscribeParams{Events: []string{string(events.EventTaskStatus)}})
	writeFrame(t, conn, Frame{Type: FrameTypeRequest, ID: "r1", Method: string(MethodSubscribe), Params: params})

	res := readFrame(t, conn)
	if res.Type != FrameTypeResponse || res.ID != "r1" || res.OK == nil || !*res.OK {
		t.Fatalf("subscribe response: %+v", res)
	}

	bus.Publish(events.NewTaskEvent(events.SourceOrchestrator, events.TaskEnqueuedPayload{TaskID: "task_1"}, "task_1"))
	bus.Publish(events.NewTaskEvent(events.SourceOrchestrator, events.TaskStatusPayload{TaskID: "task_1", From: "assigned", To: "in_progress"}, "task_1"))

	f := readFrame(t, conn)
	if f.Event != string(events.EventTaskStatus) {
		t.Errorf("expected only task.status, got %q", f.Event)
	}
}

func TestHubGetState(t *testing.T) {
	_, _, conn := dialHub(t, func() any { return map[string]int{"pending": 2} })

	writeFrame(t, conn, Frame{Type: FrameTypeRequest, ID: "r2", Method: string(MethodGetState)})
	res := readFrame(t, conn)
	if res.OK == nil || !*res.OK {
		t.Fatalf("get_state failed: %+v", res)
	}

	var st map[string]int
	if err := json.Unmarshal(res.Payload, &st); err != nil {
		t.Fatal(err)
	}
	if st["pending"] != 2 {
		t.Errorf("state: got %v", st)
	}
}

func TestHubUnknownMethod(t *testing.T) {
	_, _, conn := dialHub(t, nil)

	writeFrame(t, conn, Frame{Type: FrameTypeRequest, ID: "r3", Method: "launch_rockets"})
	res := readFrame(t, conn)
	if res.OK == nil || *res.OK || !strings.Contains(res.Error, "unknown method") {
		t.Fatalf("got %+v", res)
	}
}
