package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/afyawatch/fieldsync/internal/engine"
)

func startTestServer(t *testing.T, snapshot func() (int, error)) *Server {
	t.Helper()

	server := NewServer(&Config{
		Addr:     "127.0.0.1:0",
		Snapshot: snapshot,
		Logger:   log.New(io.Discard, "", 0),
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	return server
}

func dialTestClient(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := startTestServer(t, nil)

	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestClientReceivesInitialPendingCount(t *testing.T) {
	server := startTestServer(t, func() (int, error) { return 4, nil })
	conn := dialTestClient(t, server)

	msg := readMessage(t, conn)
	if msg.Type != MessageTypePendingCount {
		t.Fatalf("Expected initial %s message, got %s", MessageTypePendingCount, msg.Type)
	}

	var data PendingCountData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if data.Pending != 4 {
		t.Errorf("Expected pending 4, got %d", data.Pending)
	}

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}
}

func TestHandlerBroadcastsDrainComplete(t *testing.T) {
	server := startTestServer(t, func() (int, error) { return 0, nil })
	conn := dialTestClient(t, server)

	// Drop the initial pending-count message.
	_ = readMessage(t, conn)

	handler := NewHandler(server, log.New(io.Discard, "", 0))
	handler.OnDrainComplete(engine.Entry{
		Trigger: "connectivity",
		Synced:  3,
		Failed:  1,
		Pending: 1,
	})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeDrainComplete {
		t.Fatalf("Expected %s, got %s", MessageTypeDrainComplete, msg.Type)
	}

	var data DrainCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if data.Synced != 3 || data.Failed != 1 || data.Trigger != "connectivity" {
		t.Errorf("Unexpected drain data: %+v", data)
	}
}

func TestHandlerBroadcastsPendingCount(t *testing.T) {
	server := startTestServer(t, nil)
	conn := dialTestClient(t, server)

	handler := NewHandler(server, log.New(io.Discard, "", 0))
	handler.OnPendingCount(7)

	msg := readMessage(t, conn)
	if msg.Type != MessageTypePendingCount {
		t.Fatalf("Expected %s, got %s", MessageTypePendingCount, msg.Type)
	}

	var data PendingCountData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if data.Pending != 7 {
		t.Errorf("Expected pending 7, got %d", data.Pending)
	}
}
