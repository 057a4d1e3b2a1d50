package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/awattacker/observer/internal/model"
	"github.com/awattacker/observer/internal/protocol"
	"github.com/awattacker/observer/internal/transfer"
)

type testServer struct {
	hub    *Hub
	server *httptest.Server
	url    string
}

func newTestServer(t *testing.T, transfers Transfers) *testServer {
	t.Helper()
	hub := NewHub()
	handler := NewHandler(hub, transfers, HandlerConfig{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := handler.HandleConnection(w, r); err != nil {
			t.Logf("upgrade failed: %v", err)
		}
	}))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})

	return &testServer{
		hub:    hub,
		server: server,
		url:    "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestCoordinator(t *testing.T) *transfer.Coordinator {
	t.Helper()
	root := t.TempDir()
	storage, err := transfer.NewStorage(filepath.Join(root, "staging"), filepath.Join(root, "files"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return transfer.NewCoordinator(storage, nil)
}

// readFrame returns the next non-ping frame as a generic map.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed to read frame: %v", err)
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("invalid frame %s: %v", data, err)
		}
		if frame["type"] == string(protocol.TypePing) {
			continue
		}
		return frame
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

func TestTransferOverWebSocket(t *testing.T) {
	srv := newTestServer(t, newTestCoordinator(t))
	conn := srv.dial(t)

	send(t, conn, map[string]any{"type": "START", "file_id": "t1", "total_chunks": 2, "file_name": "a.txt", "content_type": "text/plain", "timestamp": 1})
	ack := readFrame(t, conn)
	if ack["type"] != "FILE_TRANSFER_ACK" || ack["file_id"] != "t1" || ack["status"] != "started" {
		t.Fatalf("unexpected ack: %v", ack)
	}
	tempFile, _ := ack["temp_file"].(string)
	if tempFile == "" {
		t.Fatal("expected temp_file in ack")
	}

	send(t, conn, map[string]any{"type": "CHUNK", "file_id": "t1", "chunk_index": 1, "chunk_data": "REVG", "timestamp": 2})
	progress := readFrame(t, conn)
	if progress["type"] != "FILE_TRANSFER_PROGRESS" || progress["progress"] != 50.0 {
		t.Fatalf("unexpected progress: %v", progress)
	}
	if progress["received_chunks"] != 1.0 || progress["total_chunks"] != 2.0 {
		t.Errorf("unexpected counts: %v", progress)
	}

	send(t, conn, map[string]any{"type": "CHUNK", "file_id": "t1", "chunk_index": 0, "chunk_data": "QUJD", "timestamp": 3})
	if progress := readFrame(t, conn); progress["progress"] != 100.0 {
		t.Fatalf("expected 100%% progress, got %v", progress)
	}

	send(t, conn, map[string]any{"type": "END", "file_id": "t1", "timestamp": 4})
	done := readFrame(t, conn)
	if done["type"] != "FILE_TRANSFER_COMPLETE" || done["status"] != "success" {
		t.Fatalf("unexpected completion: %v", done)
	}
	if done["file_path"] != tempFile {
		t.Errorf("expected file_path %s, got %v", tempFile, done["file_path"])
	}

	savedPath, _ := done["saved_path"].(string)
	content, err := os.ReadFile(savedPath)
	if err != nil {
		t.Fatalf("failed to read saved file: %v", err)
	}
	if string(content) != "ABCDEF" {
		t.Errorf("expected ABCDEF, got %q", content)
	}
	if _, err := os.Stat(tempFile); !os.IsNotExist(err) {
		t.Errorf("expected staging file to be removed, stat err: %v", err)
	}
}

func TestTransferErrorsOverWebSocket(t *testing.T) {
	srv := newTestServer(t, newTestCoordinator(t))
	conn := srv.dial(t)

	testCases := []struct {
		name       string
		frame      string
		wantFileID any
		wantError  string
	}{
		{name: "malformed json", frame: `{not json`, wantFileID: nil, wantError: "invalid frame"},
		{name: "missing chunk fields", frame: `{"type":"CHUNK","file_id":"z"}`, wantFileID: "z", wantError: "chunk_index is required"},
		{name: "chunk without session", frame: `{"type":"CHUNK","file_id":"ghost","chunk_index":0,"chunk_data":"QQ=="}`, wantFileID: "ghost", wantError: "no active session"},
		{name: "end without session", frame: `{"type":"END","file_id":"ghost"}`, wantFileID: "ghost", wantError: "no active session"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tc.frame)); err != nil {
				t.Fatalf("failed to write: %v", err)
			}
			frame := readFrame(t, conn)
			if frame["type"] != "FILE_TRANSFER_ERROR" {
				t.Fatalf("expected FILE_TRANSFER_ERROR, got %v", frame)
			}
			if frame["file_id"] != tc.wantFileID {
				t.Errorf("expected file_id %v, got %v", tc.wantFileID, frame["file_id"])
			}
			if msg, _ := frame["error"].(string); !strings.Contains(msg, tc.wantError) {
				t.Errorf("expected error containing %q, got %q", tc.wantError, msg)
			}
		})
	}

	// unknown types are ignored and the connection stays usable
	send(t, conn, map[string]any{"type": "HELLO"})
	send(t, conn, map[string]any{"type": "pong"})
	send(t, conn, map[string]any{"type": "START", "file_id": "after", "total_chunks": 1})
	if ack := readFrame(t, conn); ack["type"] != "FILE_TRANSFER_ACK" || ack["file_id"] != "after" {
		t.Errorf("expected ack after ignored frames, got %v", ack)
	}
}

func TestDuplicateStartOverWebSocket(t *testing.T) {
	srv := newTestServer(t, newTestCoordinator(t))
	conn := srv.dial(t)

	send(t, conn, map[string]any{"type": "START", "file_id": "d", "total_chunks": 1})
	readFrame(t, conn)
	send(t, conn, map[string]any{"type": "START", "file_id": "d", "total_chunks": 3})

	frame := readFrame(t, conn)
	if frame["type"] != "FILE_TRANSFER_ERROR" || frame["error"] != "duplicate session" {
		t.Errorf("unexpected frame: %v", frame)
	}
}

// panickingTransfers panics while handling chunks, and on START for ids
// listed in active.
type panickingTransfers struct {
	mu      sync.Mutex
	active  map[string]bool
	aborted []string
}

func (p *panickingTransfers) Start(ctx context.Context, req transfer.StartRequest) transfer.Result {
	if p.Active(req.TransferID) {
		panic("session table corrupted")
	}
	return transfer.Result{Kind: transfer.ResultAck, TransferID: req.TransferID, StagingPath: "/tmp/x"}
}

func (p *panickingTransfers) Chunk(ctx context.Context, req transfer.ChunkRequest) transfer.Result {
	panic("slot table corrupted")
}

func (p *panickingTransfers) End(ctx context.Context, transferID string) transfer.Result {
	return transfer.Result{Kind: transfer.ResultFailed, TransferID: transferID}
}

func (p *panickingTransfers) Abort(transferID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aborted = append(p.aborted, transferID)
	return true
}

func (p *panickingTransfers) Active(transferID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[transferID]
}

func (p *panickingTransfers) abortedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.aborted...)
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	transfers := &panickingTransfers{}
	srv := newTestServer(t, transfers)
	conn := srv.dial(t)

	send(t, conn, map[string]any{"type": "CHUNK", "file_id": "p1", "chunk_index": 0, "chunk_data": "QQ=="})
	frame := readFrame(t, conn)
	if frame["type"] != "FILE_TRANSFER_ERROR" || frame["file_id"] != "p1" {
		t.Fatalf("unexpected frame: %v", frame)
	}

	if aborted := transfers.abortedIDs(); len(aborted) != 1 || aborted[0] != "p1" {
		t.Errorf("expected transfer p1 to be aborted, got %v", transfers.abortedIDs())
	}

	// the read loop survives
	send(t, conn, map[string]any{"type": "START", "file_id": "p2", "total_chunks": 1})
	if ack := readFrame(t, conn); ack["type"] != "FILE_TRANSFER_ACK" {
		t.Errorf("expected ack after recovered panic, got %v", ack)
	}
}

func TestPanicOnDuplicateStartKeepsExistingSession(t *testing.T) {
	transfers := &panickingTransfers{active: map[string]bool{"d1": true}}
	srv := newTestServer(t, transfers)
	conn := srv.dial(t)

	send(t, conn, map[string]any{"type": "START", "file_id": "d1", "total_chunks": 1})
	frame := readFrame(t, conn)
	if frame["type"] != "FILE_TRANSFER_ERROR" || frame["file_id"] != "d1" {
		t.Fatalf("unexpected frame: %v", frame)
	}
	if aborted := transfers.abortedIDs(); len(aborted) != 0 {
		t.Errorf("expected the open session to survive, aborted %v", aborted)
	}

	// d1 was never owned by this client, so disconnecting leaves it alone too
	conn.Close()
	waitFor(t, "client removal", func() bool { return srv.hub.ClientCount() == 0 })
	if aborted := transfers.abortedIDs(); len(aborted) != 0 {
		t.Errorf("expected no aborts on disconnect, got %v", aborted)
	}
}

func TestDisconnectAbortsOpenTransfers(t *testing.T) {
	coord := newTestCoordinator(t)
	srv := newTestServer(t, coord)

	owner := srv.dial(t)
	other := srv.dial(t)

	send(t, owner, map[string]any{"type": "START", "file_id": "a1", "total_chunks": 2})
	ack := readFrame(t, owner)
	if ack["type"] != "FILE_TRANSFER_ACK" {
		t.Fatalf("unexpected ack: %v", ack)
	}
	staging, _ := ack["temp_file"].(string)
	send(t, owner, map[string]any{"type": "CHUNK", "file_id": "a1", "chunk_index": 0, "chunk_data": "QUJD"})
	readFrame(t, owner)

	// a finished transfer is not touched by the later disconnect
	send(t, owner, map[string]any{"type": "START", "file_id": "a2", "total_chunks": 1})
	readFrame(t, owner)
	send(t, owner, map[string]any{"type": "CHUNK", "file_id": "a2", "chunk_index": 0, "chunk_data": "QUJD"})
	readFrame(t, owner)
	send(t, owner, map[string]any{"type": "END", "file_id": "a2"})
	if done := readFrame(t, owner); done["type"] != "FILE_TRANSFER_COMPLETE" {
		t.Fatalf("unexpected completion: %v", done)
	}

	send(t, other, map[string]any{"type": "START", "file_id": "b1", "total_chunks": 1})
	if ack := readFrame(t, other); ack["type"] != "FILE_TRANSFER_ACK" {
		t.Fatalf("unexpected ack: %v", ack)
	}

	owner.Close()
	waitFor(t, "abandoned transfer cleanup", func() bool { return !coord.Active("a1") })

	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Errorf("expected staging file to be removed, stat err: %v", err)
	}
	if !coord.Active("b1") {
		t.Error("expected another client's transfer to stay open")
	}

	// the id is free again
	again := srv.dial(t)
	send(t, again, map[string]any{"type": "START", "file_id": "a1", "total_chunks": 1})
	if ack := readFrame(t, again); ack["type"] != "FILE_TRANSFER_ACK" {
		t.Errorf("expected a1 to be startable after cleanup, got %v", ack)
	}
}

func TestBroadcastAndLifecycleOverWebSocket(t *testing.T) {
	srv := newTestServer(t, newTestCoordinator(t))
	srv.hub.AddTask(Keepalive(srv.hub, time.Hour))

	conn1 := srv.dial(t)
	conn2 := srv.dial(t)
	waitFor(t, "two clients", func() bool { return srv.hub.ClientCount() == 2 })
	if !srv.hub.Running() {
		t.Fatal("expected background tasks to run while clients are connected")
	}

	event := model.NewWindowEvent("com.example.app", ".MainActivity", true, time.UnixMilli(1700000000000))
	srv.hub.Broadcast(event)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		frame := readFrame(t, conn)
		if frame["type"] != model.EventTypeWindowStateChanged || frame["package_name"] != "com.example.app" {
			t.Errorf("unexpected event: %v", frame)
		}
		if frame["source_changed"] != true || frame["timestamp"] != 1700000000000.0 {
			t.Errorf("unexpected event fields: %v", frame)
		}
	}

	conn1.Close()
	conn2.Close()
	waitFor(t, "disconnect", func() bool { return srv.hub.ClientCount() == 0 })
	if srv.hub.Running() {
		t.Error("expected background tasks to stop after the last disconnect")
	}

	conn3 := srv.dial(t)
	waitFor(t, "reconnect", func() bool { return srv.hub.Running() })

	conn3.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn3.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if string(data) != `{"type":"ping"}` {
		t.Errorf("expected an immediate ping on restart, got %s", data)
	}
}
