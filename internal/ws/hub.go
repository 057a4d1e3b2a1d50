package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const sendQueueSize = 256

var (
	// ErrClientClosed is returned when sending to a client that has been removed.
	ErrClientClosed = errors.New("client closed")
	// ErrSendQueueFull is returned when a client does not drain its queue fast enough.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrHubClosed is returned when adding a client to a hub that has shut down.
	ErrHubClosed = errors.New("hub closed")
)

// Client represents a WebSocket client connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new WebSocket client with a generated identity.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
}

// Send queues a message for the writer goroutine. It never blocks.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SendJSON marshals v and queues it.
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close closes the send queue. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ID returns the client identity.
func (c *Client) ID() string {
	return c.id
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Task is a background job that runs while the hub has at least one client.
// It must return when ctx is cancelled.
type Task func(ctx context.Context)

// Hub is the registry of live connections. Registered tasks are started when
// the first client joins and cancelled when the last one leaves.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	tasks   []Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

// AddTask registers a background task. If the hub is currently running the
// task starts immediately.
func (h *Hub) AddTask(task Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = append(h.tasks, task)
	if h.cancel != nil {
		h.startLocked(task)
	}
}

// Add registers a client. Adding a client twice is a no-op.
func (h *Hub) Add(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if h.clients[client] {
		return nil
	}
	h.clients[client] = true

	if len(h.clients) == 1 {
		h.ctx, h.cancel = context.WithCancel(context.Background())
		for _, task := range h.tasks {
			h.startLocked(task)
		}
		log.Printf("First client connected, started %d background tasks", len(h.tasks))
	}
	return nil
}

func (h *Hub) startLocked(task Task) {
	ctx := h.ctx
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		task(ctx)
	}()
}

// Remove unregisters a client and closes its queue. Removing an absent client
// is a no-op. Remove does not wait for cancelled tasks to exit.
func (h *Hub) Remove(client *Client) {
	h.mu.Lock()
	if !h.clients[client] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	stopped := false
	if len(h.clients) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
		h.ctx = nil
		stopped = true
	}
	h.mu.Unlock()

	client.Close()
	if stopped {
		log.Println("Last client disconnected, stopped background tasks")
	}
}

// Broadcast marshals v once and queues it to every client.
func (h *Hub) Broadcast(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.BroadcastRaw(data)
	return nil
}

// BroadcastRaw queues data to every client. Clients whose queue is closed or
// full are removed after the sweep. It returns the number of clients reached.
func (h *Hub) BroadcastRaw(data []byte) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var failed []*Client
	for _, client := range clients {
		if err := client.Send(data); err != nil {
			log.Printf("Failed to send to client %s: %v", client.ID(), err)
			failed = append(failed, client)
		}
	}
	for _, client := range failed {
		h.Remove(client)
	}
	return len(clients) - len(failed)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Running reports whether background tasks are active.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cancel != nil
}

// Close cancels background tasks, waits for them and closes every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
		h.ctx = nil
	}
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	h.wg.Wait()

	for _, client := range clients {
		client.Close()
	}
}
