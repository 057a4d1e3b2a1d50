package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/awattacker/observer/internal/protocol"
	"github.com/awattacker/observer/internal/transfer"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// DefaultReadLimit is the maximum inbound frame size.
	DefaultReadLimit = 4 << 20
)

// Transfers is the transfer coordinator as seen by the dispatcher.
type Transfers interface {
	Start(ctx context.Context, req transfer.StartRequest) transfer.Result
	Chunk(ctx context.Context, req transfer.ChunkRequest) transfer.Result
	End(ctx context.Context, transferID string) transfer.Result
	Abort(transferID string) bool
	Active(transferID string) bool
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// ReadLimit caps the size of one inbound frame. Zero means DefaultReadLimit.
	ReadLimit int64
	// CheckOrigin overrides the upgrader origin check. Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
	// Debug enables per-frame logging such as pong receipts.
	Debug bool
}

// Handler accepts WebSocket connections and routes their frames.
type Handler struct {
	hub       *Hub
	transfers Transfers
	upgrader  websocket.Upgrader
	readLimit int64
	debug     bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, transfers Transfers, config HandlerConfig) *Handler {
	if config.ReadLimit <= 0 {
		config.ReadLimit = DefaultReadLimit
	}
	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Handler{
		hub:       hub,
		transfers: transfers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		readLimit: config.ReadLimit,
		debug:     config.Debug,
	}
}

// HandleConnection upgrades the request and serves the connection until the
// peer goes away.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn)
	if err := h.hub.Add(client); err != nil {
		conn.Close()
		return err
	}
	log.Printf("WebSocket client %s connected from %s (%d connected)", client.ID(), r.RemoteAddr, h.hub.ClientCount())

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// readPump reads frames until the connection fails, then unregisters the
// client and aborts every transfer it started but never ended.
func (h *Handler) readPump(client *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	open := make(map[string]struct{})
	defer func() {
		cancel()
		for id := range open {
			if h.transfers.Abort(id) {
				log.Printf("Transfer %s abandoned by client %s", id, client.ID())
			}
		}
		h.hub.Remove(client)
		client.Conn().Close()
		log.Printf("WebSocket client %s disconnected", client.ID())
	}()

	client.Conn().SetReadLimit(h.readLimit)

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		h.dispatch(ctx, client, message, open)
	}
}

// writePump is the only writer of the connection. A failed write evicts the client.
func (h *Handler) writePump(client *Client) {
	conn := client.Conn()
	defer func() {
		h.hub.Remove(client)
		conn.Close()
	}()

	for message := range client.SendChan() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("Failed to write to client %s: %v", client.ID(), err)
			return
		}
	}

	// The hub closed the channel
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// dispatch routes one inbound frame. Replies go to the originating client only.
// open holds the transfers this client started and has not ended yet.
func (h *Handler) dispatch(ctx context.Context, client *Client, message []byte, open map[string]struct{}) {
	frame, err := protocol.DecodeClientFrame(message)
	if err != nil {
		var frameErr *protocol.FrameError
		fileID := ""
		if errors.As(err, &frameErr) {
			fileID = frameErr.FileID
		}
		log.Printf("Invalid frame from client %s: %v", client.ID(), err)
		h.reply(client, protocol.NewTransferError(fileID, err.Error()))
		return
	}

	// A START for an id that is already open must leave that session alone.
	abortOnPanic := false
	defer func() {
		if r := recover(); r != nil {
			fileID := transferID(frame)
			log.Printf("Panic while handling %s frame (transfer %q): %v", frame.FrameType(), fileID, r)
			if abortOnPanic {
				h.transfers.Abort(fileID)
				delete(open, fileID)
			}
			h.reply(client, protocol.NewTransferError(fileID, fmt.Sprintf("internal error: %v", r)))
		}
	}()

	switch f := frame.(type) {
	case protocol.Pong:
		if h.debug {
			log.Printf("Received pong from client %s", client.ID())
		}
	case protocol.Start:
		abortOnPanic = !h.transfers.Active(f.FileID)
		res := h.transfers.Start(ctx, transfer.StartRequest{
			TransferID:  f.FileID,
			TotalChunks: f.TotalChunks,
			FileName:    f.FileName,
			ContentType: f.ContentType,
		})
		if res.Kind == transfer.ResultAck {
			open[f.FileID] = struct{}{}
		}
		h.reply(client, resultFrame(res))
	case protocol.Chunk:
		abortOnPanic = true
		h.reply(client, resultFrame(h.transfers.Chunk(ctx, transfer.ChunkRequest{
			TransferID: f.FileID,
			Index:      f.ChunkIndex,
			Data:       f.ChunkData,
		})))
	case protocol.End:
		abortOnPanic = true
		res := h.transfers.End(ctx, f.FileID)
		delete(open, f.FileID)
		h.reply(client, resultFrame(res))
	default:
		log.Printf("Unknown message type %q from client %s", f.FrameType(), client.ID())
	}
}

func (h *Handler) reply(client *Client, v any) {
	if err := client.SendJSON(v); err != nil {
		log.Printf("Failed to reply to client %s: %v", client.ID(), err)
		h.hub.Remove(client)
	}
}

func transferID(frame protocol.ClientFrame) string {
	switch f := frame.(type) {
	case protocol.Start:
		return f.FileID
	case protocol.Chunk:
		return f.FileID
	case protocol.End:
		return f.FileID
	}
	return ""
}

// resultFrame converts a coordinator result into its server frame.
func resultFrame(res transfer.Result) any {
	switch res.Kind {
	case transfer.ResultAck:
		return protocol.NewTransferAck(res.TransferID, res.StagingPath)
	case transfer.ResultProgress:
		return protocol.NewTransferProgress(res.TransferID, res.Received, res.Total, res.Progress)
	case transfer.ResultComplete:
		return protocol.NewTransferComplete(res.TransferID, res.StagingPath, res.SavedPath)
	default:
		message := "transfer failed"
		if res.Err != nil {
			message = res.Err.Error()
		}
		return protocol.NewTransferError(res.TransferID, message)
	}
}
