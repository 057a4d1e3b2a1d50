// Package transfer reassembles chunked file uploads and persists them.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awattacker/observer/internal/model"
)

// Catalog records persisted files. It is optional.
type Catalog interface {
	Create(ctx context.Context, file *model.StoredFile) error
}

// StartRequest opens a transfer.
type StartRequest struct {
	TransferID  string
	TotalChunks int
	FileName    string
	ContentType string
}

// ChunkRequest carries one chunk payload.
type ChunkRequest struct {
	TransferID string
	Index      int
	Data       string
}

// Coordinator manages the active transfer sessions, keyed by transfer id.
// All methods are safe for concurrent use.
type Coordinator struct {
	storage *Storage
	catalog Catalog
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewCoordinator creates a Coordinator. catalog may be nil.
func NewCoordinator(storage *Storage, catalog Catalog) *Coordinator {
	return &Coordinator{
		storage:  storage,
		catalog:  catalog,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Start opens a session and its staging file.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) Result {
	if req.TransferID == "" {
		return failed(req.TransferID, ErrorProtocol, errors.New("file_id is required"))
	}
	if req.TotalChunks < 0 {
		return failed(req.TransferID, ErrorProtocol, fmt.Errorf("invalid total_chunks %d", req.TotalChunks))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sessions[req.TransferID]; exists {
		return failed(req.TransferID, ErrorProtocol, model.ErrDuplicateTransfer)
	}

	path, err := c.storage.Stage()
	if err != nil {
		return failed(req.TransferID, ErrorProcessing, err)
	}

	c.sessions[req.TransferID] = newSession(req, path, c.now())
	log.Printf("Transfer %s started: %d chunks, file name %q, content type %q",
		req.TransferID, req.TotalChunks, req.FileName, req.ContentType)

	return Result{Kind: ResultAck, TransferID: req.TransferID, StagingPath: path}
}

// Chunk stores one chunk. Out-of-range indices are ignored but still answered
// with the current progress.
func (c *Coordinator) Chunk(ctx context.Context, req ChunkRequest) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[req.TransferID]
	if !ok {
		return failed(req.TransferID, ErrorProtocol, model.ErrNoActiveTransfer)
	}

	if !sess.put(req.Index, []byte(req.Data), c.now()) {
		log.Printf("Ignoring chunk %d for transfer %s: index out of range [0, %d)",
			req.Index, req.TransferID, sess.TotalChunks)
	}

	return Result{
		Kind:       ResultProgress,
		TransferID: req.TransferID,
		Received:   sess.Received(),
		Total:      sess.TotalChunks,
		Progress:   sess.Progress(),
	}
}

// End finalizes a transfer. The session is removed and its staging file
// deleted whatever the outcome.
func (c *Coordinator) End(ctx context.Context, transferID string) Result {
	sess := c.detach(transferID)
	if sess == nil {
		return failed(transferID, ErrorProtocol, model.ErrNoActiveTransfer)
	}
	defer c.storage.Discard(sess.StagingPath)

	if missing := sess.Missing(); len(missing) > 0 {
		log.Printf("Transfer %s incomplete: missing chunks %v", transferID, missing)
		return Result{
			Kind:       ResultFailed,
			TransferID: transferID,
			Err:        &Error{Kind: ErrorIntegrity, Missing: missing, Err: model.ErrMissingChunks},
		}
	}

	saved, err := c.finish(ctx, sess)
	if err != nil {
		log.Printf("Transfer %s failed: %v", transferID, err)
		return failed(transferID, ErrorProcessing, err)
	}

	log.Printf("Transfer %s complete: saved to %s", transferID, saved)
	return Result{
		Kind:        ResultComplete,
		TransferID:  transferID,
		StagingPath: sess.StagingPath,
		SavedPath:   saved,
	}
}

func (c *Coordinator) finish(ctx context.Context, sess *Session) (string, error) {
	data, err := decodePayload(sess.Assemble())
	if err != nil {
		return "", err
	}

	mt := mediaType(sess.ContentType)
	if isJSON(mt) {
		if data, err = formatJSON(data); err != nil {
			return "", err
		}
	}

	if err := os.WriteFile(sess.StagingPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}

	name := sanitizeFileName(sess.FileName)
	if name == "" {
		name = defaultFileName(sess.ContentType, data)
	}

	now := c.now()
	saved, size, err := c.storage.Persist(sess.StagingPath, name, now)
	if err != nil {
		return "", err
	}

	if c.catalog != nil {
		file := &model.StoredFile{
			ID:          uuid.New().String(),
			TransferID:  sess.ID,
			FileName:    name,
			ContentType: mt,
			Size:        size,
			SavedPath:   saved,
			CreatedAt:   now,
		}
		if err := c.catalog.Create(ctx, file); err != nil {
			log.Printf("Failed to record stored file for transfer %s: %v", sess.ID, err)
		}
	}
	return saved, nil
}

// Abort drops a session and its staging file. It reports whether a session existed.
func (c *Coordinator) Abort(transferID string) bool {
	sess := c.detach(transferID)
	if sess == nil {
		return false
	}
	c.storage.Discard(sess.StagingPath)
	log.Printf("Transfer %s aborted", transferID)
	return true
}

// Close aborts every active session.
func (c *Coordinator) Close() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()

	for id, sess := range sessions {
		c.storage.Discard(sess.StagingPath)
		log.Printf("Transfer %s aborted on shutdown", id)
	}
}

// Active reports whether a session with the given id is open.
func (c *Coordinator) Active(transferID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[transferID]
	return ok
}

// ActiveCount returns the number of open sessions.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Coordinator) detach(transferID string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[transferID]
	if !ok {
		return nil
	}
	delete(c.sessions, transferID)
	return sess
}
