// Package protocol defines the JSON frames exchanged over the observer WebSocket.
//
// Frames are discriminated by their "type" field. Client frames decode into
// one of Pong, Start, Chunk, End or Unknown; server frames decode into Ping,
// model.WindowEvent, TransferAck, TransferProgress, TransferComplete,
// TransferError or Unknown.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/awattacker/observer/internal/model"
)

// MessageType is the "type" discriminator of a frame.
type MessageType string

const (
	// Client -> Server message types
	TypePong  MessageType = "pong"
	TypeStart MessageType = "START"
	TypeChunk MessageType = "CHUNK"
	TypeEnd   MessageType = "END"

	// Server -> Client message types
	TypePing               MessageType = "ping"
	TypeWindowStateChanged MessageType = model.EventTypeWindowStateChanged
	TypeTransferAck        MessageType = "FILE_TRANSFER_ACK"
	TypeTransferProgress   MessageType = "FILE_TRANSFER_PROGRESS"
	TypeTransferComplete   MessageType = "FILE_TRANSFER_COMPLETE"
	TypeTransferError      MessageType = "FILE_TRANSFER_ERROR"
)

const (
	StatusStarted = "started"
	StatusSuccess = "success"
)

// ErrInvalidFrame is returned when a frame is not valid JSON or misses required fields.
var ErrInvalidFrame = errors.New("invalid frame")

// FrameError reports a frame that could not be decoded. FileID is set when
// the frame carried a transfer identifier.
type FrameError struct {
	Type   MessageType
	FileID string
	Err    error
}

func (e *FrameError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("invalid frame: %v", e.Err)
	}
	return fmt.Sprintf("invalid %s frame: %v", e.Type, e.Err)
}

func (e *FrameError) Unwrap() error { return ErrInvalidFrame }

// ClientFrame is a frame sent by a client.
type ClientFrame interface {
	FrameType() MessageType
}

// Pong acknowledges a ping.
type Pong struct{}

// Start opens a chunked transfer.
type Start struct {
	FileID      string `json:"file_id"`
	TotalChunks int    `json:"total_chunks"`
	FileName    string `json:"file_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// Chunk carries one base64 fragment of a transfer.
type Chunk struct {
	FileID     string `json:"file_id"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkData  string `json:"chunk_data"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// End closes a transfer.
type End struct {
	FileID    string `json:"file_id"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Unknown is any frame whose type is not part of the protocol.
type Unknown struct {
	Name MessageType
}

func (Pong) FrameType() MessageType      { return TypePong }
func (Start) FrameType() MessageType     { return TypeStart }
func (Chunk) FrameType() MessageType     { return TypeChunk }
func (End) FrameType() MessageType       { return TypeEnd }
func (u Unknown) FrameType() MessageType { return u.Name }

// envelope is the common prefix used to route a frame before full decoding.
type envelope struct {
	Type   MessageType `json:"type"`
	FileID string      `json:"file_id"`
}

type rawStart struct {
	FileID      string `json:"file_id"`
	TotalChunks *int   `json:"total_chunks"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Timestamp   int64  `json:"timestamp"`
}

type rawChunk struct {
	FileID     string  `json:"file_id"`
	ChunkIndex *int    `json:"chunk_index"`
	ChunkData  *string `json:"chunk_data"`
	Timestamp  int64   `json:"timestamp"`
}

// DecodeClientFrame parses one client frame.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &FrameError{Err: err}
	}

	switch env.Type {
	case TypePong:
		return Pong{}, nil

	case TypeStart:
		var raw rawStart
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, &FrameError{Type: env.Type, FileID: env.FileID, Err: err}
		}
		if raw.FileID == "" {
			return nil, &FrameError{Type: env.Type, Err: errors.New("file_id is required")}
		}
		if raw.TotalChunks == nil {
			return nil, &FrameError{Type: env.Type, FileID: raw.FileID, Err: errors.New("total_chunks is required")}
		}
		return Start{
			FileID:      raw.FileID,
			TotalChunks: *raw.TotalChunks,
			FileName:    raw.FileName,
			ContentType: raw.ContentType,
			Timestamp:   raw.Timestamp,
		}, nil

	case TypeChunk:
		var raw rawChunk
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, &FrameError{Type: env.Type, FileID: env.FileID, Err: err}
		}
		if raw.FileID == "" {
			return nil, &FrameError{Type: env.Type, Err: errors.New("file_id is required")}
		}
		if raw.ChunkIndex == nil {
			return nil, &FrameError{Type: env.Type, FileID: raw.FileID, Err: errors.New("chunk_index is required")}
		}
		if raw.ChunkData == nil {
			return nil, &FrameError{Type: env.Type, FileID: raw.FileID, Err: errors.New("chunk_data is required")}
		}
		return Chunk{
			FileID:     raw.FileID,
			ChunkIndex: *raw.ChunkIndex,
			ChunkData:  *raw.ChunkData,
			Timestamp:  raw.Timestamp,
		}, nil

	case TypeEnd:
		var end End
		if err := json.Unmarshal(data, &end); err != nil {
			return nil, &FrameError{Type: env.Type, FileID: env.FileID, Err: err}
		}
		if end.FileID == "" {
			return nil, &FrameError{Type: env.Type, Err: errors.New("file_id is required")}
		}
		return end, nil

	default:
		return Unknown{Name: env.Type}, nil
	}
}

// Ping is the server liveness probe.
type Ping struct {
	Type MessageType `json:"type"`
}

// TransferAck confirms a START.
type TransferAck struct {
	Type     MessageType `json:"type"`
	FileID   string      `json:"file_id"`
	Status   string      `json:"status"`
	TempFile string      `json:"temp_file"`
}

// TransferProgress reports chunk reception.
type TransferProgress struct {
	Type           MessageType `json:"type"`
	FileID         string      `json:"file_id"`
	Progress       float64     `json:"progress"`
	ReceivedChunks int         `json:"received_chunks"`
	TotalChunks    int         `json:"total_chunks"`
}

// TransferComplete reports a stored transfer.
type TransferComplete struct {
	Type      MessageType `json:"type"`
	FileID    string      `json:"file_id"`
	Status    string      `json:"status"`
	FilePath  string      `json:"file_path"`
	SavedPath string      `json:"saved_path"`
}

// TransferError reports a failed transfer frame.
type TransferError struct {
	Type   MessageType `json:"type"`
	FileID string      `json:"file_id,omitempty"`
	Error  string      `json:"error"`
}

// NewPing returns a liveness probe frame.
func NewPing() Ping {
	return Ping{Type: TypePing}
}

// NewTransferAck returns the acknowledgement for a started transfer.
func NewTransferAck(fileID, tempFile string) TransferAck {
	return TransferAck{Type: TypeTransferAck, FileID: fileID, Status: StatusStarted, TempFile: tempFile}
}

// NewTransferProgress returns a progress frame.
func NewTransferProgress(fileID string, received, total int, progress float64) TransferProgress {
	return TransferProgress{
		Type:           TypeTransferProgress,
		FileID:         fileID,
		Progress:       progress,
		ReceivedChunks: received,
		TotalChunks:    total,
	}
}

// NewTransferComplete returns the completion frame for a stored transfer.
func NewTransferComplete(fileID, filePath, savedPath string) TransferComplete {
	return TransferComplete{
		Type:      TypeTransferComplete,
		FileID:    fileID,
		Status:    StatusSuccess,
		FilePath:  filePath,
		SavedPath: savedPath,
	}
}

// NewTransferError returns an error frame.
func NewTransferError(fileID, message string) TransferError {
	return TransferError{Type: TypeTransferError, FileID: fileID, Error: message}
}

// ServerFrame is a decoded frame sent by the server.
type ServerFrame any

// DecodeServerFrame parses one server frame. Unrecognized types decode to Unknown.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &FrameError{Err: err}
	}

	switch env.Type {
	case TypePing:
		return NewPing(), nil
	case TypeWindowStateChanged:
		return decodeAs[model.WindowEvent](data, env)
	case TypeTransferAck:
		return decodeAs[TransferAck](data, env)
	case TypeTransferProgress:
		return decodeAs[TransferProgress](data, env)
	case TypeTransferComplete:
		return decodeAs[TransferComplete](data, env)
	case TypeTransferError:
		return decodeAs[TransferError](data, env)
	default:
		return Unknown{Name: env.Type}, nil
	}
}

func decodeAs[T any](data []byte, env envelope) (ServerFrame, error) {
	var f T
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &FrameError{Type: env.Type, FileID: env.FileID, Err: err}
	}
	return f, nil
}

// EncodeClientFrame serializes a client frame with its "type" discriminator.
func EncodeClientFrame(f ClientFrame) ([]byte, error) {
	switch v := f.(type) {
	case Pong:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
		}{TypePong})
	case Start:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			Start
		}{TypeStart, v})
	case Chunk:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			Chunk
		}{TypeChunk, v})
	case End:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			End
		}{TypeEnd, v})
	default:
		return nil, fmt.Errorf("cannot encode %q frame", f.FrameType())
	}
}

// SplitPayload cuts a base64 payload into chunks of at most size characters.
// An empty payload yields no chunks.
func SplitPayload(payload string, size int) []string {
	if size <= 0 {
		size = len(payload)
	}
	var chunks []string
	for len(payload) > 0 {
		n := min(size, len(payload))
		chunks = append(chunks, payload[:n])
		payload = payload[n:]
	}
	return chunks
}
