// Package protocol exposes the observer WebSocket frames to external clients.
package protocol

import (
	"github.com/awattacker/observer/internal/model"
	"github.com/awattacker/observer/internal/protocol"
)

// Re-export types from internal/protocol for external use
type (
	MessageType      = protocol.MessageType
	ClientFrame      = protocol.ClientFrame
	ServerFrame      = protocol.ServerFrame
	FrameError       = protocol.FrameError
	Pong             = protocol.Pong
	Start            = protocol.Start
	Chunk            = protocol.Chunk
	End              = protocol.End
	Unknown          = protocol.Unknown
	Ping             = protocol.Ping
	TransferAck      = protocol.TransferAck
	TransferProgress = protocol.TransferProgress
	TransferComplete = protocol.TransferComplete
	TransferError    = protocol.TransferError
	WindowEvent      = model.WindowEvent
)

const (
	TypePong               = protocol.TypePong
	TypeStart              = protocol.TypeStart
	TypeChunk              = protocol.TypeChunk
	TypeEnd                = protocol.TypeEnd
	TypePing               = protocol.TypePing
	TypeWindowStateChanged = protocol.TypeWindowStateChanged
	TypeTransferAck        = protocol.TypeTransferAck
	TypeTransferProgress   = protocol.TypeTransferProgress
	TypeTransferComplete   = protocol.TypeTransferComplete
	TypeTransferError      = protocol.TypeTransferError
)

// EncodeClientFrame serializes a client frame with its "type" discriminator.
func EncodeClientFrame(f ClientFrame) ([]byte, error) {
	return protocol.EncodeClientFrame(f)
}

// DecodeServerFrame parses one frame received from the server.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	return protocol.DecodeServerFrame(data)
}

// SplitPayload cuts a base64 payload into chunks of at most size characters.
func SplitPayload(payload string, size int) []string {
	return protocol.SplitPayload(payload, size)
}
