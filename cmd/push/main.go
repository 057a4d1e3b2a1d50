// Command push uploads a file to an observer server over the chunked
// transfer protocol, or with -watch prints window events as they arrive.
package main

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/awattacker/observer/pkg/protocol"
)

const defaultChunkSize = 64 * 1024

// conn serializes writes on a websocket connection.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(f protocol.ClientFrame) error {
	data, err := protocol.EncodeClientFrame(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// readFrames decodes server frames until the connection fails. Pings are
// answered here and never reach the channel.
func (c *conn) readFrames(frames chan<- protocol.ServerFrame, errs chan<- error) {
	defer close(frames)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		frame, err := protocol.DecodeServerFrame(data)
		if err != nil {
			log.Printf("Skipping invalid frame: %v", err)
			continue
		}
		if _, ok := frame.(protocol.Ping); ok {
			if err := c.send(protocol.Pong{}); err != nil {
				errs <- err
				return
			}
			continue
		}
		frames <- frame
	}
}

func main() {
	serverAddr := flag.String("server", "ws://localhost:8000/ws", "WebSocket server address")
	filePath := flag.String("file", "", "File to upload")
	name := flag.String("name", "", "File name reported to the server (default: base name of -file)")
	contentType := flag.String("content-type", "", "Content type (default: detected from the file)")
	chunkSize := flag.Int("chunk-size", defaultChunkSize, "Characters of base64 per chunk")
	timeout := flag.Duration("timeout", time.Minute, "Time to wait for the transfer to complete")
	watch := flag.Bool("watch", false, "Print window events instead of uploading")
	flag.Parse()

	if !*watch && *filePath == "" {
		log.Fatal("File is required. Use -file flag, or -watch")
	}

	ws, _, err := websocket.DefaultDialer.Dial(*serverAddr, nil)
	if err != nil {
		log.Fatalf("Failed to connect to server: %v", err)
	}
	defer ws.Close()
	log.Printf("Connected to %s", *serverAddr)

	c := &conn{ws: ws}
	frames := make(chan protocol.ServerFrame, 64)
	errs := make(chan error, 1)
	go c.readFrames(frames, errs)

	if *watch {
		watchEvents(frames, errs)
		return
	}

	data, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatalf("Failed to read file: %v", err)
	}
	if *name == "" {
		*name = filepath.Base(*filePath)
	}
	if *contentType == "" {
		*contentType = mimetype.Detect(data).String()
	}

	fileID := uuid.New().String()
	chunks := protocol.SplitPayload(base64.StdEncoding.EncodeToString(data), *chunkSize)

	// Replies are drained while chunks are still going out.
	go func() {
		if err := upload(c, fileID, *name, *contentType, chunks); err != nil {
			log.Fatalf("Failed to send transfer: %v", err)
		}
	}()

	savedPath, err := awaitCompletion(fileID, frames, errs, *timeout)
	if err != nil {
		log.Fatalf("Transfer %s failed: %v", fileID, err)
	}
	fmt.Println(savedPath)
}

func upload(c *conn, fileID, name, contentType string, chunks []string) error {
	now := time.Now().UnixMilli()
	if err := c.send(protocol.Start{
		FileID:      fileID,
		TotalChunks: len(chunks),
		FileName:    name,
		ContentType: contentType,
		Timestamp:   now,
	}); err != nil {
		return err
	}
	for i, chunk := range chunks {
		if err := c.send(protocol.Chunk{FileID: fileID, ChunkIndex: i, ChunkData: chunk, Timestamp: now}); err != nil {
			return err
		}
	}
	return c.send(protocol.End{FileID: fileID, Timestamp: now})
}

func awaitCompletion(fileID string, frames <-chan protocol.ServerFrame, errs <-chan error, timeout time.Duration) (string, error) {
	deadline := time.After(timeout)
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return "", <-errs
			}
			switch f := frame.(type) {
			case protocol.TransferAck:
				if f.FileID == fileID {
					log.Printf("Transfer started, staging at %s", f.TempFile)
				}
			case protocol.TransferProgress:
				if f.FileID == fileID {
					log.Printf("Received %d/%d chunks (%.1f%%)", f.ReceivedChunks, f.TotalChunks, f.Progress)
				}
			case protocol.TransferComplete:
				if f.FileID == fileID {
					return f.SavedPath, nil
				}
			case protocol.TransferError:
				if f.FileID == fileID || f.FileID == "" {
					return "", errors.New(f.Error)
				}
			}
		case <-deadline:
			return "", fmt.Errorf("no completion after %s", timeout)
		}
	}
}

func watchEvents(frames <-chan protocol.ServerFrame, errs <-chan error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				log.Printf("Connection closed: %v", <-errs)
				return
			}
			if ev, ok := frame.(protocol.WindowEvent); ok {
				fmt.Printf("%s %s/%s source_changed=%t\n",
					time.UnixMilli(ev.Timestamp).Format(time.RFC3339), ev.PackageName, ev.ActivityName, ev.SourceChanged)
			}
		case <-sigCh:
			log.Println("Disconnected from server")
			return
		}
	}
}
