package transfer

import (
	"bytes"
	"time"
)

// Session is the in-memory reassembly state of one chunked transfer.
// len(chunks) == TotalChunks for the whole lifetime of the session.
type Session struct {
	ID          string
	TotalChunks int
	FileName    string
	ContentType string
	StagingPath string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	chunks   [][]byte
	received []bool
}

func newSession(req StartRequest, stagingPath string, now time.Time) *Session {
	return &Session{
		ID:          req.TransferID,
		TotalChunks: req.TotalChunks,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		StagingPath: stagingPath,
		CreatedAt:   now,
		UpdatedAt:   now,
		chunks:      make([][]byte, req.TotalChunks),
		received:    make([]bool, req.TotalChunks),
	}
}

// put stores a chunk. Re-sent indices overwrite the previous payload.
// It reports false for an index outside [0, TotalChunks).
func (s *Session) put(index int, data []byte, now time.Time) bool {
	if index < 0 || index >= s.TotalChunks {
		return false
	}
	s.chunks[index] = data
	s.received[index] = true
	s.UpdatedAt = now
	return true
}

// Received returns the number of filled slots.
func (s *Session) Received() int {
	n := 0
	for _, ok := range s.received {
		if ok {
			n++
		}
	}
	return n
}

// Missing returns the unset indices in ascending order.
func (s *Session) Missing() []int {
	var missing []int
	for i, ok := range s.received {
		if !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Progress returns received/total as a percentage. An empty transfer is complete.
func (s *Session) Progress() float64 {
	if s.TotalChunks == 0 {
		return 100
	}
	return float64(s.Received()) / float64(s.TotalChunks) * 100
}

// Assemble concatenates chunk payloads in index order.
func (s *Session) Assemble() []byte {
	return bytes.Join(s.chunks, nil)
}
