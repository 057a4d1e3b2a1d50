package transfer

import "fmt"

// ResultKind tags the outcome of a transfer operation.
type ResultKind int

const (
	ResultAck ResultKind = iota
	ResultProgress
	ResultComplete
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultAck:
		return "ack"
	case ResultProgress:
		return "progress"
	case ResultComplete:
		return "complete"
	case ResultFailed:
		return "failed"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// ErrorKind classifies a failed transfer operation.
type ErrorKind string

const (
	// ErrorProtocol covers duplicate START, unknown transfer and invalid arguments.
	ErrorProtocol ErrorKind = "protocol"
	// ErrorIntegrity covers END with missing chunks.
	ErrorIntegrity ErrorKind = "integrity"
	// ErrorProcessing covers decode, parse and storage failures during END.
	ErrorProcessing ErrorKind = "processing"
)

// Error is the failure carried by a ResultFailed result.
type Error struct {
	Kind    ErrorKind
	Missing []int
	Err     error
}

func (e *Error) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%v: %v", e.Err, e.Missing)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the outcome of Start, Chunk or End.
type Result struct {
	Kind       ResultKind
	TransferID string

	// Ack and Complete
	StagingPath string

	// Progress
	Received int
	Total    int
	Progress float64

	// Complete
	SavedPath string

	// Failed
	Err *Error
}

func failed(transferID string, kind ErrorKind, err error) Result {
	return Result{
		Kind:       ResultFailed,
		TransferID: transferID,
		Err:        &Error{Kind: kind, Err: err},
	}
}
