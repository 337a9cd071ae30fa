//go:build freebsd || darwin

package capfd

import (
	"io"
	"time"
)

// SignalReader reads signal occurrences one at a time. SignalDispatcher
// implements it.
type SignalReader interface {
	io.Closer

	// Read blocks until an occurrence is available, then returns it. Once the
	// reader is closed the error wraps io.EOF.
	Read() (Signal, error)
}

var _ SignalReader = (*SignalDispatcher)(nil)

// Occurrence describes one dequeued signal delivery, for logging and
// encoding.
type Occurrence struct {
	// Seq counts occurrences read from the same reader, starting at 1.
	Seq    uint64    `json:"seq"`
	Signal string    `json:"signal"`
	Number int       `json:"number"`
	Time   time.Time `json:"time"`
}

// ReadOccurrence reads the next occurrence from r and numbers it after prev.
func ReadOccurrence(r SignalReader, prev uint64) (*Occurrence, error) {
	sig, err := r.Read()
	if err != nil {
		return nil, err
	}
	return &Occurrence{
		Seq:    prev + 1,
		Signal: sig.String(),
		Number: int(sig),
		Time:   time.Now(),
	}, nil
}
