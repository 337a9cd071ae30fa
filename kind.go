package capfd

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind classifies the kernel object behind a descriptor. It is attached when
// the creator knows the category and is only used for classification in
// heterogeneous collections; generic operations never branch on it.
type Kind uint16

const (
	KindUnknown Kind = iota
	KindFile
	KindDirectory
	KindDevice
	KindSocket
	KindKqueue
	KindProcess
	KindJail
	KindSharedMemory
	KindEvent
	KindPipe

	kindCount
)

// kindOwning is set on jail descriptors whose release removes the jail.
const kindOwning Kind = 1 << 15

var kindNames = [kindCount]string{
	KindUnknown:      "unknown",
	KindFile:         "file",
	KindDirectory:    "directory",
	KindDevice:       "device",
	KindSocket:       "socket",
	KindKqueue:       "kqueue",
	KindProcess:      "process",
	KindJail:         "jail",
	KindSharedMemory: "shm",
	KindEvent:        "event",
	KindPipe:         "pipe",
}

// WithOwning returns k with the owning flag set. The flag is only meaningful
// for KindJail.
func (k Kind) WithOwning() Kind {
	return k | kindOwning
}

// Owning reports whether the owning flag is set.
func (k Kind) Owning() bool {
	return k&kindOwning != 0
}

// Base returns k without flags.
func (k Kind) Base() Kind {
	return k &^ kindOwning
}

func (k Kind) String() string {
	b := k.Base()
	if b >= kindCount {
		return fmt.Sprintf("kind(%d)", uint16(b))
	}
	if k.Owning() {
		return kindNames[b] + "+owning"
	}
	return kindNames[b]
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		switch s {
		case name:
			return Kind(i), nil
		case name + "+owning":
			return Kind(i).WithOwning(), nil
		}
	}
	return KindUnknown, xerrors.Errorf("parse kind %q: %w", s, ErrArgument)
}
