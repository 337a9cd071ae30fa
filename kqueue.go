//go:build freebsd || darwin

package capfd

import (
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Filter is a kevent filter (EVFILT_*).
type Filter int16

const (
	FilterRead   Filter = unix.EVFILT_READ
	FilterWrite  Filter = unix.EVFILT_WRITE
	FilterVnode  Filter = unix.EVFILT_VNODE
	FilterProc   Filter = unix.EVFILT_PROC
	FilterSignal Filter = unix.EVFILT_SIGNAL
	FilterTimer  Filter = unix.EVFILT_TIMER
	FilterUser   Filter = unix.EVFILT_USER
)

// Flag holds kevent action and status flags (EV_*).
type Flag uint16

const (
	FlagAdd     Flag = unix.EV_ADD
	FlagDelete  Flag = unix.EV_DELETE
	FlagEnable  Flag = unix.EV_ENABLE
	FlagDisable Flag = unix.EV_DISABLE
	FlagOneshot Flag = unix.EV_ONESHOT
	FlagClear   Flag = unix.EV_CLEAR
	FlagReceipt Flag = unix.EV_RECEIPT
	FlagEOF     Flag = unix.EV_EOF
	FlagError   Flag = unix.EV_ERROR
)

// Change is a registration record submitted to the kqueue.
type Change struct {
	Ident  uint64
	Filter Filter
	Flags  Flag
	Fflags uint32
	Data   int64
}

// Event is a fired event. For FilterSignal, Data is the number of times the
// signal was delivered since the last report.
type Event struct {
	Ident  uint64
	Filter Filter
	Flags  Flag
	Fflags uint32
	Data   int64
}

// ReadChange registers interest in fd becoming readable.
func ReadChange(fd int, flags Flag) Change {
	return Change{Ident: uint64(fd), Filter: FilterRead, Flags: flags}
}

// WriteChange registers interest in fd becoming writable.
func WriteChange(fd int, flags Flag) Change {
	return Change{Ident: uint64(fd), Filter: FilterWrite, Flags: flags}
}

// TimerChange registers a periodic timer with the given identifier. The
// period is rounded down to milliseconds.
func TimerChange(ident uint64, period time.Duration, flags Flag) Change {
	return Change{Ident: ident, Filter: FilterTimer, Flags: flags, Data: period.Milliseconds()}
}

// SignalChange registers interest in deliveries of sig.
func SignalChange(sig unix.Signal, flags Flag) Change {
	return Change{Ident: uint64(sig), Filter: FilterSignal, Flags: flags}
}

// UserChange registers or updates a user event. Pass unix.NOTE_TRIGGER in
// fflags to fire it.
func UserChange(ident uint64, flags Flag, fflags uint32) Change {
	return Change{Ident: ident, Filter: FilterUser, Flags: flags, Fflags: fflags}
}

// Kqueue is a Descriptor for a kernel event queue.
type Kqueue struct {
	*Descriptor
}

// NewKqueue creates a kqueue. Kqueues are not inherited by children created
// with fork(2), so no close-on-exec handling is needed.
func NewKqueue() (*Kqueue, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, newSyscallError("kqueue", err)
	}
	return &Kqueue{Descriptor: NewDescriptor(fd, KindKqueue)}, nil
}

// Submit applies changes and waits for up to maxReturned events in a single
// kevent(2) call, so no event can fire between registering and waiting. A nil
// timeout blocks until an event arrives; a zero timeout polls.
//
// It returns the number of fired events and exactly that many records. If
// kevent is interrupted after the changes were applied, it is retried
// without them.
func (kq *Kqueue) Submit(changes []Change, maxReturned int, timeout *time.Duration) (int, []Event, error) {
	if maxReturned < 0 {
		return 0, nil, xerrors.Errorf("kevent: negative event count %d: %w", maxReturned, ErrArgument)
	}

	kchanges := make([]unix.Kevent_t, len(changes))
	for i, c := range changes {
		unix.SetKevent(&kchanges[i], int(c.Ident), int(c.Filter), int(c.Flags))
		kchanges[i].Fflags = c.Fflags
		kchanges[i].Data = c.Data
	}
	kevents := make([]unix.Kevent_t, maxReturned)

	var ts *unix.Timespec
	if timeout != nil {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	var n int
	err := kq.Borrow(func(fd int) error {
		for {
			var err error
			n, err = unix.Kevent(fd, kchanges, kevents, ts)
			if err != unix.EINTR {
				return err
			}
			// The changes were applied before the wait was interrupted.
			kchanges = nil
		}
	})
	if err != nil {
		return 0, nil, wrapSyscall("kevent", err)
	}

	events := make([]Event, n)
	for i := 0; i < n; i++ {
		ev := kevents[i]
		events[i] = Event{
			Ident:  uint64(ev.Ident),
			Filter: Filter(ev.Filter),
			Flags:  Flag(ev.Flags),
			Fflags: ev.Fflags,
			Data:   int64(ev.Data),
		}
	}
	return n, events, nil
}
