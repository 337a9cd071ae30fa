//go:build freebsd || darwin

package capfd

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"cdr.dev/slog"
	"github.com/eapache/queue"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// maxSignal is the highest signal number the Go runtime can take over from the
// default disposition.
const maxSignal = 32

// wakeIdent identifies the EVFILT_USER event used to interrupt a blocked drain.
const wakeIdent = 0x63617066

const defaultMaxEvents = 64

// Signal is a kernel signal number.
type Signal unix.Signal

// Catchable reports whether the kernel lets a process catch or block sig.
// SIGKILL and SIGSTOP are never catchable.
func (sig Signal) Catchable() bool {
	return sig != Signal(unix.SIGKILL) && sig != Signal(unix.SIGSTOP)
}

func (sig Signal) String() string {
	if name := unix.SignalName(unix.Signal(sig)); name != "" {
		return name
	}
	return unix.Signal(sig).String()
}

// SignalHandler is called once per dequeued occurrence of a signal.
type SignalHandler func(sig Signal)

// closedError is returned by a SignalDispatcher after Close. It matches both
// io.EOF, so read loops can stop, and ErrInvalidHandle, because the kqueue has
// been released.
type closedError struct{}

func (closedError) Error() string {
	return "signal dispatcher is closed"
}

func (closedError) Is(target error) bool {
	return target == io.EOF || target == ErrInvalidHandle
}

var errDispatcherClosed error = closedError{}

// DispatcherOpts configures a SignalDispatcher. All fields are optional.
type DispatcherOpts struct {
	// MaxEvents bounds the number of kevent records returned by one drain.
	// Defaults to 64.
	MaxEvents int
	// Logger receives debug logs for drains and dispatches. The zero value
	// discards everything.
	Logger slog.Logger
}

// SignalDispatcher turns signal delivery into a deterministic queue of
// occurrences backed by a kqueue. Each kernel report of a signal is enqueued
// as many times as the kernel says it was delivered, and occurrences are
// handed out in FIFO order.
//
// Creating a dispatcher changes process-wide signal handling: the watched
// signals no longer run their default action (termination, for most) until
// the dispatcher is closed. Only one dispatcher per signal should be active
// at a time.
//
// Drain, Dispatch, Next, Read, Run and On must be called from a single
// goroutine. Close may be called from any goroutine and stops a blocked
// drain.
type SignalDispatcher struct {
	kq        *Kqueue
	sink      chan os.Signal
	pending   *queue.Queue
	handlers  map[Signal][]SignalHandler
	maxEvents int
	log       slog.Logger

	closeLock sync.Mutex
	closed    bool
	draining  bool
}

// NewSignalDispatcher watches signals. Construction validates every signal
// first and fails with ErrArgument before touching any process state if one
// cannot be caught. It then takes the signals away from their default
// disposition and only afterwards registers them with a new kqueue, so no
// occurrence can slip through to the old disposition unobserved.
func NewSignalDispatcher(signals []Signal, opts *DispatcherOpts) (*SignalDispatcher, error) {
	if opts == nil {
		opts = &DispatcherOpts{}
	}
	maxEvents := opts.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	watched := make(map[Signal]struct{}, len(signals))
	for _, sig := range signals {
		if sig <= 0 || sig > maxSignal {
			return nil, xerrors.Errorf("signal %d out of range: %w", int(sig), ErrArgument)
		}
		if !sig.Catchable() {
			return nil, xerrors.Errorf("signal %v cannot be caught: %w", sig, ErrArgument)
		}
		watched[sig] = struct{}{}
	}

	kq, err := NewKqueue()
	if err != nil {
		return nil, xerrors.Errorf("create kqueue: %w", err)
	}

	// Block: route the signals to a channel nobody reads. The runtime drops
	// deliveries once the buffer is full, and the kqueue still records every
	// one of them.
	sink := make(chan os.Signal, 1)
	osSignals := make([]os.Signal, 0, len(watched))
	for sig := range watched {
		osSignals = append(osSignals, unix.Signal(sig))
	}
	if len(osSignals) > 0 {
		signal.Notify(sink, osSignals...)
	}

	changes := make([]Change, 0, len(watched)+1)
	changes = append(changes, UserChange(wakeIdent, FlagAdd|FlagClear, 0))
	for sig := range watched {
		changes = append(changes, SignalChange(unix.Signal(sig), FlagAdd|FlagClear))
	}
	zero := time.Duration(0)
	_, _, err = kq.Submit(changes, 0, &zero)
	if err != nil {
		signal.Stop(sink)
		var merr error = xerrors.Errorf("register signals: %w", err)
		if rerr := kq.Release(); rerr != nil {
			merr = multierror.Append(merr, rerr)
		}
		return nil, merr
	}

	d := &SignalDispatcher{
		kq:        kq,
		sink:      sink,
		pending:   queue.New(),
		handlers:  make(map[Signal][]SignalHandler, len(watched)),
		maxEvents: maxEvents,
		log:       opts.Logger,
	}
	for sig := range watched {
		d.handlers[sig] = nil
	}

	// It could be very bad if someone forgot to close this, since the watched
	// signals stay diverted from their default action, so we'll try to detect
	// when it doesn't get closed and log a warning.
	stack := debug.Stack()
	runtime.SetFinalizer(d, func(d *SignalDispatcher) {
		err := d.Close()
		if xerrors.Is(err, errDispatcherClosed) {
			return
		}

		log.Printf("signal dispatcher was finalized but was not closed, created at: %s", stack)
		log.Print("signal dispatchers must be closed when finished with to restore signal handling")
		if err != nil {
			log.Printf("closing signal dispatcher failed: %+v", err)
		}
	})

	return d, nil
}

// On appends h to the handlers for sig. Handlers for a signal run in the order
// they were added. sig must be one of the watched signals.
func (d *SignalDispatcher) On(sig Signal, h SignalHandler) error {
	hs, ok := d.handlers[sig]
	if !ok {
		return xerrors.Errorf("signal %v is not watched by this dispatcher: %w", sig, ErrArgument)
	}
	d.handlers[sig] = append(hs, h)
	return nil
}

// Drain waits for signal events (nil timeout blocks, zero polls) and appends
// every reported occurrence to the pending queue. It returns the number of
// occurrences added.
//
// Occurrences observed by a drain that was interrupted by Close are still
// queued; the closed error is returned alongside the count.
func (d *SignalDispatcher) Drain(timeout *time.Duration) (int, error) {
	if err := d.beginDrain(); err != nil {
		return 0, err
	}
	n, events, err := d.kq.Submit(nil, d.maxEvents, timeout)
	closed, rerr := d.endDrain()

	added := 0
	for _, ev := range events[:n] {
		if ev.Filter != FilterSignal {
			continue
		}
		// The kernel coalesces repeated deliveries and reports the count.
		times := ev.Data
		if times < 1 {
			times = 1
		}
		sig := Signal(ev.Ident)
		for i := int64(0); i < times; i++ {
			d.pending.Add(sig)
		}
		added += int(times)
		d.log.Debug(context.Background(), "signal drained",
			slog.F("signal", sig.String()),
			slog.F("count", times),
		)
	}

	switch {
	case closed:
		if rerr != nil {
			return added, multierror.Append(errDispatcherClosed, rerr)
		}
		return added, errDispatcherClosed
	case err != nil:
		return added, xerrors.Errorf("drain signal events: %w", err)
	}
	return added, nil
}

func (d *SignalDispatcher) beginDrain() error {
	d.closeLock.Lock()
	defer d.closeLock.Unlock()
	if d.closed {
		return errDispatcherClosed
	}
	if d.draining {
		return xerrors.Errorf("concurrent drain on signal dispatcher: %w", ErrArgument)
	}
	d.draining = true
	return nil
}

// endDrain reports whether Close was called during the drain, in which case
// it releases the kqueue on Close's behalf.
func (d *SignalDispatcher) endDrain() (bool, error) {
	d.closeLock.Lock()
	defer d.closeLock.Unlock()
	d.draining = false
	if !d.closed {
		return false, nil
	}
	return true, d.kq.Release()
}

// Pending returns the number of queued occurrences.
func (d *SignalDispatcher) Pending() int {
	return d.pending.Length()
}

// Next dequeues the oldest pending occurrence without running handlers.
func (d *SignalDispatcher) Next() (Signal, bool) {
	if d.pending.Length() == 0 {
		return 0, false
	}
	return d.pending.Remove().(Signal), true
}

// Dispatch dequeues every pending occurrence in FIFO order and runs the
// handlers registered for it. It returns the number of occurrences consumed.
func (d *SignalDispatcher) Dispatch() int {
	count := 0
	for {
		sig, ok := d.Next()
		if !ok {
			return count
		}
		count++
		hs := d.handlers[sig]
		d.log.Debug(context.Background(), "dispatching signal",
			slog.F("signal", sig.String()),
			slog.F("handlers", len(hs)),
		)
		for _, h := range hs {
			h(sig)
		}
	}
}

// Read returns the next occurrence, blocking in Drain while the queue is
// empty. After Close, queued occurrences are still returned before the error,
// which wraps io.EOF.
func (d *SignalDispatcher) Read() (Signal, error) {
	for {
		if sig, ok := d.Next(); ok {
			return sig, nil
		}
		_, err := d.Drain(nil)
		if err != nil {
			if sig, ok := d.Next(); ok {
				return sig, nil
			}
			return 0, err
		}
	}
}

// Run alternates between a blocking Drain and Dispatch until a drain fails.
// It returns an error wrapping io.EOF once the dispatcher is closed, and any
// other kevent failure as is.
func (d *SignalDispatcher) Run() error {
	for {
		_, err := d.Drain(nil)
		d.Dispatch()
		if err != nil {
			return err
		}
	}
}

// Close stops watching the signals and releases the kqueue. A drain blocked
// in another goroutine is woken and returns the closed error. Signal delivery
// returns to its previous disposition.
func (d *SignalDispatcher) Close() error {
	d.closeLock.Lock()
	defer d.closeLock.Unlock()
	if d.closed {
		return errDispatcherClosed
	}
	d.closed = true
	runtime.SetFinalizer(d, nil)
	signal.Stop(d.sink)

	if d.draining {
		// The draining goroutine releases the kqueue once it wakes up.
		zero := time.Duration(0)
		_, _, err := d.kq.Submit([]Change{UserChange(wakeIdent, 0, unix.NOTE_TRIGGER)}, 0, &zero)
		if err != nil {
			return xerrors.Errorf("wake signal drain: %w", err)
		}
		return nil
	}
	return d.kq.Release()
}
