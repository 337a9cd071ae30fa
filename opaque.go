//go:build linux || freebsd || darwin

package capfd

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// opaqueBox is the shared state behind every OpaqueRef clone.
type opaqueBox struct {
	mu   sync.Mutex
	fd   int
	kind Kind
	refs int
}

// OpaqueRef is a shared, reference-counted handle for storing descriptors of
// different kinds in ordinary collections. The handle is closed exactly once,
// when the last reference is released.
//
// Unlike Descriptor, an OpaqueRef is safe for concurrent use and has no Take.
type OpaqueRef struct {
	box  *opaqueBox
	once sync.Once
	// released is guarded by box.mu.
	released bool
}

// NewOpaqueRef takes ownership of d's handle. d is released (without closing
// the handle) and must not be used afterwards.
func NewOpaqueRef(d *Descriptor) (*OpaqueRef, error) {
	kind := d.Kind()
	fd, err := d.Take()
	if err != nil {
		return nil, xerrors.Errorf("new opaque ref: %w", err)
	}
	return &OpaqueRef{box: &opaqueBox{fd: fd, kind: kind, refs: 1}}, nil
}

// Kind returns the kind of the wrapped handle.
func (r *OpaqueRef) Kind() Kind {
	return r.box.kind
}

// Refs returns the number of live references to the handle.
func (r *OpaqueRef) Refs() int {
	r.box.mu.Lock()
	defer r.box.mu.Unlock()
	return r.box.refs
}

// Clone returns a new reference to the same handle. It fails if r has been
// released, even while other clones keep the handle open.
func (r *OpaqueRef) Clone() (*OpaqueRef, error) {
	b := r.box
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.released || b.fd == released {
		return nil, xerrors.Errorf("clone opaque ref: %w", ErrInvalidHandle)
	}
	b.refs++
	return &OpaqueRef{box: b}, nil
}

// Borrow calls fn with the raw handle while holding the reference lock, so
// the handle cannot be closed during the call. fn must not release r or any
// of its clones. Borrowing through a released reference fails.
func (r *OpaqueRef) Borrow(fn func(fd int) error) error {
	b := r.box
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.released || b.fd == released {
		return xerrors.Errorf("use of released opaque ref: %w", ErrInvalidHandle)
	}
	return fn(b.fd)
}

// Release drops this reference. Releasing the same OpaqueRef twice is a no-op.
// The handle is closed when the last reference is dropped.
func (r *OpaqueRef) Release() error {
	var err error
	r.once.Do(func() {
		b := r.box
		b.mu.Lock()
		defer b.mu.Unlock()
		r.released = true
		b.refs--
		if b.refs > 0 {
			return
		}
		fd := b.fd
		b.fd = released
		if cerr := unix.Close(fd); cerr != nil && cerr != unix.EINTR {
			err = newSyscallError("close", cerr)
		}
	})
	return err
}

// DescriptorSet is a concurrency-safe collection of OpaqueRefs.
type DescriptorSet struct {
	mu   sync.Mutex
	refs []*OpaqueRef
}

// Add stores ref in the set. The set takes over that reference.
func (s *DescriptorSet) Add(ref *OpaqueRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, ref)
}

// AddDescriptor wraps d in an OpaqueRef and stores it.
func (s *DescriptorSet) AddDescriptor(d *Descriptor) error {
	ref, err := NewOpaqueRef(d)
	if err != nil {
		return err
	}
	s.Add(ref)
	return nil
}

// Len returns the number of references in the set.
func (s *DescriptorSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refs)
}

// Range calls fn for each reference in insertion order until fn returns
// false. The references stay owned by the set; fn must not release them.
func (s *DescriptorSet) Range(fn func(ref *OpaqueRef) bool) {
	s.mu.Lock()
	refs := append([]*OpaqueRef(nil), s.refs...)
	s.mu.Unlock()

	for _, ref := range refs {
		if !fn(ref) {
			return
		}
	}
}

// OfKind returns new references to every member of the given kind. The
// caller owns the returned references and must release them.
func (s *DescriptorSet) OfKind(kind Kind) ([]*OpaqueRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*OpaqueRef
	for _, ref := range s.refs {
		if ref.Kind() != kind {
			continue
		}
		c, err := ref.Clone()
		if err != nil {
			for _, o := range out {
				_ = o.Release()
			}
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Kinds counts the members of each kind.
func (s *DescriptorSet) Kinds() map[Kind]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[Kind]int)
	for _, ref := range s.refs {
		counts[ref.Kind()]++
	}
	return counts
}

// Close releases every reference held by the set and empties it. Handles
// still referenced elsewhere stay open.
func (s *DescriptorSet) Close() error {
	s.mu.Lock()
	refs := s.refs
	s.refs = nil
	s.mu.Unlock()

	var merr error
	for _, ref := range refs {
		if err := ref.Release(); err != nil {
			merr = multierror.Append(merr, xerrors.Errorf("release %s ref: %w", ref.Kind(), err))
		}
	}
	return merr
}
