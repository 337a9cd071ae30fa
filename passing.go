//go:build linux || freebsd || darwin

package capfd

import (
	"io"
	"runtime"

	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// SendDescriptors writes payload to the socket with the handles of descs
// attached as one SCM_RIGHTS control message. The receiver gets its own
// handles for the same kernel objects; descs stay owned by the caller.
//
// payload must not be empty: AF_UNIX sockets cannot carry rights on a message
// without ordinary data.
func (s *Socket) SendDescriptors(descs []*Descriptor, payload []byte) error {
	if len(payload) == 0 {
		return xerrors.Errorf("send descriptors: payload must not be empty: %w", ErrArgument)
	}
	fds := make([]int, len(descs))
	for i, d := range descs {
		if !d.Valid() {
			return xerrors.Errorf("send descriptors: descriptor %d: %w", i, ErrInvalidHandle)
		}
		fds[i] = d.fd
	}
	oob := EncodeRights(fds)

	err := s.Borrow(func(sfd int) error {
		for sent := 0; sent < len(payload); {
			var n int
			err := ignoringEINTR(func() (err error) {
				n, err = unix.SendmsgN(sfd, payload[sent:], oob, nil, 0)
				return err
			})
			if err != nil {
				return err
			}
			sent += n
			// Don't resend the control message with the rest of the payload.
			oob = nil
		}
		return nil
	})
	runtime.KeepAlive(descs)
	if err != nil {
		return xerrors.Errorf("send %d descriptors: %w", len(descs), wrapSyscall("sendmsg", err))
	}
	return nil
}

// DonateDescriptors is SendDescriptors followed by releasing descs. Donation
// is destructive: on success the caller no longer owns any of descs.
func (s *Socket) DonateDescriptors(descs []*Descriptor, payload []byte) error {
	err := s.SendDescriptors(descs, payload)
	if err != nil {
		return err
	}
	return releaseAll(descs)
}

// RecvDescriptors reads up to bufferSize bytes of payload and up to
// maxDescriptors handles from the socket. The returned Descriptors are owned
// by the caller and tagged KindUnknown.
//
// If the sender attached more handles than maxDescriptors the kernel
// truncates the control data; this is reported as ErrProtocol and every
// handle that did arrive is closed. io.EOF is returned when the peer has
// closed the connection.
func (s *Socket) RecvDescriptors(maxDescriptors, bufferSize int) ([]byte, []*Descriptor, error) {
	if bufferSize <= 0 || maxDescriptors < 0 {
		return nil, nil, xerrors.Errorf("recv descriptors: bufferSize %d, maxDescriptors %d: %w",
			bufferSize, maxDescriptors, ErrArgument)
	}
	buf := make([]byte, bufferSize)
	var oob []byte
	if maxDescriptors > 0 {
		oob = make([]byte, RightsSpace(maxDescriptors))
	}

	var n, oobn, flags int
	err := s.Borrow(func(sfd int) error {
		return ignoringEINTR(func() (err error) {
			n, oobn, flags, _, err = unix.Recvmsg(sfd, buf, oob, recvmsgFlags)
			return err
		})
	})
	if err != nil {
		return nil, nil, xerrors.Errorf("recv descriptors: %w", wrapSyscall("recvmsg", err))
	}
	if oobn > len(oob) {
		return nil, nil, xerrors.Errorf("recvmsg reported %d bytes of control data for a %d byte buffer: %w",
			oobn, len(oob), ErrProtocol)
	}

	fds, perr := ParseRights(oob[:oobn])
	setCloexecReceived(fds)
	descs := make([]*Descriptor, len(fds))
	for i, fd := range fds {
		descs[i] = NewDescriptor(fd, KindUnknown)
	}
	if perr == nil && len(descs) > maxDescriptors {
		perr = xerrors.Errorf("received %d descriptors, expected at most %d: %w", len(descs), maxDescriptors, ErrProtocol)
	}
	if perr == nil && flags&unix.MSG_CTRUNC != 0 {
		perr = xerrors.Errorf("control data truncated, peer sent more than %d descriptors: %w", maxDescriptors, ErrProtocol)
	}
	if perr != nil {
		if err := releaseAll(descs); err != nil {
			perr = multierror.Append(perr, err)
		}
		return nil, nil, perr
	}

	if n == 0 && len(descs) == 0 {
		return nil, nil, io.EOF
	}
	return buf[:n], descs, nil
}

// taggedEnvelope is the CBOR payload written by SendTagged. Kinds lines up
// with the SCM_RIGHTS handle array.
type taggedEnvelope struct {
	Kinds   []Kind `cbor:"1,keyasint"`
	Payload []byte `cbor:"2,keyasint,omitempty"`
}

// SendTagged sends descs like SendDescriptors, with payload wrapped in an
// envelope that also records each descriptor's Kind. The peer must read it
// with RecvTagged. Unlike SendDescriptors, payload may be empty.
//
// The envelope is sent with a single write; bufferSize on the receiving side
// must cover the whole envelope.
func (s *Socket) SendTagged(descs []*Descriptor, payload []byte) error {
	env := taggedEnvelope{
		Kinds:   make([]Kind, len(descs)),
		Payload: payload,
	}
	for i, d := range descs {
		if d != nil {
			env.Kinds[i] = d.kind
		}
	}
	b, err := cbor.Marshal(env)
	if err != nil {
		return xerrors.Errorf("marshal tagged envelope: %w", err)
	}
	return s.SendDescriptors(descs, b)
}

// RecvTagged reads a message written by SendTagged and restores the Kind of
// every received Descriptor.
func (s *Socket) RecvTagged(maxDescriptors, bufferSize int) ([]byte, []*Descriptor, error) {
	b, descs, err := s.RecvDescriptors(maxDescriptors, bufferSize)
	if err != nil {
		return nil, nil, err
	}

	var env taggedEnvelope
	err = cbor.Unmarshal(b, &env)
	if err == nil && len(env.Kinds) != len(descs) {
		err = xerrors.Errorf("envelope lists %d kinds for %d descriptors", len(env.Kinds), len(descs))
	}
	if err != nil {
		var merr error = xerrors.Errorf("decode tagged envelope: %v: %w", err, ErrProtocol)
		if rerr := releaseAll(descs); rerr != nil {
			merr = multierror.Append(merr, rerr)
		}
		return nil, nil, merr
	}

	for i, d := range descs {
		d.kind = env.Kinds[i]
	}
	return env.Payload, descs, nil
}

// releaseAll releases every descriptor and combines the errors.
func releaseAll(descs []*Descriptor) error {
	var merr error
	for i, d := range descs {
		if err := d.Release(); err != nil {
			merr = multierror.Append(merr, xerrors.Errorf("release descriptor %d: %w", i, err))
		}
	}
	return merr
}
