//go:build linux || freebsd || darwin

package capfd_test

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"cdr.dev/capfd"
)

func socketPair(t *testing.T) (*capfd.Socket, *capfd.Socket) {
	t.Helper()

	a, b, err := capfd.SocketPair()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Release()
		_ = b.Release()
	})
	return a, b
}

func requireSameObject(t *testing.T, a, b *capfd.Descriptor) {
	t.Helper()

	sa, err := a.Stat()
	require.NoError(t, err)
	sb, err := b.Stat()
	require.NoError(t, err)
	require.Equal(t, sa.Dev, sb.Dev, "dev")
	require.Equal(t, sa.Ino, sb.Ino, "ino")
}

func TestDescriptorPassing(t *testing.T) {
	t.Parallel()

	t.Run("RoundTrip", func(t *testing.T) {
		t.Parallel()

		a, b := socketPair(t)
		f, err := capfd.Open(tempFile(t, "passed"), unix.O_RDONLY, 0)
		require.NoError(t, err)
		defer f.Release()
		r, w, err := capfd.Pipe()
		require.NoError(t, err)
		defer r.Release()
		defer w.Release()

		err = a.SendDescriptors([]*capfd.Descriptor{f, w}, []byte("hi"))
		require.NoError(t, err)
		require.True(t, f.Valid(), "sender keeps its descriptors")

		payload, descs, err := b.RecvDescriptors(4, 16)
		require.NoError(t, err)
		require.Equal(t, "hi", string(payload))
		require.Len(t, descs, 2)
		defer func() {
			for _, d := range descs {
				_ = d.Release()
			}
		}()

		require.Equal(t, capfd.KindUnknown, descs[0].Kind())
		require.NotEqual(t, f.FD(), descs[0].FD())
		requireSameObject(t, f, descs[0])

		// The received write end feeds the original read end.
		_, err = descs[1].Write([]byte("through"))
		require.NoError(t, err)
		buf := make([]byte, 16)
		n, err := r.Read(buf)
		require.NoError(t, err)
		require.Equal(t, "through", string(buf[:n]))

		cloexec, err := descs[0].CloseOnExec()
		require.NoError(t, err)
		require.True(t, cloexec)
	})

	t.Run("NoDescriptors", func(t *testing.T) {
		t.Parallel()

		a, b := socketPair(t)
		err := a.SendDescriptors(nil, []byte("plain"))
		require.NoError(t, err)

		payload, descs, err := b.RecvDescriptors(2, 16)
		require.NoError(t, err)
		require.Equal(t, "plain", string(payload))
		require.Empty(t, descs)
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		t.Parallel()

		a, _ := socketPair(t)
		f, err := capfd.Open(tempFile(t, ""), unix.O_RDONLY, 0)
		require.NoError(t, err)
		defer f.Release()

		err = a.SendDescriptors([]*capfd.Descriptor{f}, nil)
		require.True(t, xerrors.Is(err, capfd.ErrArgument), "%+v", err)

		err = a.SendDescriptors(nil, []byte{})
		require.True(t, xerrors.Is(err, capfd.ErrArgument), "%+v", err)

		// A released socket would fail with ErrInvalidHandle if a syscall was
		// attempted.
		require.NoError(t, a.Release())
		err = a.SendDescriptors(nil, nil)
		require.True(t, xerrors.Is(err, capfd.ErrArgument), "%+v", err)
	})

	t.Run("ReleasedDescriptor", func(t *testing.T) {
		t.Parallel()

		a, _ := socketPair(t)
		f, err := capfd.Open(tempFile(t, ""), unix.O_RDONLY, 0)
		require.NoError(t, err)
		require.NoError(t, f.Release())

		err = a.SendDescriptors([]*capfd.Descriptor{f}, []byte("x"))
		require.True(t, xerrors.Is(err, capfd.ErrInvalidHandle))
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		t.Parallel()

		_, b := socketPair(t)
		_, _, err := b.RecvDescriptors(1, 0)
		require.True(t, xerrors.Is(err, capfd.ErrArgument))
		_, _, err = b.RecvDescriptors(-1, 8)
		require.True(t, xerrors.Is(err, capfd.ErrArgument))
	})

	t.Run("TooManyDescriptors", func(t *testing.T) {
		t.Parallel()

		a, b := socketPair(t)
		descs := make([]*capfd.Descriptor, 0, 4)
		for i := 0; i < 4; i++ {
			f, err := capfd.Open(tempFile(t, ""), unix.O_RDONLY, 0)
			require.NoError(t, err)
			defer f.Release()
			descs = append(descs, f)
		}

		err := a.SendDescriptors(descs, []byte("x"))
		require.NoError(t, err)

		_, got, err := b.RecvDescriptors(1, 8)
		require.True(t, xerrors.Is(err, capfd.ErrProtocol), "%+v", err)
		require.Nil(t, got)
	})

	t.Run("EOF", func(t *testing.T) {
		t.Parallel()

		a, b := socketPair(t)
		require.NoError(t, a.Release())

		_, _, err := b.RecvDescriptors(1, 8)
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("Donate", func(t *testing.T) {
		t.Parallel()

		a, b := socketPair(t)
		f, err := capfd.Open(tempFile(t, "donated"), unix.O_RDONLY, 0)
		require.NoError(t, err)
		dup, err := f.Duplicate()
		require.NoError(t, err)
		defer dup.Release()

		err = a.DonateDescriptors([]*capfd.Descriptor{f}, []byte("d"))
		require.NoError(t, err)
		require.False(t, f.Valid())

		_, descs, err := b.RecvDescriptors(1, 8)
		require.NoError(t, err)
		require.Len(t, descs, 1)
		defer descs[0].Release()
		requireSameObject(t, dup, descs[0])
	})

	t.Run("Tagged", func(t *testing.T) {
		t.Parallel()

		a, b := socketPair(t)
		dir, err := capfd.OpenDirectory(t.TempDir())
		require.NoError(t, err)
		defer dir.Release()
		r, w, err := capfd.Pipe()
		require.NoError(t, err)
		defer r.Release()
		defer w.Release()

		err = a.SendTagged([]*capfd.Descriptor{dir, r}, nil)
		require.NoError(t, err)

		payload, descs, err := b.RecvTagged(2, 256)
		require.NoError(t, err)
		require.Empty(t, payload)
		require.Len(t, descs, 2)
		defer descs[0].Release()
		defer descs[1].Release()
		require.Equal(t, capfd.KindDirectory, descs[0].Kind())
		require.Equal(t, capfd.KindPipe, descs[1].Kind())
		requireSameObject(t, dir, descs[0])
	})

	t.Run("TaggedGarbage", func(t *testing.T) {
		t.Parallel()

		a, b := socketPair(t)
		f, err := capfd.Open(tempFile(t, ""), unix.O_RDONLY, 0)
		require.NoError(t, err)
		defer f.Release()

		// An untagged message with a descriptor is not a valid envelope.
		err = a.SendDescriptors([]*capfd.Descriptor{f}, []byte{0xff, 0x00})
		require.NoError(t, err)

		_, descs, err := b.RecvTagged(1, 64)
		require.True(t, xerrors.Is(err, capfd.ErrProtocol), "%+v", err)
		require.Nil(t, descs)
	})

	t.Run("Listener", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "sock")
		l, err := capfd.ListenUnix(path, 1)
		require.NoError(t, err)
		defer l.Release()

		c, err := capfd.DialUnix(path)
		require.NoError(t, err)
		defer c.Release()

		s, err := l.Accept()
		require.NoError(t, err)
		defer s.Release()

		err = c.SendDescriptors([]*capfd.Descriptor{l.Descriptor}, []byte("l"))
		require.NoError(t, err)
		_, descs, err := s.RecvDescriptors(1, 8)
		require.NoError(t, err)
		require.Len(t, descs, 1)
		defer descs[0].Release()

		st, err := descs[0].Stat()
		require.NoError(t, err)
		require.Equal(t, capfd.KindSocket, capfd.KindOf(&st))
	})
}
