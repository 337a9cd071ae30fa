package capfd_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"cdr.dev/capfd"
)

func TestRightConstants(t *testing.T) {
	t.Parallel()

	cases := map[capfd.Right]uint64{
		capfd.RightRead:         unix.CAP_READ,
		capfd.RightWrite:        unix.CAP_WRITE,
		capfd.RightSeek:         unix.CAP_SEEK,
		capfd.RightPread:        unix.CAP_PREAD,
		capfd.RightFstat:        unix.CAP_FSTAT,
		capfd.RightFcntl:        unix.CAP_FCNTL,
		capfd.RightLookup:       unix.CAP_LOOKUP,
		capfd.RightEvent:        unix.CAP_EVENT,
		capfd.RightIoctl:        unix.CAP_IOCTL,
		capfd.RightPdkill:       unix.CAP_PDKILL,
		capfd.RightKqueueChange: unix.CAP_KQUEUE_CHANGE,
		capfd.RightKqueue:       unix.CAP_KQUEUE,
	}
	for right, want := range cases {
		require.Equal(t, want, uint64(right), right.String())
	}
}

func TestLimit(t *testing.T) {
	t.Parallel()

	t.Run("WriteDenied", func(t *testing.T) {
		t.Parallel()

		r, w, err := capfd.Pipe()
		require.NoError(t, err)
		defer r.Release()
		defer w.Release()

		err = w.Limit(capfd.NewRights(capfd.RightFstat))
		require.NoError(t, err)

		_, err = w.Write([]byte("x"))
		require.Error(t, err)
		require.True(t, xerrors.Is(err, capfd.ErrNotCapable), "%+v", err)

		_, err = w.Stat()
		require.NoError(t, err)
	})

	t.Run("ReadEndWrite", func(t *testing.T) {
		t.Parallel()

		// FreeBSD pipes are bidirectional, so only the capability limit stops
		// the write.
		r, w, err := capfd.Pipe()
		require.NoError(t, err)
		defer r.Release()
		defer w.Release()

		require.NoError(t, r.Limit(capfd.NewRights(capfd.RightRead, capfd.RightFstat)))
		_, err = r.Write([]byte("x"))
		require.True(t, xerrors.Is(err, capfd.ErrNotCapable), "%+v", err)
	})

	t.Run("DuplicateIndependent", func(t *testing.T) {
		t.Parallel()

		d, err := capfd.Open(tempFile(t, "dup"), unix.O_RDONLY, 0)
		require.NoError(t, err)
		defer d.Release()
		dup, err := d.Duplicate()
		require.NoError(t, err)
		defer dup.Release()

		require.NoError(t, dup.Limit(capfd.NewRights(capfd.RightFstat)))
		_, err = dup.Read(make([]byte, 1))
		require.True(t, xerrors.Is(err, capfd.ErrNotCapable), "%+v", err)

		buf := make([]byte, 3)
		_, err = d.Read(buf)
		require.NoError(t, err)
		require.Equal(t, "dup", string(buf))
	})

	t.Run("OnlyNarrows", func(t *testing.T) {
		t.Parallel()

		d, err := capfd.Open(tempFile(t, "narrow"), unix.O_RDWR, 0)
		require.NoError(t, err)
		defer d.Release()

		dup, err := d.Duplicate()
		require.NoError(t, err)
		defer dup.Release()

		err = d.Limit(capfd.NewRights(capfd.RightRead, capfd.RightWrite, capfd.RightFstat))
		require.NoError(t, err)
		err = d.Limit(capfd.NewRights(capfd.RightRead, capfd.RightSeek))
		require.True(t, xerrors.Is(err, capfd.ErrNotCapable), "widening should fail: %+v", err)
		got, err := d.RightsGet()
		require.NoError(t, err)
		require.True(t, got.Equal(capfd.NewRights(capfd.RightRead, capfd.RightWrite, capfd.RightFstat)), got.String())

		err = d.Limit(capfd.NewRights(capfd.RightRead, capfd.RightFstat))
		require.NoError(t, err)
		got, err = d.RightsGet()
		require.NoError(t, err)
		require.True(t, got.Equal(capfd.NewRights(capfd.RightRead, capfd.RightFstat)), got.String())

		// The duplicate made before limiting is unaffected.
		dupRights, err := dup.RightsGet()
		require.NoError(t, err)
		require.True(t, dupRights.IsSet(capfd.RightWrite, capfd.RightSeek))
	})

	t.Run("Malformed", func(t *testing.T) {
		t.Parallel()

		d, err := capfd.Open(tempFile(t, ""), unix.O_RDONLY, 0)
		require.NoError(t, err)
		defer d.Release()

		err = d.Limit(&capfd.Rights{})
		require.True(t, xerrors.Is(err, capfd.ErrArgument))
		err = d.Limit(nil)
		require.True(t, xerrors.Is(err, capfd.ErrArgument))
	})

	t.Run("Ioctls", func(t *testing.T) {
		t.Parallel()

		d, err := capfd.Open(tempFile(t, ""), unix.O_RDONLY, 0)
		require.NoError(t, err)
		defer d.Release()

		l, err := d.Ioctls(4)
		require.NoError(t, err)
		require.True(t, l.All)

		cmds := []uint64{
			unix.FIONREAD,
			unix.FIONBIO,
			0x20006601, // FIOCLEX
			0x20006602, // FIONCLEX
			0x8004667d, // FIOASYNC
		}
		require.NoError(t, d.LimitIoctls(cmds))

		_, err = d.Ioctls(2)
		var berr *capfd.BufferError
		require.True(t, xerrors.As(err, &berr), "%+v", err)
		require.Equal(t, 5, berr.Expected)

		l, err = d.Ioctls(8)
		require.NoError(t, err)
		require.False(t, l.All)
		require.ElementsMatch(t, cmds, l.Cmds)

		require.NoError(t, d.LimitIoctls(nil))
		l, err = d.Ioctls(8)
		require.NoError(t, err)
		require.False(t, l.All)
		require.Empty(t, l.Cmds)
	})

	t.Run("Fcntls", func(t *testing.T) {
		t.Parallel()

		d, err := capfd.Open(tempFile(t, ""), unix.O_RDONLY, 0)
		require.NoError(t, err)
		defer d.Release()

		f, err := d.Fcntls()
		require.NoError(t, err)
		require.Equal(t, capfd.FcntlAll, f)

		require.NoError(t, d.LimitFcntls(capfd.FcntlGetfl))
		f, err = d.Fcntls()
		require.NoError(t, err)
		require.Equal(t, capfd.FcntlGetfl, f)

		_, err = d.Flags()
		require.NoError(t, err)
		err = d.SetFlags(unix.O_NONBLOCK)
		require.True(t, xerrors.Is(err, capfd.ErrNotCapable), "%+v", err)
	})

	t.Run("CapabilityMode", func(t *testing.T) {
		t.Parallel()

		// Entering capability mode would break every other test, so only the
		// query is exercised.
		in, err := capfd.InCapabilityMode()
		require.NoError(t, err)
		require.False(t, in)
	})
}
