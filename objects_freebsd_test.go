package capfd_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"cdr.dev/capfd"
)

func TestSharedMemory(t *testing.T) {
	t.Parallel()

	d, err := capfd.OpenSharedMemory("", 8192)
	require.NoError(t, err)
	defer d.Release()
	require.Equal(t, capfd.KindSharedMemory, d.Kind())

	st, err := d.Stat()
	require.NoError(t, err)
	require.EqualValues(t, 8192, st.Size)

	_, err = capfd.OpenSharedMemory("no-leading-slash\x00", 1)
	require.True(t, xerrors.Is(err, capfd.ErrArgument))
}

func TestEvent(t *testing.T) {
	t.Parallel()

	d, err := capfd.NewEvent(7, unix.O_NONBLOCK)
	require.NoError(t, err)
	defer d.Release()
	require.Equal(t, capfd.KindEvent, d.Kind())

	got := make([]byte, 8)
	_, err = d.Read(got)
	require.NoError(t, err)
	require.EqualValues(t, 7, capfd.NativeEndian.Uint64(got))

	_, err = d.Read(got)
	require.ErrorIs(t, err, unix.EAGAIN)
}

func TestJailLookup(t *testing.T) {
	t.Parallel()

	_, err := capfd.OpenJail("capfd-no-such-jail", false)
	require.Error(t, err)
	require.ErrorIs(t, err, unix.ENOENT)
}

func TestProcessDescriptor(t *testing.T) {
	t.Parallel()

	f, err := capfd.Open(os.DevNull, unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer f.Release()

	// Process descriptors only come from pdfork(2); a plain file is rejected.
	_, err = f.ProcessID()
	require.Error(t, err)
	err = f.Kill(unix.SIGTERM)
	require.Error(t, err)
}
