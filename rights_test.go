package capfd_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"cdr.dev/capfd"
)

func TestRights(t *testing.T) {
	t.Parallel()

	t.Run("NewRights", func(t *testing.T) {
		t.Parallel()

		r := capfd.NewRights(capfd.RightRead, capfd.RightFstat)
		require.True(t, r.Valid())
		require.True(t, r.IsSet(capfd.RightRead, capfd.RightFstat))
		require.False(t, r.IsSet(capfd.RightWrite))
		require.Equal(t, "{fstat,read}", r.String())

		empty := capfd.NewRights()
		require.True(t, empty.Valid())
		require.Empty(t, empty.Rights())
		require.True(t, r.Contains(empty))
	})

	t.Run("Unions", func(t *testing.T) {
		t.Parallel()

		r := capfd.NewRights(capfd.RightPread)
		require.True(t, r.IsSet(capfd.RightRead, capfd.RightSeek, capfd.RightSeekTell))

		// Clearing a union clears all of its components.
		r.Clear(capfd.RightSeek)
		require.True(t, r.IsSet(capfd.RightRead))
		require.False(t, r.IsSet(capfd.RightSeekTell))
		require.True(t, r.Valid())
	})

	t.Run("SecondWord", func(t *testing.T) {
		t.Parallel()

		r := capfd.NewRights(capfd.RightKqueue, capfd.RightRead)
		require.True(t, r.IsSet(capfd.RightKqueueEvent, capfd.RightKqueueChange))
		require.False(t, r.IsSet(capfd.RightEvent))
		require.Equal(t, "{kqueue_change,kqueue_event,read}", r.String())
	})

	t.Run("Intersect", func(t *testing.T) {
		t.Parallel()

		a := capfd.NewRights(capfd.RightRead, capfd.RightWrite, capfd.RightIoctl)
		b := capfd.NewRights(capfd.RightRead, capfd.RightIoctl, capfd.RightFstat)
		a.Intersect(b)
		require.True(t, a.Valid())
		require.True(t, a.Equal(capfd.NewRights(capfd.RightRead, capfd.RightIoctl)))
		require.True(t, b.Contains(a))
		require.False(t, a.Contains(b))
	})

	t.Run("MergeRemove", func(t *testing.T) {
		t.Parallel()

		r := capfd.NewRights(capfd.RightRead)
		r.Merge(capfd.NewRights(capfd.RightWrite, capfd.RightPdkill))
		require.True(t, r.IsSet(capfd.RightRead, capfd.RightWrite, capfd.RightPdkill))

		r.Remove(capfd.NewRights(capfd.RightRead, capfd.RightPdkill))
		require.True(t, r.Equal(capfd.NewRights(capfd.RightWrite)))
		require.True(t, r.Valid())
	})

	t.Run("InvalidRightPanics", func(t *testing.T) {
		t.Parallel()

		require.Panics(t, func() {
			capfd.NewRights(capfd.Right(0x1))
		})
	})
}

func TestParseRightNames(t *testing.T) {
	t.Parallel()

	r, err := capfd.ParseRightNames([]string{"read", "CAP_FSTAT", "Seek"})
	require.NoError(t, err)
	require.True(t, r.Equal(capfd.NewRights(capfd.RightRead, capfd.RightFstat, capfd.RightSeek)))

	right, err := capfd.ParseRight("kqueue_event")
	require.NoError(t, err)
	require.Equal(t, capfd.RightKqueueEvent, right)

	_, err = capfd.ParseRightNames([]string{"read", "teleport"})
	require.Error(t, err)
	require.True(t, xerrors.Is(err, capfd.ErrArgument), "unknown right should be ErrArgument: %+v", err)
}

func TestFcntlRights(t *testing.T) {
	t.Parallel()

	mask, err := capfd.ParseFcntlRights([]string{"getfl", "F_SETOWN"})
	require.NoError(t, err)
	require.Equal(t, capfd.FcntlGetfl|capfd.FcntlSetown, mask)
	require.Equal(t, "{getfl,setown}", mask.String())
	require.Equal(t, "{getfl,setfl,getown,setown}", capfd.FcntlAll.String())

	mask, err = capfd.ParseFcntlRights(nil)
	require.NoError(t, err)
	require.Zero(t, mask)

	_, err = capfd.ParseFcntlRights([]string{"dupfd"})
	require.True(t, xerrors.Is(err, capfd.ErrArgument))
}
