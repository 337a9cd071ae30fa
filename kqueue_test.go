//go:build freebsd || darwin

package capfd_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"cdr.dev/capfd"
)

func TestKqueue(t *testing.T) {
	t.Parallel()

	t.Run("EmptyPoll", func(t *testing.T) {
		t.Parallel()

		kq, err := capfd.NewKqueue()
		require.NoError(t, err)
		defer kq.Release()
		require.Equal(t, capfd.KindKqueue, kq.Kind())

		zero := time.Duration(0)
		n, events, err := kq.Submit(nil, 8, &zero)
		require.NoError(t, err)
		require.Zero(t, n)
		require.Empty(t, events)
	})

	t.Run("ReadReady", func(t *testing.T) {
		t.Parallel()

		kq, err := capfd.NewKqueue()
		require.NoError(t, err)
		defer kq.Release()

		r, w, err := capfd.Pipe()
		require.NoError(t, err)
		defer r.Release()
		defer w.Release()

		zero := time.Duration(0)
		n, _, err := kq.Submit([]capfd.Change{capfd.ReadChange(r.FD(), capfd.FlagAdd)}, 0, &zero)
		require.NoError(t, err)
		require.Zero(t, n)

		_, err = w.Write([]byte("abc"))
		require.NoError(t, err)

		timeout := 5 * time.Second
		n, events, err := kq.Submit(nil, 4, &timeout)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Len(t, events, 1)
		require.Equal(t, uint64(r.FD()), events[0].Ident)
		require.Equal(t, capfd.FilterRead, events[0].Filter)
		require.EqualValues(t, 3, events[0].Data)
	})

	t.Run("BoundedByMaxReturned", func(t *testing.T) {
		t.Parallel()

		kq, err := capfd.NewKqueue()
		require.NoError(t, err)
		defer kq.Release()

		var changes []capfd.Change
		for i := uint64(1); i <= 4; i++ {
			changes = append(changes, capfd.UserChange(i, capfd.FlagAdd|capfd.FlagClear, unix.NOTE_TRIGGER))
		}
		timeout := 5 * time.Second
		n, events, err := kq.Submit(changes, 2, &timeout)
		require.NoError(t, err)
		require.Equal(t, 2, n)
		require.Len(t, events, 2)

		n, events, err = kq.Submit(nil, 8, &timeout)
		require.NoError(t, err)
		require.Equal(t, 2, n)
		for _, ev := range events {
			require.Equal(t, capfd.FilterUser, ev.Filter)
		}
	})

	t.Run("Timer", func(t *testing.T) {
		t.Parallel()

		kq, err := capfd.NewKqueue()
		require.NoError(t, err)
		defer kq.Release()

		timeout := 5 * time.Second
		change := capfd.TimerChange(42, 10*time.Millisecond, capfd.FlagAdd|capfd.FlagOneshot)
		n, events, err := kq.Submit([]capfd.Change{change}, 1, &timeout)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, uint64(42), events[0].Ident)
		require.Equal(t, capfd.FilterTimer, events[0].Filter)
	})

	t.Run("NegativeCount", func(t *testing.T) {
		t.Parallel()

		kq, err := capfd.NewKqueue()
		require.NoError(t, err)
		defer kq.Release()

		_, _, err = kq.Submit(nil, -1, nil)
		require.True(t, xerrors.Is(err, capfd.ErrArgument))
	})

	t.Run("Released", func(t *testing.T) {
		t.Parallel()

		kq, err := capfd.NewKqueue()
		require.NoError(t, err)
		require.NoError(t, kq.Release())

		zero := time.Duration(0)
		_, _, err = kq.Submit(nil, 1, &zero)
		require.True(t, xerrors.Is(err, capfd.ErrInvalidHandle))
	})
}
