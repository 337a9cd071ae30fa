package capfd

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestIoctlQueryResult(t *testing.T) {
	t.Parallel()

	t.Run("Unlimited", func(t *testing.T) {
		t.Parallel()

		l, err := ioctlQueryResult(ioctlsAll, make([]uint64, 4))
		require.NoError(t, err)
		require.True(t, l.All)
		require.Nil(t, l.Cmds)
	})

	t.Run("Fits", func(t *testing.T) {
		t.Parallel()

		buf := []uint64{0x4004667f, 0x8004667e, 0}
		l, err := ioctlQueryResult(2, buf)
		require.NoError(t, err)
		require.False(t, l.All)
		require.Equal(t, []uint64{0x4004667f, 0x8004667e}, l.Cmds)

		// The result must not alias the query buffer.
		buf[0] = 0
		require.Equal(t, uint64(0x4004667f), l.Cmds[0])
	})

	t.Run("NoneAllowed", func(t *testing.T) {
		t.Parallel()

		l, err := ioctlQueryResult(0, make([]uint64, 2))
		require.NoError(t, err)
		require.False(t, l.All)
		require.Empty(t, l.Cmds)
	})

	t.Run("BufferTooSmall", func(t *testing.T) {
		t.Parallel()

		_, err := ioctlQueryResult(5, make([]uint64, 2))
		require.Error(t, err)
		require.True(t, xerrors.Is(err, ErrInsufficientBuffer))
		require.True(t, xerrors.Is(err, ErrArgument))

		var berr *BufferError
		require.True(t, xerrors.As(err, &berr))
		require.Equal(t, 5, berr.Expected)
		require.Contains(t, err.Error(), "expected 5")
	})

	t.Run("Negative", func(t *testing.T) {
		t.Parallel()

		_, err := ioctlQueryResult(-3, nil)
		require.True(t, xerrors.Is(err, ErrProtocol))
	})
}
