//go:build linux || darwin

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"cdr.dev/capfd"
)

func TestRunRightsUnsupported(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := execute(t, "run", "--file", path, "--rights", "read", "--", "true")
	require.True(t, xerrors.Is(err, capfd.ErrUnsupported), "%+v", err)
}
