//go:build unix

package transfer

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linkCount(t *testing.T, path string) uint64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	st, ok := info.Sys().(*syscall.Stat_t)
	require.True(t, ok)
	return uint64(st.Nlink)
}

func TestResolver_HardLinkIncreasesLinkCount(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a", "X - Y - T9.flac")
	dest := filepath.Join(root, "b", "X - Y - T9.flac")
	writeFile(t, src, "audio")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))

	before := linkCount(t, src)
	_, err := NewResolver(root).Resolve(dest, " - T9.flac")
	require.NoError(t, err)

	assert.Equal(t, before+1, linkCount(t, src))
}
