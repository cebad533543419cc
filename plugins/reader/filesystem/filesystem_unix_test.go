//go:build !windows

package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luarename/pkg/contract"
)

// TestWalkDirNonRegular 非常规文件被忽略
func TestWalkDirNonRegular(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, syscall.Mkfifo(filepath.Join(root, "fifo.lua"), 0o644))
	assert.Empty(t, collect(t, New(nil), root))
}

// TestIterateSymlink 指向常规文件的符号链接被读取
func TestIterateSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "t.lua")
	require.NoError(t, os.WriteFile(target, []byte("ok"), 0o644))
	link := filepath.Join(dir, "l.lua")
	require.NoError(t, os.Symlink(target, link))
	assert.Equal(t, map[string]string{"l.lua": "ok"}, collect(t, New(nil), link))
}

// TestIterateSymlinkDir 符号链接指向目录时忽略
func TestIterateSymlinkDir(t *testing.T) {
	root := t.TempDir()
	realDir := filepath.Join(root, "real")
	require.NoError(t, os.Mkdir(realDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(realDir, "a.lua"), []byte("x"), 0o644))
	link := filepath.Join(root, "ln")
	require.NoError(t, os.Symlink(realDir, link))
	assert.Empty(t, collect(t, New(nil), link))

	// 遍历目录时同样忽略目录链接，只访问 real/a.lua 一次
	assert.Equal(t, map[string]string{"a.lua": "x"}, collect(t, New(nil), root))
}

// TestIterateSymlinkDangling 符号链接失效返回错误
func TestIterateSymlinkDangling(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "dangling.lua")
	require.NoError(t, os.Symlink(filepath.Join(dir, "no"), link))
	err := New(nil).Iterate(context.Background(), []string{link}, func(contract.FileID, io.ReadCloser) error { return nil })
	assert.Error(t, err)
}
