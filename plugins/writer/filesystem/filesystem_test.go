package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luarename/pkg/contract"
)

func noTmpLeft(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "tmp file not cleaned: %s", e.Name())
	}
}

// TestWriteAtomicReplaceExisting 原子写：目标已存在时替换为新内容。
func TestWriteAtomicReplaceExisting(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "src/init.lua", bytes.NewBufferString("v1")))
	require.NoError(t, w.Write(context.Background(), "src/init.lua", bytes.NewBufferString("v2")))
	b, err := os.ReadFile(filepath.Join(dir, "init.lua"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))
	noTmpLeft(t, dir)
}

// TestWriteNonFlat 保留目录层级（非原子）。
func TestWriteNonFlat(t *testing.T) {
	dir := t.TempDir()
	flat, atomic := false, false
	w, err := New(&Options{OutputDir: dir, Flat: &flat, Atomic: &atomic})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "sub/out.lua", bytes.NewBufferString("v")))
	_, err = os.Stat(filepath.Join(dir, "sub", "out.lua"))
	assert.NoError(t, err)
}

// TestWritePathInvalid 路径越界
func TestWritePathInvalid(t *testing.T) {
	flat := false
	w, _ := New(&Options{OutputDir: t.TempDir(), Flat: &flat})
	err := w.Write(context.Background(), "../bad", bytes.NewBufferString("x"))
	assert.ErrorIs(t, err, contract.ErrPathInvalid)
}

func TestWriteInPlaceWithBackup(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.lua")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))
	w, err := New(&Options{InPlace: true, Backup: true})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), contract.NormalizeFileID(target), bytes.NewBufferString("new")))

	b, _ := os.ReadFile(target)
	assert.Equal(t, "new", string(b))
	bak, _ := os.ReadFile(target + ".bak")
	assert.Equal(t, "old", string(bak))

	// 新文件无需备份
	fresh := filepath.Join(dir, "b.lua")
	require.NoError(t, w.Write(context.Background(), contract.NormalizeFileID(fresh), bytes.NewBufferString("x")))
	_, err = os.Stat(fresh + ".bak")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	assert.ErrorIs(t, w.Write(context.Background(), "stdin", bytes.NewBufferString("x")), contract.ErrPathInvalid)
}

// TestWriteCtxCancel 上下文取消
func TestWriteCtxCancel(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, w.Write(ctx, "a.lua", strings.NewReader("data")))
}

// TestNewInvalid 参数缺失
func TestNewInvalid(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(&Options{})
	assert.Error(t, err)
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// TestWriteAtomicCopyError 原子写入时拷贝失败不留临时文件
func TestWriteAtomicCopyError(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	assert.Error(t, w.Write(context.Background(), "a.lua", errReader{}))
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

// TestReaderWithCtxCancel reader 在读取前取消
func TestReaderWithCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := readerWithCtx(ctx, strings.NewReader("data"))
	cancel()
	_, err := r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, context.Canceled)
}
