package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luarename/pkg/contract"
)

func collect(t *testing.T, r *FileSystem, roots ...string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := r.Iterate(context.Background(), roots, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		b, err := io.ReadAll(rc)
		out[filepath.Base(string(id))] = string(b)
		return err
	})
	require.NoError(t, err)
	return out
}

// TestIterateSingleFile 显式单文件不受扩展名过滤。
func TestIterateSingleFile(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "script.txt")
	require.NoError(t, os.WriteFile(fp, []byte("local v1 = 1"), 0o644))
	var ids []contract.FileID
	err := New(nil).Iterate(context.Background(), []string{fp}, func(id contract.FileID, rc io.ReadCloser) error {
		ids = append(ids, id)
		return rc.Close()
	})
	require.NoError(t, err)
	assert.Equal(t, []contract.FileID{contract.NormalizeFileID(fp)}, ids)
}

// TestWalkDirFiltersExtensions 目录递归只收集 .lua/.luau。
func TestWalkDirFiltersExtensions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.lua"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.LUAU"), []byte("B"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("R"), 0o644))
	got := collect(t, New(nil), dir)
	assert.Equal(t, map[string]string{"a.lua": "A", "b.LUAU": "B"}, got)

	got = collect(t, New(&Options{AllowExts: []string{}}), dir)
	assert.Len(t, got, 3)
}

// TestExcludeDir 跳过目录
func TestExcludeDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.lua"), []byte("k"), 0o644))
	skipDir := filepath.Join(dir, "Skip")
	require.NoError(t, os.Mkdir(skipDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skipDir, "bad.lua"), []byte("b"), 0o644))

	got := collect(t, New(&Options{ExcludeDirNames: []string{"skip"}}), dir)
	assert.Equal(t, map[string]string{"keep.lua": "k"}, got)
}

// TestWalkDirOrder 先子目录后文件，均按字典序。
func TestWalkDirOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "z"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "z", "c.lua"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.lua"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.lua"), nil, 0o644))
	var order []string
	err := New(nil).Iterate(context.Background(), []string{dir}, func(id contract.FileID, rc io.ReadCloser) error {
		order = append(order, filepath.Base(string(id)))
		return rc.Close()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c.lua", "a.lua", "b.lua"}, order)
}

// TestIterateDashMix 混用 '-' 返回错误
func TestIterateDashMix(t *testing.T) {
	err := New(nil).Iterate(context.Background(), []string{"-", "a"}, func(contract.FileID, io.ReadCloser) error { return nil })
	assert.Error(t, err)
}

// TestIterateStdin roots 为空或 '-' 时读取 STDIN
func TestIterateStdin(t *testing.T) {
	for _, roots := range [][]string{nil, {"-"}} {
		old := os.Stdin
		pr, pw, err := os.Pipe()
		require.NoError(t, err)
		os.Stdin = pr
		go func() {
			_, _ = pw.Write([]byte("print(v1)"))
			_ = pw.Close()
		}()
		var data []byte
		err = New(nil).Iterate(context.Background(), roots, func(id contract.FileID, rc io.ReadCloser) error {
			defer rc.Close()
			assert.Equal(t, contract.FileID("stdin"), id)
			data, _ = io.ReadAll(rc)
			return nil
		})
		os.Stdin = old
		require.NoError(t, err)
		assert.Equal(t, "print(v1)", string(data))
	}
}

// TestIterateCtxCancel 上下文取消
func TestIterateCtxCancel(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "a.lua")
	require.NoError(t, os.WriteFile(fp, []byte("x"), 0o644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(nil).Iterate(ctx, []string{fp}, func(contract.FileID, io.ReadCloser) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIterateMissingRoot(t *testing.T) {
	err := New(nil).Iterate(context.Background(), []string{filepath.Join(t.TempDir(), "none.lua")}, func(contract.FileID, io.ReadCloser) error { return nil })
	assert.Error(t, err)
}

// TestNewBufferedCloserDefault bufSize<=0 时使用默认
func TestNewBufferedCloserDefault(t *testing.T) {
	bc := newBufferedCloser(io.NopCloser(strings.NewReader("abc")), 0)
	b, err := io.ReadAll(bc)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
	assert.NoError(t, bc.Close())
}

func TestAccepts(t *testing.T) {
	r := New(nil)
	assert.True(t, r.Accepts("x/init.lua"))
	assert.False(t, r.Accepts("x/init.lua.bak"))
	assert.True(t, New(&Options{AllowExts: []string{}}).Accepts("any"))
}
