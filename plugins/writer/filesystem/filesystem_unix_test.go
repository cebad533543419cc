//go:build !windows

package filesystem

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"luarename/pkg/contract"
)

// TestMapPathInvalidUnix 非扁平模式下的路径校验
func TestMapPathInvalidUnix(t *testing.T) {
	flat := false
	w, _ := New(&Options{OutputDir: t.TempDir(), Flat: &flat})
	for _, id := range []string{"/abs", "..", "."} {
		_, err := w.mapPath(contract.ArtifactID(id))
		assert.ErrorIs(t, err, contract.ErrPathInvalid, id)
	}
}
