package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpool_WriteInputAndCleanup(t *testing.T) {
	spool, err := NewSpool(t.TempDir())
	require.NoError(t, err)

	path, size, err := spool.WriteInput("conv-1", "plan.dwg", strings.NewReader("cad bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), size)
	assert.FileExists(t, path)

	// Simulate the worker producing the PDF.
	require.NoError(t, os.WriteFile(spool.OutputPath("conv-1"), []byte("%PDF-1.7"), 0o644))

	out, err := spool.OpenOutput("conv-1")
	require.NoError(t, err)
	data, err := io.ReadAll(out)
	require.NoError(t, out.Close())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	require.NoError(t, spool.Cleanup("conv-1", "plan.dwg"))
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, spool.OutputPath("conv-1"))

	// Cleanup of already-removed files is a no-op.
	assert.NoError(t, spool.Cleanup("conv-1", "plan.dwg"))
}

func TestSpool_InputPathFlattensTraversal(t *testing.T) {
	spool, err := NewSpool(t.TempDir())
	require.NoError(t, err)

	path := spool.InputPath("conv-2", "../../etc/passwd")
	assert.Equal(t, filepath.Join(spool.Dir(), "in"), filepath.Dir(path))
	assert.Equal(t, "conv-2_passwd", filepath.Base(path))
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("acc1", "conv1", "house.dxf")
	assert.Equal(t, "conversions/acc1/conv1/house.dxf", key)
}
