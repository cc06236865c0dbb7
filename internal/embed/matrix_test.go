package embed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrixApply(t *testing.T) {
	m, err := NewMatrix("test", 3, 2)
	require.NoError(t, err)
	// [[1,0],[0,1],[1,1]]
	m.Set(0, 0, 1)
	m.Set(1, 1, 1)
	m.Set(2, 0, 1)
	m.Set(2, 1, 1)

	out, err := m.Apply([]float32{2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 7}, out)
}

func TestMatrixApplyDimensionMismatch(t *testing.T) {
	m, err := NewMatrix("test", 3, 2)
	require.NoError(t, err)
	_, err = m.Apply([]float32{1, 2})
	assert.Error(t, err)
}

func TestMatrixSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, MatrixFileName("big"))

	m, err := NewMatrix("big", 4, 3)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, float32(i*3+j)*0.25)
		}
	}
	require.NoError(t, m.Save(path))

	loaded, err := LoadMatrix(path)
	require.NoError(t, err)
	assert.Equal(t, m.Name, loaded.Name)
	assert.Equal(t, m.Rows, loaded.Rows)
	assert.Equal(t, m.Cols, loaded.Cols)
	assert.Equal(t, m.Data, loaded.Data)
}

func TestLoadMatrixRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bogus.mat")
	require.NoError(t, os.WriteFile(path, []byte("NOPE followed by junk"), 0o644))

	_, err := LoadMatrix(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad magic")
}

func TestMatrixFileName(t *testing.T) {
	assert.Equal(t, "calibration_openai-large.mat", MatrixFileName("openai-large"))
}
