package embed

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Matrix is a trained calibration projection from one premium embedding
// space into the local space. Stored row-major: Rows is the premium
// dimension, Cols the local dimension, so projection is vᵀM for a premium
// vector v.
type Matrix struct {
	Name string
	Rows int
	Cols int
	Data []float32
}

// Matrix file format: "ARCM" magic, uint32 version, uint32 name length,
// name bytes, uint32 rows, uint32 cols, rows*cols little-endian float32.
const (
	matrixMagic   = "ARCM"
	matrixVersion = uint32(1)
)

// MatrixFileName returns the conventional file name for a named matrix.
func MatrixFileName(name string) string {
	return fmt.Sprintf("calibration_%s.mat", name)
}

// NewMatrix allocates a zero matrix.
func NewMatrix(name string, rows, cols int) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid matrix shape %dx%d", rows, cols)
	}
	return &Matrix{
		Name: name,
		Rows: rows,
		Cols: cols,
		Data: make([]float32, rows*cols),
	}, nil
}

// At returns the element at (row, col).
func (m *Matrix) At(row, col int) float32 {
	return m.Data[row*m.Cols+col]
}

// Set assigns the element at (row, col).
func (m *Matrix) Set(row, col int, v float32) {
	m.Data[row*m.Cols+col] = v
}

// Apply projects a premium-space vector into local space. The result is
// not normalized; callers decide whether unit length is required.
func (m *Matrix) Apply(v []float32) ([]float32, error) {
	if len(v) != m.Rows {
		return nil, fmt.Errorf("matrix %s expects %d-d input, got %d-d", m.Name, m.Rows, len(v))
	}
	out := make([]float32, m.Cols)
	for i, vi := range v {
		if vi == 0 {
			continue
		}
		row := m.Data[i*m.Cols : (i+1)*m.Cols]
		for j, mij := range row {
			out[j] += vi * mij
		}
	}
	return out, nil
}

// Save writes the matrix in the binary calibration format.
func (m *Matrix) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create matrix dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create matrix file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(matrixMagic); err != nil {
		return err
	}
	for _, v := range []uint32{matrixVersion, uint32(len(m.Name))} {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := f.WriteString(m.Name); err != nil {
		return err
	}
	for _, v := range []uint32{uint32(m.Rows), uint32(m.Cols)} {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return binary.Write(f, binary.LittleEndian, m.Data)
}

// LoadMatrix reads a matrix written by Save, validating magic and shape.
func LoadMatrix(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	magic := make([]byte, len(matrixMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, fmt.Errorf("read matrix magic: %w", err)
	}
	if string(magic) != matrixMagic {
		return nil, fmt.Errorf("not a calibration matrix file: bad magic %q", magic)
	}

	var version, nameLen uint32
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != matrixVersion {
		return nil, fmt.Errorf("unsupported matrix version %d", version)
	}
	if err := binary.Read(f, binary.LittleEndian, &nameLen); err != nil {
		return nil, err
	}
	if nameLen > 1024 {
		return nil, fmt.Errorf("matrix name length %d out of range", nameLen)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(f, name); err != nil {
		return nil, err
	}

	var rows, cols uint32
	if err := binary.Read(f, binary.LittleEndian, &rows); err != nil {
		return nil, err
	}
	if err := binary.Read(f, binary.LittleEndian, &cols); err != nil {
		return nil, err
	}
	if rows == 0 || cols == 0 || rows > 1<<16 || cols > 1<<16 {
		return nil, fmt.Errorf("matrix shape %dx%d out of range", rows, cols)
	}

	data := make([]float32, int(rows)*int(cols))
	if err := binary.Read(f, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("read matrix data: %w", err)
	}
	for _, v := range data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("matrix contains non-finite values")
		}
	}

	return &Matrix{
		Name: string(name),
		Rows: int(rows),
		Cols: int(cols),
		Data: data,
	}, nil
}
