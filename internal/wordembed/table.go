package wordembed

import "fmt"

// Table is a dense [rows][dim] float32 matrix.
type Table struct {
	data []float32
	rows int
	dim  int
}

// NewTable allocates a zero table.
func NewTable(rows, dim int) *Table {
	return &Table{data: make([]float32, rows*dim), rows: rows, dim: dim}
}

func (t *Table) Rows() int { return t.rows }
func (t *Table) Dim() int  { return t.dim }

// Row returns row i. The slice aliases the table.
func (t *Table) Row(i int) []float32 {
	return t.data[i*t.dim : (i+1)*t.dim : (i+1)*t.dim]
}

// Resize grows the table to n rows; new rows are zero.
func (t *Table) Resize(n int) error {
	if n < t.rows {
		return fmt.Errorf("%w: %d rows requested, table has %d", ErrInvalidResize, n, t.rows)
	}
	if n == t.rows {
		return nil
	}
	data := make([]float32, n*t.dim)
	copy(data, t.data)
	t.data = data
	t.rows = n
	return nil
}
