// Package records writes the engine's training and validation logs as CSV
// files that plotting tools can consume directly.
package records

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// Field is one named cell of a log row. Rows are ordered slices rather
// than maps so columns keep a stable order.
type Field struct {
	Name  string
	Value any
}

// Row is an ordered set of fields.
type Row []Field

// CSV appends rows to a log file. The file is created, truncating any
// previous log, on the first append; a phase that never logs leaves an
// earlier run's file alone. The header is derived from the first appended
// row; every later row must carry the same columns in the same order. Each
// append flushes through to the file, so a run that dies mid-epoch still
// leaves a usable log.
type CSV struct {
	path    string
	file    *os.File
	writer  *csv.Writer
	columns []string
}

// Create returns a log that writes to path once the first row arrives.
func Create(path string) *CSV {
	return &CSV{path: path}
}

// Append writes one row, creating the file and emitting the header first
// if this is the first row.
func (c *CSV) Append(row Row) error {
	if c.file == nil {
		file, err := os.Create(c.path)
		if err != nil {
			return fmt.Errorf("creating log %s: %w", c.path, err)
		}
		c.file = file
		c.writer = csv.NewWriter(file)

		c.columns = make([]string, len(row))
		for i, f := range row {
			c.columns[i] = f.Name
		}
		if err := c.writer.Write(c.columns); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	if len(row) != len(c.columns) {
		return fmt.Errorf("row has %d fields, log has %d columns", len(row), len(c.columns))
	}
	cells := make([]string, len(row))
	for i, f := range row {
		if f.Name != c.columns[i] {
			return fmt.Errorf("field %d is %q, column is %q", i, f.Name, c.columns[i])
		}
		cells[i] = formatValue(f.Value)
	}

	if err := c.writer.Write(cells); err != nil {
		return fmt.Errorf("writing row: %w", err)
	}
	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the log. A log that never received a row has
// no file to close.
func (c *CSV) Close() error {
	if c.file == nil {
		return nil
	}
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
