// Package db keeps each ledger table in its own CSV file: header row first,
// one record per line, rewritten wholesale on every change.
package db

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrMalformed marks a file that exists but cannot be parsed as CSV.
var ErrMalformed = errors.New("malformed table file")

// Record maps column name to raw cell text.
type Record map[string]string

// Snapshot is the full contents of a table file.
type Snapshot struct {
	Columns []string
	Records []Record
}

func (s *Snapshot) HasColumn(name string) bool {
	for _, col := range s.Columns {
		if col == name {
			return true
		}
	}
	return false
}

// Find returns the index of the first record matching pred, or -1.
func (s *Snapshot) Find(pred func(Record) bool) int {
	for idx, rec := range s.Records {
		if pred(rec) {
			return idx
		}
	}
	return -1
}

func (s *Snapshot) Remove(idx int) Record {
	removed := s.Records[idx]
	s.Records = append(s.Records[:idx], s.Records[idx+1:]...)
	return removed
}

// ReadAll loads path. A missing file is an empty snapshot, not an error.
func ReadAll(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Snapshot{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return parseSnapshot(data, filepath.Base(path))
}

func parseSnapshot(data []byte, name string) (*Snapshot, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if len(bytes.TrimSpace(data)) == 0 {
		return &Snapshot{}, nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w: %v", name, ErrMalformed, err)
	}
	if len(rows) == 0 {
		return &Snapshot{}, nil
	}

	header := make([]string, len(rows[0]))
	for idx, col := range rows[0] {
		header[idx] = strings.TrimSpace(col)
	}

	snap := &Snapshot{Columns: header, Records: make([]Record, 0, len(rows)-1)}
	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		rec := make(Record, len(header))
		for idx, col := range header {
			if idx < len(row) {
				rec[col] = row[idx]
			} else {
				rec[col] = ""
			}
		}
		snap.Records = append(snap.Records, rec)
	}
	return snap, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// WriteAll replaces path with records laid out in columns order. The new
// contents go to a temp file in the same directory which is then renamed
// over the target, so readers never see a partial file.
func WriteAll(path string, records []Record, columns []string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := encodeRecords(tmp, records, columns); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	committed = true
	return nil
}

func encodeRecords(w io.Writer, records []Record, columns []string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return err
	}
	row := make([]string, len(columns))
	for _, rec := range records {
		for idx, col := range columns {
			row[idx] = rec[col]
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// AppendRecord adds one row at the end of path using the file's own header
// order. A missing or empty file is created with columns as its header.
func AppendRecord(path string, rec Record, columns []string) error {
	header, err := readHeader(path)
	if err != nil {
		return err
	}
	if len(header) == 0 {
		return WriteAll(path, []Record{rec}, columns)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", filepath.Base(path), err)
	}
	defer file.Close()

	if err := ensureTrailingNewline(file, path); err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	row := make([]string, len(header))
	for idx, col := range header {
		row[idx] = rec[col]
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("append %s: %w", filepath.Base(path), err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("append %s: %w", filepath.Base(path), err)
	}
	return file.Sync()
}

func ensureTrailingNewline(file *os.File, path string) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	if info.Size() == 0 {
		return nil
	}
	reader, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer reader.Close()

	last := make([]byte, 1)
	if _, err := reader.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if last[0] != '\n' {
		if _, err := file.Write([]byte("\n")); err != nil {
			return fmt.Errorf("append %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func readHeader(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header of %s: %w: %v", filepath.Base(path), ErrMalformed, err)
	}
	for idx, col := range header {
		header[idx] = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
	}
	return header, nil
}
