package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Column is a schema column and the value given to existing rows when the
// column is added by a migration.
type Column struct {
	Name    string
	Default string
}

func ColumnNames(columns []Column) []string {
	names := make([]string, len(columns))
	for idx, col := range columns {
		names[idx] = col.Name
	}
	return names
}

// ValidateSchema reports whether every required column is present in the
// header of path. A missing file is not valid and lacks every column.
func ValidateSchema(path string, required []string) (bool, []string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, append([]string(nil), required...), nil
		}
		return false, nil, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}

	header, err := readHeader(path)
	if err != nil {
		return false, nil, err
	}
	present := make(map[string]struct{}, len(header))
	for _, col := range header {
		present[col] = struct{}{}
	}

	missing := make([]string, 0)
	for _, col := range required {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	return len(missing) == 0, missing, nil
}

// MigrateSchema adds every column of columns that path lacks, filling
// existing rows with the column default. Rows and unrelated columns are
// kept as they are. The file is backed up before it is rewritten. It
// reports false when there was nothing to add.
func MigrateSchema(path, backupDir string, columns []Column, now time.Time) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}

	snap, err := ReadAll(path)
	if err != nil {
		return false, err
	}

	added := make([]Column, 0)
	for _, col := range columns {
		if !snap.HasColumn(col.Name) {
			added = append(added, col)
		}
	}
	if len(added) == 0 {
		return false, nil
	}

	if _, err := Backup(path, backupDir, now); err != nil {
		return false, fmt.Errorf("backup before migration: %w", err)
	}

	for _, col := range added {
		snap.Columns = append(snap.Columns, col.Name)
		for _, rec := range snap.Records {
			rec[col.Name] = col.Default
		}
	}

	if err := WriteAll(path, snap.Records, snap.Columns); err != nil {
		return false, fmt.Errorf("migrate %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
