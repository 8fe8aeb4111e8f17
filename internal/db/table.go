package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type TableOptions struct {
	BackupDir   string
	LockTimeout time.Duration
	Now         func() time.Time
}

// Table is one CSV-backed table. Reads take a shared lock and mutations an
// exclusive one held across the whole read-modify-write cycle, both
// in-process and across processes.
type Table struct {
	path        string
	columns     []Column
	backupDir   string
	lockTimeout time.Duration
	now         func() time.Time

	mu sync.RWMutex
}

func NewTable(path string, columns []Column, opts TableOptions) *Table {
	backupDir := opts.BackupDir
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(path), "backups")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Table{
		path:        path,
		columns:     columns,
		backupDir:   backupDir,
		lockTimeout: opts.LockTimeout,
		now:         now,
	}
}

func (t *Table) Path() string { return t.path }

func (t *Table) Columns() []string { return ColumnNames(t.columns) }

// Ensure creates the file with the full header when it is missing and
// otherwise migrates it to the current schema. It reports whether a
// migration rewrote the file.
func (t *Table) Ensure(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, err := AcquireLock(ctx, t.path, true, t.lockTimeout)
	if err != nil {
		return false, err
	}
	defer lock.Release()

	if _, err := os.Stat(t.path); os.IsNotExist(err) {
		if err := WriteAll(t.path, nil, t.Columns()); err != nil {
			return false, fmt.Errorf("create %s: %w", filepath.Base(t.path), err)
		}
		return false, nil
	}

	ok, _, err := ValidateSchema(t.path, t.Columns())
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	return MigrateSchema(t.path, t.backupDir, t.columns, t.now())
}

func (t *Table) Read(ctx context.Context) (*Snapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	lock, err := AcquireLock(ctx, t.path, false, t.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return ReadAll(t.path)
}

// Update loads the table, lets fn change the snapshot in place and writes
// it back when fn reports a change. Columns missing from the file are
// appended to the header before writing.
func (t *Table) Update(ctx context.Context, fn func(*Snapshot) (bool, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, err := AcquireLock(ctx, t.path, true, t.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	snap, err := ReadAll(t.path)
	if err != nil {
		return err
	}
	changed, err := fn(snap)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	columns := snap.Columns
	for _, col := range t.columns {
		if !snap.HasColumn(col.Name) {
			columns = append(columns, col.Name)
			for _, rec := range snap.Records {
				if _, ok := rec[col.Name]; !ok {
					rec[col.Name] = col.Default
				}
			}
		}
	}
	return WriteAll(t.path, snap.Records, columns)
}

// Append builds a record from the current contents under the exclusive
// lock and adds it at the end of the file without rewriting the rest. A
// nil record from build appends nothing.
func (t *Table) Append(ctx context.Context, build func(*Snapshot) (Record, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, err := AcquireLock(ctx, t.path, true, t.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	snap, err := ReadAll(t.path)
	if err != nil {
		return err
	}
	rec, err := build(snap)
	if err != nil || rec == nil {
		return err
	}
	return AppendRecord(t.path, rec, t.Columns())
}

// Backup takes today's backup of the table file.
func (t *Table) Backup(ctx context.Context) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	lock, err := AcquireLock(ctx, t.path, false, t.lockTimeout)
	if err != nil {
		return "", err
	}
	defer lock.Release()

	return Backup(t.path, t.backupDir, t.now())
}
