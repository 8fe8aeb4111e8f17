package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"shopledger/internal/db"
	"shopledger/internal/logger"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
)

const (
	InventoryFile = "inventory.csv"
	InvoicesFile  = "invoices.csv"
	ExpensesFile  = "expenses.csv"
)

type Options struct {
	DataDir       string
	BackupDir     string
	LockTimeout   time.Duration
	InvoicePrefix string
	Now           func() time.Time
	Logger        *logger.Logger
}

func (o Options) withDefaults() Options {
	if o.BackupDir == "" {
		o.BackupDir = filepath.Join(o.DataDir, "backups")
	}
	if o.InvoicePrefix == "" {
		o.InvoicePrefix = "#SC"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Logger = logger.OrDefault(o.Logger)
	return o
}

func (o Options) tableOptions() db.TableOptions {
	return db.TableOptions{BackupDir: o.BackupDir, LockTimeout: o.LockTimeout, Now: o.Now}
}

// Repository groups the three ledger tables of one data directory.
type Repository struct {
	Inventory *InventoryRepository
	Invoices  *InvoiceRepository
	Expenses  *ExpenseRepository

	dataDir   string
	backupDir string
	now       func() time.Time
}

// Open prepares every table in opts.DataDir, migrating old files in place.
func Open(ctx context.Context, opts Options) (*Repository, error) {
	if strings.TrimSpace(opts.DataDir) == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	opts = opts.withDefaults()

	inventory, err := OpenInventory(ctx, opts)
	if err != nil {
		return nil, err
	}
	invoices, err := OpenInvoices(ctx, opts)
	if err != nil {
		return nil, err
	}
	expenses, err := OpenExpenses(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Repository{
		Inventory: inventory,
		Invoices:  invoices,
		Expenses:  expenses,
		dataDir:   opts.DataDir,
		backupDir: opts.BackupDir,
		now:       opts.Now,
	}, nil
}

// Backup takes today's copy of every table file, keyed by source path.
func (r *Repository) Backup(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	for _, table := range []*db.Table{r.Inventory.table, r.Invoices.table, r.Expenses.table} {
		dst, err := table.Backup(ctx)
		if err != nil {
			return out, fmt.Errorf("backup %s: %w", filepath.Base(table.Path()), err)
		}
		if dst != "" {
			out[table.Path()] = dst
		}
	}
	return out, nil
}

func (r *Repository) DataDir() string { return r.dataDir }

// Today is the repository clock's current time.
func (r *Repository) Today() time.Time { return r.now() }

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// cells decodes typed values out of raw records. Blank cells read as zero;
// cells that are present but not numeric also read as zero and are logged.
type cells struct {
	log *logger.Logger
}

func (c cells) float(rec db.Record, column, key string) float64 {
	raw := strings.TrimSpace(rec[column])
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		c.log.Warnw("non-numeric cell read as zero", "column", column, "row", key, "value", raw)
		return 0
	}
	return v
}

func (c cells) int(rec db.Record, column, key string) int {
	raw := strings.TrimSpace(rec[column])
	if raw == "" {
		return 0
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.log.Warnw("non-numeric cell read as zero", "column", column, "row", key, "value", raw)
		return 0
	}
	return int(v)
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

func formatBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatInt(v int) string {
	return strconv.Itoa(v)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}
