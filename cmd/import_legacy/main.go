package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"shopledger/internal/config"
	"shopledger/internal/db"
	"shopledger/internal/excel"
	"shopledger/internal/logger"
	"shopledger/internal/repository"
	"shopledger/internal/settings"
)

const legacyAppName = "SneakerCanvasBD"

type options struct {
	legacyDir     string
	legacyConfig  string
	inventoryPath string
	force         bool
}

// legacyConfig is the JSON settings file the desktop app kept next to its
// other per-user files.
type legacyConfig struct {
	ExpenseCategories []string `json:"expense_categories"`
	OutputFolder      string   `json:"output_folder"`
	DataFolder        string   `json:"data_folder"`
}

type importStats struct {
	copied       []string
	skipped      []string
	normalized   int
	categories   int
	stockRows    int
	settingsKeys int
}

func main() {
	opts := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	appLog, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: true})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = appLog.Sync() }()

	store, err := settings.Open(cfg.SettingsFile)
	if err != nil {
		appLog.Fatalw("settings error", "error", err)
	}

	ctx := context.Background()
	stats, err := run(ctx, opts, cfg, store, appLog)
	if err != nil {
		appLog.Fatalw("import failed", "error", err)
	}
	appLog.Infow("import complete",
		"copied", stats.copied,
		"skipped", stats.skipped,
		"normalized_invoices", stats.normalized,
		"categories", stats.categories,
		"settings", stats.settingsKeys,
		"stock_rows", stats.stockRows,
	)
}

func parseFlags() options {
	home, _ := os.UserHomeDir()
	configDir, _ := os.UserConfigDir()

	var opts options
	flag.StringVar(
		&opts.legacyDir,
		"from",
		filepath.Join(home, "Documents", legacyAppName),
		"legacy data folder holding inventory.csv, invoices.csv and expenses.csv",
	)
	flag.StringVar(
		&opts.legacyConfig,
		"config",
		filepath.Join(configDir, legacyAppName, "config.json"),
		"legacy config.json with expense categories and folders",
	)
	flag.StringVar(
		&opts.inventoryPath,
		"inventory",
		"",
		"optional .xlsx or .csv stock sheet to upsert after the copy",
	)
	flag.BoolVar(
		&opts.force,
		"force",
		false,
		"overwrite ledger files that already exist in the data folder (a backup is taken first)",
	)
	flag.Parse()
	return opts
}

func run(ctx context.Context, opts options, cfg config.Config, store *settings.Store, appLog *logger.Logger) (importStats, error) {
	var stats importStats

	legacy, err := readLegacyConfig(opts.legacyConfig)
	if err != nil {
		return stats, err
	}
	legacyDir := opts.legacyDir
	if legacy != nil && legacy.DataFolder != "" && !flagSet("from") {
		legacyDir = legacy.DataFolder
	}

	dataDir := cfg.DataDir
	if folder := store.DataFolder(); folder != "" && os.Getenv("DATA_DIR") == "" {
		dataDir = folder
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return stats, fmt.Errorf("create data dir: %w", err)
	}
	stats.copied, stats.skipped, err = copyLegacyFiles(legacyDir, dataDir, opts.force, time.Now())
	if err != nil {
		return stats, err
	}

	repo, err := repository.Open(ctx, repository.Options{
		DataDir:       dataDir,
		LockTimeout:   cfg.LockTimeout,
		InvoicePrefix: cfg.InvoicePrefix,
		Logger:        appLog.WithComponent("repository"),
	})
	if err != nil {
		return stats, fmt.Errorf("open ledger: %w", err)
	}
	stats.normalized, err = repo.Invoices.NormalizeItems(ctx)
	if err != nil {
		return stats, fmt.Errorf("normalize invoice items: %w", err)
	}

	if legacy != nil {
		stats.categories, stats.settingsKeys, err = applyLegacyConfig(store, *legacy)
		if err != nil {
			return stats, err
		}
	}

	if opts.inventoryPath != "" {
		stats.stockRows, err = importStockSheet(ctx, repo, opts.inventoryPath)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func flagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// readLegacyConfig returns nil when the file does not exist.
func readLegacyConfig(path string) (*legacyConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg legacyConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// copyLegacyFiles copies the three ledger files from src into dst. Files
// already present in dst are left alone unless force is set, in which case
// the existing file is backed up before it is replaced.
func copyLegacyFiles(src, dst string, force bool, now time.Time) ([]string, []string, error) {
	names := []string{repository.InventoryFile, repository.InvoicesFile, repository.ExpensesFile}
	if force {
		targets := make([]string, 0, len(names))
		for _, name := range names {
			targets = append(targets, filepath.Join(dst, name))
		}
		if _, err := db.BackupAll(filepath.Join(dst, "backups"), now, targets...); err != nil {
			return nil, nil, fmt.Errorf("backup data folder: %w", err)
		}
	}

	var copied, skipped []string
	for _, name := range names {
		from := filepath.Join(src, name)
		if _, err := os.Stat(from); errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return copied, skipped, fmt.Errorf("stat %s: %w", from, err)
		}

		to := filepath.Join(dst, name)
		if _, err := os.Stat(to); err == nil && !force {
			skipped = append(skipped, name)
			continue
		}

		if err := copyFile(from, to); err != nil {
			return copied, skipped, err
		}
		copied = append(copied, name)
	}
	return copied, skipped, nil
}

func copyFile(from, to string) error {
	data, err := os.ReadFile(from)
	if err != nil {
		return fmt.Errorf("read %s: %w", from, err)
	}
	tmp := to + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, to); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", to, err)
	}
	return nil
}

// applyLegacyConfig makes the category vocabulary match the legacy list and
// carries over the output folder. It reports the category count and the
// number of folder settings written.
func applyLegacyConfig(store *settings.Store, legacy legacyConfig) (int, int, error) {
	written := 0
	if legacy.ExpenseCategories != nil {
		keep := make(map[string]struct{}, len(legacy.ExpenseCategories))
		for _, name := range legacy.ExpenseCategories {
			keep[name] = struct{}{}
		}
		for _, name := range store.Categories() {
			if _, ok := keep[name]; ok {
				continue
			}
			if _, err := store.DeleteCategory(name); err != nil {
				return 0, written, fmt.Errorf("delete category %s: %w", name, err)
			}
		}
		for _, name := range legacy.ExpenseCategories {
			if _, err := store.AddCategory(name); err != nil {
				return 0, written, fmt.Errorf("add category %s: %w", name, err)
			}
		}
	}
	if legacy.OutputFolder != "" {
		if err := store.Set("output_folder", legacy.OutputFolder); err != nil {
			return 0, written, err
		}
		written++
	}
	return len(store.Categories()), written, nil
}

func importStockSheet(ctx context.Context, repo *repository.Repository, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	products, err := excel.ParseInventoryRows(path, file)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, p := range products {
		if _, err := repo.Inventory.Upsert(ctx, p); err != nil {
			return 0, fmt.Errorf("upsert %s (%s): %w", p.Name, p.Size, err)
		}
	}
	return len(products), nil
}
