package db

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BackupName is the dated file name used for the backup of path on day.
func BackupName(path string, day time.Time) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s_%s%s", name, day.Format("2006-01-02"), ext)
}

// Backup copies path into backupDir once per calendar day. Later calls on
// the same day leave the first copy alone and return its path. It returns
// "" when path does not exist.
func Backup(path, backupDir string, now time.Time) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	target := filepath.Join(backupDir, BackupName(path, now))
	if _, err := os.Stat(target); err == nil {
		return target, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat backup %s: %w", filepath.Base(target), err)
	}

	if err := copyFile(path, target); err != nil {
		return "", err
	}
	if err := os.Chtimes(target, info.ModTime(), info.ModTime()); err != nil {
		return "", fmt.Errorf("preserve backup time: %w", err)
	}
	return target, nil
}

// BackupAll runs Backup for every path and maps each existing source to its
// backup file.
func BackupAll(backupDir string, now time.Time, paths ...string) (map[string]string, error) {
	backups := make(map[string]string, len(paths))
	for _, path := range paths {
		target, err := Backup(path, backupDir, now)
		if err != nil {
			return backups, err
		}
		if target != "" {
			backups[path] = target
		}
	}
	return backups, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(src), err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create backup %s: %w", filepath.Base(dst), err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close backup %s: %w", filepath.Base(dst), err)
	}
	return nil
}
