package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const appName = "ShopLedger"

type Config struct {
	ListenAddr        string
	DataDir           string
	SettingsFile      string
	LockTimeout       time.Duration
	LowStockThreshold int
	InvoicePrefix     string
	LogLevel          string
	LogDevelopment    bool
}

func Load() (Config, error) {
	return LoadFrom(filepath.Join(".", ".env"))
}

// LoadFrom reads configuration from the environment, falling back to the
// dotenv file at envPath for keys the environment leaves empty.
func LoadFrom(envPath string) (Config, error) {
	values := map[string]string{}
	if _, err := os.Stat(envPath); err == nil {
		fileValues, err := loadDotEnvFile(envPath)
		if err != nil {
			return Config{}, err
		}
		values = fileValues
	} else if err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("stat %s: %w", envPath, err)
	}
	get := func(key string) string {
		return firstNonEmpty(os.Getenv(key), values[key])
	}

	cfg := Config{
		ListenAddr:        "127.0.0.1:8080",
		LockTimeout:       10 * time.Second,
		LowStockThreshold: 5,
		InvoicePrefix:     "#SC",
		LogLevel:          "info",
	}

	if addr := get("LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if err := requireLoopback(cfg.ListenAddr); err != nil {
		return Config{}, err
	}

	cfg.DataDir = get("DATA_DIR")
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("DATA_DIR is not set and home directory is unknown: %w", err)
		}
		cfg.DataDir = filepath.Join(home, "Documents", appName)
	}

	cfg.SettingsFile = get("SETTINGS_FILE")
	if cfg.SettingsFile == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			configDir = cfg.DataDir
		}
		cfg.SettingsFile = filepath.Join(configDir, appName, "settings.yaml")
	}

	if raw := get("LOCK_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil || timeout < 0 {
			return Config{}, fmt.Errorf("invalid LOCK_TIMEOUT: %q", raw)
		}
		cfg.LockTimeout = timeout
	}

	if raw := get("LOW_STOCK_THRESHOLD"); raw != "" {
		threshold, err := strconv.Atoi(raw)
		if err != nil || threshold < 0 {
			return Config{}, fmt.Errorf("invalid LOW_STOCK_THRESHOLD: %q", raw)
		}
		cfg.LowStockThreshold = threshold
	}

	if prefix := get("INVOICE_PREFIX"); prefix != "" {
		if strings.Contains(prefix, "-") {
			return Config{}, fmt.Errorf("invalid INVOICE_PREFIX: %q must not contain '-'", prefix)
		}
		cfg.InvoicePrefix = prefix
	}

	if level := get("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if raw := get("LOG_DEVELOPMENT"); raw != "" {
		dev, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_DEVELOPMENT: %q", raw)
		}
		cfg.LogDevelopment = dev
	}

	return cfg, nil
}

// requireLoopback keeps the local API off the network.
func requireLoopback(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid LISTEN_ADDR %q: %w", addr, err)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("invalid LISTEN_ADDR port: %q", port)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("LISTEN_ADDR must be a loopback address, got %q", host)
	}
	return nil
}

func firstNonEmpty(candidates ...string) string {
	for _, candidate := range candidates {
		if value := strings.TrimSpace(candidate); value != "" {
			return value
		}
	}
	return ""
}

func loadDotEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		keyValue := strings.SplitN(line, "=", 2)
		if len(keyValue) != 2 {
			return nil, fmt.Errorf("invalid .env line %d: %q", lineNo, line)
		}

		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "" {
			return nil, fmt.Errorf("invalid .env line %d: empty key", lineNo)
		}

		if strings.HasPrefix(key, "export ") {
			key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		}

		if len(value) >= 2 {
			if (value[0] == '\'' && value[len(value)-1] == '\'') ||
				(value[0] == '"' && value[len(value)-1] == '"') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return values, nil
}
