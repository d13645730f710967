package cli

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/cptrest/cptrest/internal/catalog"
	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/service"
	"github.com/cptrest/cptrest/internal/settings"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// store.data_dir (file or CPTREST_STORE_DATA_DIR), CPTREST_DATA_DIR, or
// ~/.cptrest as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if dir := viper.GetString("store.data_dir"); dir != "" {
		return dir
	}
	if envDir := os.Getenv("CPTREST_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cptrest")
}

// loadConfig returns the effective configuration: defaults, then the config
// file, then environment variables and changed flags bound through viper.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := config.LoadYAMLConfig(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}

	overrideString(&cfg.Server.Host, "server.host")
	overrideInt(&cfg.Server.Port, "server.port")
	overrideString(&cfg.Server.ShutdownTimeout, "server.shutdown_timeout")
	overrideString(&cfg.Server.PublicURL, "server.public_url")
	overrideInt(&cfg.Server.RateLimitPerMinute, "server.rate_limit_per_minute")
	overrideBool(&cfg.Server.Metrics, "server.metrics")
	overrideStrings(&cfg.Server.CORS.Origins, "server.cors.origins")
	overrideString(&cfg.Store.Driver, "store.driver")
	overrideString(&cfg.Store.DSN, "store.dsn")
	overrideString(&cfg.Auth.JWTSecret, "auth.jwt_secret")
	overrideString(&cfg.Auth.SessionTTL, "auth.session_ttl")
	overrideInt(&cfg.Auth.KeyRateLimit, "auth.key_rate_limit")
	overrideString(&cfg.Relations.Provider, "relations.provider")
	overrideString(&cfg.Logging.Level, "logging.level")
	overrideString(&cfg.Logging.Format, "logging.format")
	cfg.Store.DataDir = resolveDataDir()
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetString(key)
	}
}

func overrideInt(dst *int, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetInt(key)
	}
}

func overrideBool(dst *bool, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetBool(key)
	}
}

func overrideStrings(dst *[]string, key string) {
	if !viper.IsSet(key) {
		return
	}
	// Environment values arrive as one comma separated string.
	var out []string
	for _, v := range viper.GetStringSlice(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	*dst = out
}

// openStore opens the host store selected by cfg and seeds the configured
// post types and relationship definitions.
func openStore(ctx context.Context, cfg *config.YAMLConfig) (*config.Store, error) {
	var (
		store *config.Store
		err   error
	)
	if cfg.Store.Driver == config.DriverSQLite && cfg.Store.DSN == "" {
		store, err = config.NewStore(cfg.Store.DataDir)
	} else {
		store, err = config.Open(cfg.Store.Driver, cfg.Store.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := cfg.Seed(ctx, store); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// app bundles the services most commands need.
type app struct {
	cfg      *config.YAMLConfig
	store    *config.Store
	settings *settings.Service
	catalog  *catalog.Catalog
	keys     *service.KeyStore
	logger   *slog.Logger
}

// openApp loads configuration and opens the store. Callers must Close it.
func openApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging, false, logOut)
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	set := settings.New(store)
	return &app{
		cfg:      cfg,
		store:    store,
		settings: set,
		catalog:  catalog.New(store, set),
		keys:     service.NewKeyStore(store, rand.Reader, logger),
		logger:   logger,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// newLogger builds the process logger. dev forces debug level.
func newLogger(cfg config.LoggingConfig, dev bool, out io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "cptrest.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "cptrest.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
