package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cptrest/cptrest/internal/catalog"
	"github.com/cptrest/cptrest/internal/metrics"
	"github.com/cptrest/cptrest/internal/relation"
	"github.com/cptrest/cptrest/internal/server"
	"github.com/cptrest/cptrest/internal/service"
	"github.com/cptrest/cptrest/internal/settings"
)

const banner = `
  ___ ___ _____ ___ ___ ___ _____
 / __| _ \_   _| _ \ __/ __|_   _|
| (__|  _/ | | |   / _|\__ \ | |
 \___|_|   |_| |_|_\___|___/ |_|
`

func newServeCmd() *cobra.Command {
	var (
		dev    bool
		detach bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cptrest API server",
		Long:  "Start the HTTP server that exposes the active post types and the admin API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if detach {
				return startDetached()
			}
			return runServe(cmd.Context(), dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().String("public-url", "", "Public base URL used in the OpenAPI document")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Run the server in the background")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("server.public_url", cmd.Flags().Lookup("public-url"))

	return cmd
}

func runServe(ctx context.Context, dev bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, dev, os.Stderr)

	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("invalid server.shutdown_timeout: %w", err)
	}
	sessionTTL, err := time.ParseDuration(cfg.Auth.SessionTTL)
	if err != nil {
		return fmt.Errorf("invalid auth.session_ttl: %w", err)
	}

	// 1. Host store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store initialized", "driver", cfg.Store.Driver, "data_dir", cfg.Store.DataDir)

	// 2. Metrics and the relationship provider
	m := metrics.New()
	relations, err := relation.Resolve(cfg.Relations.Provider, store, logger, m.BreakerState)
	if err != nil {
		return err
	}
	if relations == nil {
		logger.Info("relationship provider unavailable", "provider", cfg.Relations.Provider)
	}

	// 3. Services
	set := settings.New(store)
	keys := service.NewKeyStore(store, rand.Reader, logger)

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		jwtSecret = hex.EncodeToString(buf)
		logger.Warn("auth.jwt_secret not set; admin sessions will not survive a restart")
	}
	adminAuth := service.NewAdminAuth(store, jwtSecret, sessionTTL, logger)

	// 4. First-run hints
	if hasAdmin, err := store.HasAnyAdmin(ctx); err != nil {
		logger.Warn("failed to check for admin", "error", err)
	} else if !hasAdmin {
		logger.Warn("no admin account found - run: cptrest admin create")
	}
	if legacy, err := keys.NeedsMigration(ctx); err == nil && legacy {
		logger.Warn("plaintext API keys found - run: cptrest key migrate")
	}

	// 5. Build and start HTTP server
	srvCfg := server.DefaultConfig()
	srvCfg.Host = cfg.Server.Host
	srvCfg.Port = cfg.Server.Port
	srvCfg.ShutdownTimeout = shutdownTimeout
	srvCfg.CORSOrigins = cfg.Server.CORS.Origins
	srvCfg.PublicURL = cfg.Server.PublicURL
	srvCfg.RateLimitPerMinute = cfg.Server.RateLimitPerMinute
	srvCfg.KeyRateLimit = cfg.Auth.KeyRateLimit
	srvCfg.SessionTTL = sessionTTL
	srvCfg.MetricsEnabled = cfg.Server.Metrics

	srv, err := server.New(ctx, srvCfg, server.Deps{
		Store:     store,
		Settings:  set,
		Catalog:   catalog.New(store, set),
		Keys:      keys,
		AdminAuth: adminAuth,
		Relations: relations,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "path", pidFilePath(), "error", err)
	}
	defer removePID()

	segment, err := set.BaseSegment(ctx)
	if err != nil {
		return err
	}
	host := cfg.Server.Host
	fmt.Print(banner)
	fmt.Println()
	fmt.Printf("→ cptrest %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, cfg.Server.Port)
	fmt.Printf("→ Namespace:  http://%s:%d/%s/v1/\n", host, cfg.Server.Port, segment)
	fmt.Printf("→ OpenAPI:    http://%s:%d/%s/v1/openapi\n", host, cfg.Server.Port, segment)
	fmt.Printf("→ Admin API:  http://%s:%d/admin/v1\n", host, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, cfg.Server.Port)
	fmt.Println()

	return srv.ListenAndServe()
}

// startDetached re-executes the current command line without --detach in a
// new session, with output appended to the log file.
func startDetached() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	var args []string
	for _, a := range os.Args[1:] {
		if a == "--detach" || a == "-d" || a == "--detach=true" {
			continue
		}
		args = append(args, a)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	fmt.Printf("Started cptrest in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop it with 'cptrest stop'.")
	return child.Process.Release()
}
