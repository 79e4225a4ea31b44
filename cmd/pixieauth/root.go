package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"pixieauth/core"
	"pixieauth/core/backend"
	"pixieauth/core/providers"
	"pixieauth/logging"
	"pixieauth/storage"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "pixieauth",
	Short: "Sign in to the Pixie image API",
	Long: `pixieauth signs you in to the Pixie image API with GitHub, Google or Apple
and keeps the issued API key in an encrypted local store.

Environment Variables:
  PIXIE_CONFIG             YAML config file
  PIXIE_API_URL            Backend API URL
  PIXIE_REDIRECT_URI       OAuth redirect URI (http://127.0.0.1:PORT/... enables the loopback server)
  PIXIE_ENCRYPTION_SECRET  Secret the credential store key is derived from`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides PIXIE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// app holds what every command needs
type app struct {
	config  *AppConfig
	logger  *slog.Logger
	store   core.CredentialStore
	backend core.Backend
	closers []func() error
}

func newApp() (*app, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		config.Log.Level = logLevel
	}

	logger, err := logging.Setup(config.Log.Level, config.Log.Format)
	if err != nil {
		return nil, err
	}

	a := &app{
		config:  config,
		logger:  logger,
		backend: backend.NewHTTPBackend(&config.Core),
	}
	if err := a.initStore(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) initStore() error {
	switch strings.ToLower(a.config.Store.Type) {
	case "sqlite", "":
		dbPath, err := a.config.sqlitePath()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(dbPath), err)
		}
		secret, err := a.config.encryptionSecret(dbPath)
		if err != nil {
			return err
		}
		store, err := storage.NewSQLiteCredentialStore(dbPath, secret, a.config.Core.APIURL)
		if err != nil {
			return fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		a.logger.Debug("using SQLite credential store", "path", dbPath)
		a.store = store
		a.closers = append(a.closers, store.Close)
		return nil

	case "memory":
		a.logger.Debug("using in-memory credential store")
		a.store = storage.NewMemoryCredentialStore()
		return nil

	default:
		return fmt.Errorf("unsupported store type: %s (supported: sqlite, memory)", a.config.Store.Type)
	}
}

func (a *app) newController(caps core.Capabilities, browser core.Browser) (*core.AuthSessionController, error) {
	return core.NewAuthSessionController(a.backend, a.store, &a.config.Core, caps,
		core.WithLogger(a.logger),
		core.WithBrowser(browser),
	)
}

func (a *app) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// nativeSignIns registers an SDK stand-in for every native-capable provider. Only
// an identity token passed on the command line makes one available.
func nativeSignIns(idToken, authorizationCode string, provider core.Provider) map[core.Provider]core.NativeSignIn {
	out := make(map[core.Provider]core.NativeSignIn)
	for _, p := range core.Providers() {
		spec, _ := core.SpecFor(p)
		if !spec.SupportsNative {
			continue
		}
		if p == provider && idToken != "" {
			out[p] = providers.StaticSignIn{IDToken: idToken, AuthorizationCode: authorizationCode}
			continue
		}
		out[p] = providers.Unavailable{Reason: "no platform sign-in SDK; pass --id-token"}
	}
	return out
}
