// Package app holds the state shared by the CLI and the daemon: config,
// store, logger and the background scan runner.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/runnerr0/histscan/internal/config"
	"github.com/runnerr0/histscan/internal/logging"
	"github.com/runnerr0/histscan/internal/scan"
	"github.com/runnerr0/histscan/internal/storage"
	"github.com/runnerr0/histscan/internal/virustotal"
)

// App is the explicit application context passed to every ingress surface.
type App struct {
	Config     *config.Config
	ConfigPath string
	DBPath     string
	Store      storage.Store
	Logger     *log.Logger
	Limiter    *scan.RateLimiter
	Runner     *scan.Runner

	recent  recent
	closers []io.Closer
}

// Options configures New.
type Options struct {
	ConfigPath string
	Verbose    bool
	LogOut     io.Writer
}

// New loads configuration (creating it on first use), opens storage and
// builds the scan runner. Storage problems do not fail New; the app then
// runs in memory-only mode.
func New(opts Options) (*App, error) {
	config.LoadEnv()

	cfgPath, err := config.ResolvePath(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrCreateAt(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logFile, err := cfg.LogFilePath()
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		File:    logFile,
		Prefix:  "histscan",
		Verbose: opts.Verbose,
		Out:     opts.LogOut,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	dbPath, err := cfg.DBPath()
	if err != nil {
		logCloser.Close()
		return nil, err
	}
	store := storage.Open(dbPath, cfg.Storage.BusyTimeoutMS, logger)

	a := NewWithStore(cfg, store, logger, nil)
	a.ConfigPath = cfgPath
	a.DBPath = dbPath
	a.closers = append(a.closers, store, logCloser)

	a.seedAPIKey(context.Background())
	return a, nil
}

// NewWithStore assembles an App around an existing store. clock may be nil.
func NewWithStore(cfg *config.Config, store storage.Store, logger *log.Logger, clock scan.Clock) *App {
	if clock == nil {
		clock = scan.SystemClock{}
	}
	if logger == nil {
		logger = logging.Discard()
	}

	a := &App{
		Config:  cfg,
		Store:   store,
		Logger:  logger,
		Limiter: scan.NewRateLimiter(scan.LimitsFromConfig(cfg.Scan), clock),
	}
	a.Runner = scan.NewRunner(scan.RunnerConfig{
		Store:     store,
		Limiter:   a.Limiter,
		Clock:     clock,
		Policy:    scan.PolicyFromConfig(cfg.Scan),
		Cooldown:  cfg.Scan.QuotaCooldown,
		NewLookup: a.NewLookup,
		APIKey:    a.APIKey,
		Logger:    logger,
	})
	return a
}

// seedAPIKey stores $VT_API_KEY when no key has been saved yet.
func (a *App) seedAPIKey(ctx context.Context) {
	env := config.EnvAPIKeyValue()
	if env == "" || a.Store.APIKey(ctx) != "" {
		return
	}
	if a.Store.SaveAPIKey(ctx, env) {
		a.Logger.Info("stored VirusTotal API key from environment", "var", config.EnvAPIKey)
	}
}

// APIKey returns the stored key, falling back to the environment.
func (a *App) APIKey(ctx context.Context) string {
	if k := a.Store.APIKey(ctx); k != "" {
		return k
	}
	return config.EnvAPIKeyValue()
}

// NewLookup builds a VirusTotal client for key from the config.
func (a *App) NewLookup(key string) scan.Lookup {
	return virustotal.NewClient(key, virustotal.Options{
		APIURL:    a.Config.VirusTotal.APIURL,
		UserAgent: a.Config.VirusTotal.UserAgent,
		Timeout:   a.Config.VirusTotal.Timeout,
		Logger:    a.Logger,
	})
}

// StorageMode is "sqlite" or "memory".
func (a *App) StorageMode() string {
	if a.Store.Available() {
		return "sqlite"
	}
	return "memory"
}

// Close stops any running scan and releases the store and log file.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.VirusTotal.Timeout+a.Config.Scan.QuotaCooldown)
	defer cancel()
	if err := a.Runner.Shutdown(ctx); err != nil {
		a.Logger.Warn("scan did not stop before shutdown", "err", err)
	}

	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
