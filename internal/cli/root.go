package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsprackett/tokengauge/internal/applog"
	"github.com/zsprackett/tokengauge/internal/cache"
	"github.com/zsprackett/tokengauge/internal/config"
	"github.com/zsprackett/tokengauge/internal/db"
	"github.com/zsprackett/tokengauge/internal/metrics"
	"github.com/zsprackett/tokengauge/internal/provider"
	"github.com/zsprackett/tokengauge/internal/usage"
)

var version = "dev"

type globalFlags struct {
	configPath string
	logLevel   string
	verbose    bool
}

// Execute runs the command line. Errors have already been printed when it
// returns non-nil.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if isConfigError(err) {
			fmt.Fprintln(os.Stderr, "hint: `tokengauge config init` writes a default config")
		}
		return err
	}
	return nil
}

func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "tokengauge",
		Short:         "AI usage quotas for the status bar and the terminal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default $TOKENGAUGE_CONFIG or "+config.DefaultPath()+")")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log_level from the config file")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "also write logs to stderr")

	tui := newTUICmd(flags)
	root.RunE = tui.RunE
	root.Flags().AddFlagSet(tui.Flags())

	root.AddCommand(
		tui,
		newWaybarCmd(flags),
		newRefreshCmd(flags),
		newShowCmd(flags),
		newConfigCmd(flags),
	)
	return root
}

func (f *globalFlags) path() string {
	if f.configPath != "" {
		return f.configPath
	}
	if p := os.Getenv("TOKENGAUGE_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath()
}

// ensureConfig writes the default configuration when none exists yet.
func (f *globalFlags) ensureConfig(stderr io.Writer) {
	path := f.path()
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err := config.Save(config.Defaults(), path); err != nil {
		fmt.Fprintf(stderr, "warning: could not write default config: %v\n", err)
	}
}

// loadConfig reads and validates the configuration. Any problem is returned
// as a *config.Error.
func (f *globalFlags) loadConfig() (config.Config, error) {
	path := f.path()
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, &config.Error{Field: path, Msg: err.Error()}
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// runtime is everything a command needs once configuration is loaded.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *cache.Store
	closers []io.Closer
}

func (f *globalFlags) open(cfg config.Config, ephemeral bool, stderr io.Writer) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	var tee io.Writer
	if f.verbose {
		tee = stderr
	}
	logger, closer, err := applog.Init(applog.InitConfig{
		LogDir:   cfg.LogDir,
		LogLevel: cfg.LogLevel,
		Format:   cfg.LogFormat,
		Stderr:   tee,
	})
	if err != nil {
		logger = applog.Fallback(stderr)
		logger.Warn("could not init log file", "err", err)
	} else {
		rt.closers = append(rt.closers, closer)
	}
	rt.logger = logger

	backend, err := rt.openBackend(ephemeral)
	if err != nil {
		rt.Close()
		return nil, err
	}

	opts := cache.Options{
		StaleAfter:  cfg.StaleAfter(),
		WaitTimeout: cfg.Timeout + 2*time.Second,
	}
	if cfg.MetricsFile != "" {
		opts.OnRefresh = metrics.New(cfg.MetricsFile, logger).OnRefresh
	}
	client := provider.NewCodexbar(cfg.CodexbarBin, cfg.Timeout, logger)
	rt.store = cache.New(backend, client, opts, logger)
	return rt, nil
}

func (rt *runtime) openBackend(ephemeral bool) (cache.Backend, error) {
	switch {
	case ephemeral:
		return cache.NewMemoryBackend(), nil
	case rt.cfg.Cache.Backend == config.BackendSQLite:
		path := sqlitePath(rt.cfg.Cache.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
		store, err := db.Open(path)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
		rt.closers = append(rt.closers, store)
		return store, nil
	default:
		return cache.NewFileBackend(rt.cfg.Cache.Path)
	}
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i].Close()
	}
}

// providers maps the provider list to what the client needs, filling in
// the global source.
func (rt *runtime) providers() []provider.Config {
	return providerConfigs(rt.cfg)
}

func providerConfigs(cfg config.Config) []provider.Config {
	out := make([]provider.Config, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		source := p.Source
		if source == "" {
			source = cfg.Source
		}
		out = append(out, provider.Config{
			ID:        usage.ProviderID(p.ID),
			Enabled:   p.IsEnabled(),
			Source:    source,
			APIKey:    p.APIKey,
			APIKeyEnv: p.APIKeyEnv,
		})
	}
	return out
}

func sqlitePath(p string) string {
	if strings.EqualFold(filepath.Ext(p), ".json") {
		return strings.TrimSuffix(p, filepath.Ext(p)) + ".db"
	}
	return p
}

func isConfigError(err error) bool {
	var cfgErr *config.Error
	return errors.As(err, &cfgErr)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
