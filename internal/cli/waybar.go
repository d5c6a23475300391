package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsprackett/tokengauge/internal/cache"
	"github.com/zsprackett/tokengauge/internal/status"
)

// newWaybarCmd prints exactly one status payload and always exits 0, so the
// bar shows an error class instead of a blank module.
func newWaybarCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "waybar",
		Short: "Print the status-bar JSON payload once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			flags.ensureConfig(cmd.ErrOrStderr())
			cfg, err := flags.loadConfig()
			if err != nil {
				return status.Degraded(err).Write(out)
			}
			rt, err := flags.open(cfg, false, cmd.ErrOrStderr())
			if err != nil {
				return status.Degraded(err).Write(out)
			}
			defer rt.Close()

			entry, err := rt.store.GetOrRefresh(commandContext(cmd), rt.providers(), cfg.RefreshInterval)
			var werr *cache.WriteError
			switch {
			case errors.As(err, &werr):
				rt.logger.Warn("serving unsaved refresh", "err", err)
			case err != nil && entry == nil:
				rt.logger.Error("no usage data", "err", err)
				return status.Degraded(err).Write(out)
			case err != nil:
				rt.logger.Warn("serving last known entry", "err", err)
			}

			return status.Format(entry, status.Options{
				Window: cfg.WindowPreference(),
				Order:  cfg.Order(),
				Policy: cfg.Policy(),
				Glyphs: cfg.Glyphs(),
				Now:    time.Now(),
			}).Write(out)
		},
	}
}
