package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zsprackett/tokengauge/internal/cache"
	"github.com/zsprackett/tokengauge/internal/usage"
)

func newRefreshCmd(flags *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the usage cache if it is stale",
		Long: `Refresh fetches every enabled provider and rewrites the cache.
Without --force a fresh cache is left alone and a refresh already running in
another process is not duplicated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			rt, err := flags.open(cfg, false, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := commandContext(cmd)
			var entry *usage.Entry
			if force {
				entry, err = rt.store.Refresh(ctx, rt.providers(), true)
			} else {
				entry, err = rt.store.GetOrRefresh(ctx, rt.providers(), cfg.RefreshInterval)
			}
			var werr *cache.WriteError
			if errors.As(err, &werr) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				err = nil
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fetched_at %s\n", entry.FetchedAt.Local().Format("2006-01-02 15:04:05"))
			order := cfg.Order()
			if len(order) == 0 {
				order = entry.Order
			}
			for _, id := range order {
				snap, ok := entry.Snapshot(id)
				switch {
				case !ok:
					fmt.Fprintf(out, "%-10s missing\n", usage.Label(id))
				case snap.Error != "":
					fmt.Fprintf(out, "%-10s %s: %s\n", usage.Label(id), snap.FetchStatus, snap.Error)
				default:
					fmt.Fprintf(out, "%-10s %s\n", usage.Label(id), snap.FetchStatus)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "refresh even if the cache is fresh")
	return cmd
}
