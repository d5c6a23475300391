package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zsprackett/tokengauge/internal/dashboard"
	"github.com/zsprackett/tokengauge/internal/ui"
)

func newTUICmd(flags *globalFlags) *cobra.Command {
	var ephemeral bool
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive usage dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("tokengauge tui must run in a terminal")
			}
			flags.ensureConfig(cmd.ErrOrStderr())
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			rt, err := flags.open(cfg, ephemeral, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			model := dashboard.New(rt.store, dashboard.Config{
				Providers: rt.providers(),
				Order:     cfg.Order(),
				TTL:       cfg.RefreshInterval,
				Window:    cfg.WindowPreference(),
				Policy:    cfg.Policy(),
			}, rt.logger)
			return ui.NewApp(model, rt.logger).Run(commandContext(cmd))
		},
	}
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "keep the cache in memory instead of on disk")
	return cmd
}
