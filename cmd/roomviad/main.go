package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/daemon"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/instance"
)

func main() {
	var (
		instanceFlag string
		quiet        bool
	)
	cmd := &cobra.Command{
		Use:           "roomviad",
		Short:         "Serve a roomvia instance over its unix socket and HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := instance.LoadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			name := instance.Resolve(instanceFlag, cfg)
			if err := instance.ValidateName(name); err != nil {
				return err
			}

			app := fx.New(
				daemon.Module(daemon.Params{Instance: name, Config: cfg, Console: !quiet}),
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().StringVar(&instanceFlag, "instance", "", "instance name (overrides config default)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "log to the instance log file only")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
