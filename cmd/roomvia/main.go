package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/instance"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/logging"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/client"
)

const (
	appName      = "roomvia"
	daemonBinary = "roomviad"
	startTimeout = 10 * time.Second
)

func main() {
	var (
		instanceFlag string
		token        string
		noStart      bool
	)
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Chat with landlords and flatmates from the terminal",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := instance.LoadConfig()
			if err != nil {
				return err
			}
			name := instance.Resolve(instanceFlag, cfg)
			if err := instance.ValidateName(name); err != nil {
				return err
			}
			if token == "" {
				token = cfg.Identity.Token
			}

			socket := instance.SocketPath(name)
			probeCtx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			up := client.Probe(probeCtx, socket)
			cancel()
			if !up {
				if noStart {
					return fmt.Errorf("daemon for instance %q is not running", name)
				}
				fmt.Fprintf(os.Stderr, "daemon not running for instance %q, starting...\n", name)
				if err := startDaemon(name); err != nil {
					return fmt.Errorf("start daemon: %w", err)
				}
				waitCtx, cancel := context.WithTimeout(cmd.Context(), startTimeout)
				err := client.WaitReady(waitCtx, socket, 300*time.Millisecond)
				cancel()
				if err != nil {
					return err
				}
			}

			logger, err := logging.New(logging.Options{
				Path:     instance.LogPath(name, appName),
				Instance: name,
				Binary:   appName,
				Level:    cfg.Log.Level,
			})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			c, err := client.New(socket, token)
			if err != nil {
				return fmt.Errorf("connect to daemon: %w", err)
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeouts.Request.Duration)
			app, err := tui.New(ctx, tui.Options{
				Client:   c,
				Instance: name,
				Timeout:  cfg.Timeouts.Request.Duration,
				Logger:   logger,
			})
			cancel()
			if errors.Is(err, messenger.ErrUnauthenticated) {
				return fmt.Errorf("%w: register with `roomviactl users add <id> --save` or pass --token", err)
			}
			if err != nil {
				return err
			}
			return app.Run()
		},
	}
	cmd.Flags().StringVar(&instanceFlag, "instance", "", "instance name (overrides config default)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (overrides config identity)")
	cmd.Flags().BoolVar(&noStart, "no-start", false, "fail instead of starting the daemon")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// startDaemon launches roomviad for the instance, preferring the binary next
// to this executable.
func startDaemon(name string) error {
	bin := daemonBinary
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), daemonBinary)
		if _, err := os.Stat(sibling); err == nil {
			bin = sibling
		}
	}
	cmd := exec.Command(bin, "--instance", name, "--quiet")
	// Startup errors stay visible until the TUI takes the screen.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}
