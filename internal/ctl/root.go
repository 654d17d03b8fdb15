// Package ctl implements roomviactl, the operator CLI that talks to a
// roomviad instance and runs the messaging core against it.
package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/config"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/instance"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/logging"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/client"
)

const AppName = "roomviactl"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

// NewRootCmd creates the roomviactl command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Operate a roomvia daemon and its conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.Version = Version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")

	cmd.PersistentFlags().String("instance", "", "instance name (overrides config default)")
	cmd.PersistentFlags().String("token", "", "bearer token (overrides config identity)")
	cmd.PersistentFlags().String("socket", "", "daemon socket path (overrides the instance socket)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	_ = cmd.PersistentFlags().MarkHidden("socket")

	cmd.AddCommand(
		newUsersCmd(),
		newWhoamiCmd(),
		newThreadsCmd(),
		newResolveCmd(),
		newSendCmd(),
		newHistoryCmd(),
		newReadCmd(),
		newWatchCmd(),
		newSearchCmd(),
	)
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// env is the per-invocation state shared by subcommands.
type env struct {
	cfg      *config.Config
	instance string
	client   *client.Client
	logger   *zap.Logger
	timeout  time.Duration
	json     bool
	out      io.Writer
}

func (e *env) close() {
	_ = e.client.Close()
	_ = e.logger.Sync()
}

// ctx bounds one command by the configured request timeout.
func (e *env) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), e.timeout)
}

// user authenticates the token against the daemon.
func (e *env) user(ctx context.Context) (messenger.User, error) {
	u, err := e.client.Identity().CurrentUser(ctx)
	if err != nil {
		return messenger.User{}, explain(err)
	}
	return u, nil
}

func (e *env) resolver() *messenger.ThreadResolver {
	return messenger.NewThreadResolver(e.client.Store(), e.timeout, e.logger)
}

func (e *env) port() *messenger.MessagePort {
	return messenger.NewMessagePort(e.client.Identity(), e.resolver(), e.client.Store(), e.timeout, e.logger)
}

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// connect loads configuration and dials the instance daemon.
func connect(cmd *cobra.Command) (*env, error) {
	cfg, err := instance.LoadConfig()
	if err != nil {
		return nil, err
	}
	flagInstance, _ := cmd.Flags().GetString("instance")
	name := instance.Resolve(flagInstance, cfg)
	if err := instance.ValidateName(name); err != nil {
		return nil, err
	}

	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.Identity.Token
	}
	socket, _ := cmd.Flags().GetString("socket")
	if socket == "" {
		socket = instance.SocketPath(name)
	}
	if _, err := os.Stat(socket); err != nil {
		return nil, fmt.Errorf("daemon for instance %q is not running (%s)", name, socket)
	}

	logger, err := logging.New(logging.Options{
		Path:     instance.LogPath(name, AppName),
		Instance: name,
		Binary:   AppName,
		Level:    cfg.Log.Level,
	})
	if err != nil {
		return nil, err
	}

	c, err := client.New(socket, token)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for instance %q: %w", name, err)
	}
	jsonOut, _ := cmd.Flags().GetBool("json")
	return &env{
		cfg:      cfg,
		instance: name,
		client:   c,
		logger:   logger,
		timeout:  cfg.Timeouts.Request.Duration,
		json:     jsonOut,
		out:      cmd.OutOrStdout(),
	}, nil
}

// explain turns messaging errors into operator hints.
func explain(err error) error {
	switch {
	case errors.Is(err, messenger.ErrUnauthenticated):
		return fmt.Errorf("%w (run `roomviactl users add <id> --save` or pass --token)", err)
	case errors.Is(err, messenger.ErrContextRequired):
		return fmt.Errorf("%w (pass --listing or --flatmate)", err)
	default:
		return err
	}
}
