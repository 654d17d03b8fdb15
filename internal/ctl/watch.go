package ctl

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/status"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [peer-id]",
		Short: "Stream new messages until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := e.ctx(cmd)
			u, err := e.user(ctx)
			cancel()
			if err != nil {
				return err
			}

			b := bus.New()
			links := b.Subscribe(bus.KindFeedStatus, 8)
			defer links.Close()
			f := e.client.Feed(status.NewMachine(b, "watch"), e.logger)
			defer f.Close()
			live := messenger.NewLiveFeed(f, u.ID, e.logger)
			defer live.Close()

			msgs := make(chan messenger.Message, 64)
			onMessage := func(m messenger.Message) {
				select {
				case msgs <- m:
				default:
				}
			}
			var sub *messenger.Subscription
			if len(args) == 1 {
				sub, err = live.Subscribe(args[0], onMessage)
			} else {
				sub, err = live.Watch(onMessage)
			}
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			for {
				select {
				case m := <-msgs:
					printMessage(e, u.ID, m)
				case evt := <-links.C:
					if c, ok := evt.Payload.(status.StatusChange); ok && c.To != status.Live {
						fmt.Fprintf(cmd.ErrOrStderr(), "feed %s\n", strings.ToLower(string(c.To)))
					}
				case <-sigCtx.Done():
					return nil
				}
			}
		},
	}
}
