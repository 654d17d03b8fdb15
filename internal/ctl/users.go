package ctl

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/api"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/config"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/instance"
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users known to the daemon",
	}
	cmd.AddCommand(newUsersAddCmd())
	return cmd
}

func newUsersAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Register a user and print a fresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			label, _ := cmd.Flags().GetString("label")
			displayID, _ := cmd.Flags().GetString("display-id")
			save, _ := cmd.Flags().GetBool("save")

			ctx, cancel := e.ctx(cmd)
			defer cancel()
			resp, err := e.client.Rows.RegisterUser(ctx, &api.RegisterUserRequest{
				UserID:    args[0],
				DisplayID: displayID,
				Label:     label,
			})
			if err != nil {
				return api.FromStatus(err)
			}

			if save {
				cfg, err := config.LoadOrDefault(instance.ConfigPath())
				if err != nil {
					return err
				}
				cfg.Identity = config.Identity{UserID: args[0], Token: resp.Token}
				if err := config.Save(instance.ConfigPath(), cfg); err != nil {
					return fmt.Errorf("save identity: %w", err)
				}
			}

			if e.json {
				return e.printJSON(map[string]any{"user_id": args[0], "token": resp.Token, "saved": save})
			}
			fmt.Fprintln(e.out, resp.Token)
			if save {
				fmt.Fprintf(e.out, "saved as identity in %s\n", instance.ConfigPath())
			}
			return nil
		},
	}
	cmd.Flags().String("label", "", "display label shown to peers")
	cmd.Flags().String("display-id", "", "public handle")
	cmd.Flags().Bool("save", false, "store the user and token as this machine's identity")
	return cmd
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := e.ctx(cmd)
			defer cancel()
			u, err := e.client.Identity().CurrentUser(ctx)
			if err != nil {
				return explain(err)
			}
			if e.json {
				return e.printJSON(map[string]string{"id": u.ID, "display_id": u.DisplayID})
			}
			fmt.Fprintln(e.out, u.ID)
			return nil
		},
	}
}
