package ctl

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/api"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

func contextFlags(cmd *cobra.Command) {
	cmd.Flags().String("listing", "", "listing id the conversation starts from")
	cmd.Flags().String("flatmate", "", "flatmate profile id the conversation starts from")
}

func threadContext(cmd *cobra.Command) messenger.ThreadContext {
	listing, _ := cmd.Flags().GetString("listing")
	flatmate, _ := cmd.Flags().GetString("flatmate")
	return messenger.ThreadContext{ListingID: listing, FlatmateID: flatmate}
}

func describeContext(tc messenger.ThreadContext) string {
	switch {
	case tc.ListingID != "":
		return "listing " + tc.ListingID
	case tc.FlatmateID != "":
		return "flatmate " + tc.FlatmateID
	default:
		return "-"
	}
}

func newThreadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := e.ctx(cmd)
			defer cancel()
			u, err := e.user(ctx)
			if err != nil {
				return err
			}
			st := e.client.Store()
			unread := messenger.NewUnreadTracker(st, u.ID, e.timeout, e.logger)
			entries, err := messenger.NewThreadListAggregator(e.client.Identity(), st, st, unread, e.timeout, e.logger).List(ctx)
			if err != nil {
				return explain(err)
			}
			if e.json {
				return e.printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(e.out, "no conversations")
				return nil
			}
			w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PEER\tNAME\tCONTEXT\tUNREAD\tLAST")
			for _, t := range entries {
				last := "-"
				if !t.LastMessageAt.IsZero() {
					last = fmt.Sprintf("%s (%s)", truncate(t.LastMessage, 40), humanize.Time(t.LastMessageAt))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.PeerID, t.DisplayName, describeContext(t.Context), t.UnreadCount, last)
			}
			return w.Flush()
		},
	}
}

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <peer-id>",
		Short: "Find or create the conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := e.ctx(cmd)
			defer cancel()
			u, err := e.user(ctx)
			if err != nil {
				return err
			}
			id, err := e.resolver().ResolveOrCreate(ctx, u.ID, args[0], threadContext(cmd))
			if err != nil {
				return explain(err)
			}
			if e.json {
				return e.printJSON(map[string]string{"thread_id": id})
			}
			fmt.Fprintln(e.out, id)
			return nil
		},
	}
	contextFlags(cmd)
	return cmd
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <peer-id> <text>",
		Short: "Send a message, creating the conversation if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := e.ctx(cmd)
			defer cancel()
			m, err := e.port().Send(ctx, args[0], args[1], uuid.NewString(), threadContext(cmd))
			if err != nil {
				return explain(err)
			}
			if e.json {
				return e.printJSON(api.MessageToWire(*m))
			}
			fmt.Fprintf(e.out, "sent %s in thread %s\n", m.ID, m.ThreadID)
			return nil
		},
	}
	contextFlags(cmd)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <peer-id>",
		Short: "Print a page of the conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			ctx, cancel := e.ctx(cmd)
			defer cancel()
			u, err := e.user(ctx)
			if err != nil {
				return err
			}
			msgs, err := e.port().History(ctx, args[0], limit, offset)
			if err != nil {
				return explain(err)
			}
			if e.json {
				out := make([]api.Message, 0, len(msgs))
				for _, m := range msgs {
					out = append(out, api.MessageToWire(m))
				}
				return e.printJSON(out)
			}
			if len(msgs) == 0 {
				fmt.Fprintln(e.out, "no messages")
				return nil
			}
			for _, m := range msgs {
				printMessage(e, u.ID, m)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", messenger.DefaultPageSize, "page size")
	cmd.Flags().Int("offset", 0, "messages to skip from the newest")
	return cmd
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <peer-id>",
		Short: "Mark the conversation with a peer as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			ctx, cancel := e.ctx(cmd)
			defer cancel()
			u, err := e.user(ctx)
			if err != nil {
				return err
			}
			t, err := e.resolver().Find(ctx, u.ID, args[0])
			if errors.Is(err, messenger.ErrThreadNotFound) {
				fmt.Fprintln(e.out, "no conversation")
				return nil
			}
			if err != nil {
				return explain(err)
			}
			ids, err := messenger.NewUnreadTracker(e.client.Store(), u.ID, e.timeout, e.logger).MarkRead(ctx, t.ID)
			if err != nil {
				return explain(err)
			}
			if e.json {
				return e.printJSON(map[string]any{"thread_id": t.ID, "marked": len(ids)})
			}
			fmt.Fprintf(e.out, "marked %d read\n", len(ids))
			return nil
		},
	}
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search your messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			limit, _ := cmd.Flags().GetInt("limit")
			ctx, cancel := e.ctx(cmd)
			defer cancel()
			u, err := e.user(ctx)
			if err != nil {
				return err
			}
			hits, err := e.client.Store().Search(ctx, u.ID, args[0], "", limit)
			if err != nil {
				return explain(err)
			}
			if e.json {
				return e.printJSON(hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(e.out, "no matches")
				return nil
			}
			for _, h := range hits {
				fmt.Fprintf(e.out, "[%s] ", h.PeerID)
				printMessage(e, u.ID, h.Message.Domain())
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum results")
	return cmd
}

func printMessage(e *env, self string, m messenger.Message) {
	who := m.SenderID
	if who == self {
		who = "you"
	}
	read := ""
	if m.RecipientID == self && !m.IsRead {
		read = " *"
	}
	fmt.Fprintf(e.out, "%s  %s: %s%s\n", humanize.Time(m.CreatedAt), who, m.Text, read)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
