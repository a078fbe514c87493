package root

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/cli"
	"github.com/docker/agentloop/pkg/paths"
	"github.com/docker/agentloop/pkg/session"
)

type sessionsFlags struct {
	dbPath string
}

func newSessionsCmd() *cobra.Command {
	var flags sessionsFlags

	cmd := &cobra.Command{
		Use:     "sessions",
		Short:   "Manage stored sessions",
		GroupID: "core",
	}
	cmd.PersistentFlags().StringVar(&flags.dbPath, "db", filepath.Join(paths.GetDataDir(), "sessions.db"), "Path to the session database")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE:  flags.withStore(runSessionsList),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the conversation of a session",
		Args:  cobra.ExactArgs(1),
		RunE:  flags.withStore(runSessionsShow),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export <session-id> <file>",
		Short: "Export a session as JSON",
		Args:  cobra.ExactArgs(2),
		RunE:  flags.withStore(runSessionsExport),
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "rm <session-id>...",
		Aliases: []string{"delete"},
		Short:   "Delete sessions",
		Args:    cobra.MinimumNArgs(1),
		RunE:    flags.withStore(runSessionsRemove),
	})

	return cmd
}

type storeCommand func(ctx context.Context, cmd *cobra.Command, store session.Store, args []string) error

func (f *sessionsFlags) withStore(run storeCommand) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, paths.ExpandHome(f.dbPath))
		if err != nil {
			return err
		}
		defer store.Close()
		return run(ctx, cmd, store, args)
	}
}

func runSessionsList(ctx context.Context, cmd *cobra.Command, store session.Store, _ []string) error {
	summaries, err := store.GetSessionSummaries(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCREATED\tMESSAGES\tTOKENS (IN/OUT)")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s ago\t%d\t%d/%d\n",
			s.ID, s.Title, units.HumanDuration(time.Since(s.CreatedAt)), s.MessageCount, s.InputTokens, s.OutputTokens)
	}
	return w.Flush()
}

func runSessionsShow(ctx context.Context, cmd *cobra.Command, store session.Store, args []string) error {
	sess, err := store.GetSession(ctx, args[0])
	if err != nil {
		return fmt.Errorf("session %s: %w", args[0], err)
	}

	out := cli.NewPrinter(cmd.OutOrStdout())
	out.Printf("%s (%s)\n", sess.Title, sess.CreatedAt.Format(time.RFC1123))

	names := map[string]string{}
	for i := range sess.Messages {
		msg := &sess.Messages[i]
		switch msg.Kind() {
		case chat.KindUser:
			out.Printf("\n> %s\n", msg.Text())
		case chat.KindAssistantText, chat.KindAssistantToolUse:
			if text := msg.Text(); text != "" {
				out.Printf("\n%s\n", text)
			}
			for _, call := range msg.ToolCalls() {
				names[call.ID] = call.Name
				out.PrintToolCall(call)
			}
		case chat.KindToolResult:
			for _, result := range msg.ToolResults() {
				out.PrintToolResult(names[result.ToolCallID], result)
			}
		}
	}

	usage := sess.Usage()
	out.Printf("\n%s input tokens, %s output tokens\n", strconv.FormatInt(usage.InputTokens, 10), strconv.FormatInt(usage.OutputTokens, 10))
	return nil
}

func runSessionsExport(ctx context.Context, cmd *cobra.Command, store session.Store, args []string) error {
	sess, err := store.GetSession(ctx, args[0])
	if err != nil {
		return fmt.Errorf("session %s: %w", args[0], err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(args[1], bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", args[1], err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d messages (%s) to %s\n", len(sess.Messages), units.HumanSize(float64(len(data))), args[1])
	return nil
}

func runSessionsRemove(ctx context.Context, cmd *cobra.Command, store session.Store, args []string) error {
	for _, id := range args {
		if err := store.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("deleting session %s: %w", id, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Deleted", id)
	}
	return nil
}
