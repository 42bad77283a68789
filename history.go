package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/epalmerini/burrow/internal/config"
	"github.com/epalmerini/burrow/internal/db"
	"github.com/epalmerini/burrow/internal/ingest"
	"github.com/spf13/cobra"
)

type historyOptions struct {
	dbPath    string
	sessionID int64
	grep      string
	limit     int64
	pretty    bool
}

func newHistoryCommand() *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history [config]",
		Short: "Browse archived sessions and messages",
		Long: `Reads the message archive written when archive = true. Without flags the
most recent sessions are listed. --session prints the messages of one
session and --grep searches message bodies and routing keys.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.dbPath == "" {
				opts.dbPath = archivePath(firstArg(args))
			}
			store, err := db.NewStore(opts.dbPath)
			if err != nil {
				return err
			}
			err = runHistory(cmd.Context(), store, os.Stdout, opts)
			return errors.Join(err, store.Close())
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", "", "Archive database path (default: config db or XDG data dir)")
	cmd.Flags().Int64Var(&opts.sessionID, "session", 0, "Print the messages of this session")
	cmd.Flags().StringVar(&opts.grep, "grep", "", "Only messages whose body or routing key contains this text")
	cmd.Flags().Int64Var(&opts.limit, "limit", 50, "Maximum rows to print")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "Indent JSON bodies")
	return cmd
}

// archivePath is the db setting of the config when one is found.
func archivePath(configPath string) string {
	cfg, err := loadConfig(configPath)
	if err != nil {
		if !errors.Is(err, config.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		return ""
	}
	return cfg.DBPath
}

func runHistory(ctx context.Context, store db.Store, w io.Writer, opts historyOptions) error {
	if opts.limit <= 0 {
		opts.limit = 50
	}

	if opts.sessionID == 0 && opts.grep == "" {
		sessions, err := store.ListRecentSessions(ctx, opts.limit)
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		return printSessions(w, sessions)
	}

	var (
		msgs []db.Message
		err  error
	)
	if opts.grep != "" {
		msgs, err = store.SearchMessages(ctx, opts.grep, opts.sessionID, opts.limit)
	} else {
		msgs, err = store.ListMessagesBySession(ctx, opts.sessionID, opts.limit, 0)
	}
	if err != nil {
		return fmt.Errorf("reading messages: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return nil
	}
	for _, m := range msgs {
		printMessage(w, m, opts.pretty)
	}
	return nil
}

func printSessions(w io.Writer, sessions []db.Session) error {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tENDED\tCLIENT\tBROKER\tMESSAGES")
	for _, s := range sessions {
		ended := "-"
		if s.EndedAt.Valid {
			ended = s.EndedAt.Time.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04:05"), ended, s.ClientName, s.AmqpURL, s.MessageCount)
	}
	return tw.Flush()
}

func printMessage(w io.Writer, m db.Message, pretty bool) {
	display := m.Exchange
	if m.RoutingKey != "" {
		display += " [" + m.RoutingKey + "]"
	}

	payload := strings.ToValidUTF8(string(m.Body), string(utf8.RuneError))
	lines, _ := ingest.Render(display, m.ConsumedAt, payload, pretty, 0)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}
