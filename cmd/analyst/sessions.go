package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dataanalyst/internal/conversation"
)

var sessionsPlain bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved conversations",
	RunE:  runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the conversation of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsShowCmd.Flags().BoolVar(&sessionsPlain, "plain", false, "Print plain text without styling")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func openStore() (*conversation.Store, error) {
	return conversation.OpenStore(cfg.Session.DatabasePath)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No saved sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tTURNS\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.Title, s.TurnCount, s.UpdatedAt.Local().Format(time.DateTime))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal: %d sessions\n", len(sessions))
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sessionsPlain {
		for _, t := range sess.History {
			fmt.Fprintf(out, "[%s] %s\n", t.Role, t.PlainText())
		}
		return nil
	}
	fmt.Fprintf(out, "%s (%s)\n%s\n", sess.Title, sess.ID, strings.Repeat("─", 50))
	newRenderer(out).history(sess.History)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}
