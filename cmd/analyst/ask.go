package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dataanalyst/internal/agent"
	"dataanalyst/internal/conversation"
)

var (
	askSession string
	askNoSave  bool
	askPlain   bool
)

var askCmd = &cobra.Command{
	Use:   "ask <file> [instruction...]",
	Short: "Ask a question about a file",
	Example: `  analyst ask sales.csv "plot revenue by month"
  analyst ask report.pdf what were the Q3 results? --session 1b9d...
  analyst ask photo.jpg`,
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{annotationNeedsModel: "true"},
	RunE:        runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Continue an existing session")
	askCmd.Flags().BoolVar(&askNoSave, "no-save", false, "Do not persist the conversation")
	askCmd.Flags().BoolVar(&askPlain, "plain", false, "Print plain text without styling")
}

func runAsk(cmd *cobra.Command, args []string) error {
	path := args[0]
	instruction := strings.Join(args[1:], " ")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := agent.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	var (
		store *conversation.Store
		sess  = &conversation.Session{}
	)
	if !askNoSave {
		store, err = conversation.OpenStore(cfg.Session.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		if askSession != "" {
			sess, err = store.Load(ctx, askSession)
		} else {
			sess, err = store.Create(ctx, filepath.Base(path))
		}
		if err != nil {
			return err
		}
	}

	logger.Info("Processing request",
		zap.String("file", path),
		zap.String("session", sess.ID),
		zap.Int("history", len(sess.History)))

	resp := a.Handle(ctx, agent.Request{
		FilePath:    path,
		Instruction: instruction,
		History:     sess.History,
	})
	if resp.Err != nil {
		logger.Debug("request error", zap.Error(resp.Err))
	}

	if store != nil {
		// Saved even when ctx expired so the failed turn is kept.
		if err := store.Save(context.WithoutCancel(ctx), sess.ID, resp.History); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if askPlain {
		fmt.Fprintln(out, resp.Text)
	} else {
		newRenderer(out).response(resp)
	}
	if sess.ID != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sess.ID)
	}
	return nil
}
