package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kgellert/gemini-relay/internal/config"
	"github.com/kgellert/gemini-relay/internal/history"
	messagesrepo "github.com/kgellert/gemini-relay/internal/messages/repo"
	"github.com/kgellert/gemini-relay/internal/storage"
	"github.com/kgellert/gemini-relay/internal/telegram"
)

func newHistoryCmd() *cobra.Command {
	var chatID, messageID int64

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation that ends at a stored message",
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "main.history"

			cfg := config.MustLoad()
			log := slog.New(slog.NewTextHandler(io.Discard, nil))

			selfID, err := telegram.BotIDFromToken(cfg.Telegram.Token)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}

			db, err := storage.Open(cmd.Context(), cfg.Storage.Driver, cfg.Storage.DSN)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			defer db.Close()

			store := messagesrepo.New(db, selfID, log)
			resp, err := history.New(store, selfID, cfg.Relay.HistoryDepth, log).
				BuildFromStore(cmd.Context(), chatID, messageID)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().Int64Var(&chatID, "chat", 0, "chat id")
	cmd.Flags().Int64Var(&messageID, "message", 0, "message id")
	_ = cmd.MarkFlagRequired("chat")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}
