package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kgellert/gemini-relay/internal/archive"
	archiveHandler "github.com/kgellert/gemini-relay/internal/archive/handler"
	"github.com/kgellert/gemini-relay/internal/auth"
	"github.com/kgellert/gemini-relay/internal/bot"
	"github.com/kgellert/gemini-relay/internal/cache"
	"github.com/kgellert/gemini-relay/internal/commands"
	"github.com/kgellert/gemini-relay/internal/config"
	configHandler "github.com/kgellert/gemini-relay/internal/config/handler"
	"github.com/kgellert/gemini-relay/internal/generation"
	"github.com/kgellert/gemini-relay/internal/history"
	httpserver "github.com/kgellert/gemini-relay/internal/http-server"
	"github.com/kgellert/gemini-relay/internal/lib/logger/sl"
	messagesHandler "github.com/kgellert/gemini-relay/internal/messages/handler"
	messagesrepo "github.com/kgellert/gemini-relay/internal/messages/repo"
	"github.com/kgellert/gemini-relay/internal/metrics"
	"github.com/kgellert/gemini-relay/internal/storage"
	"github.com/kgellert/gemini-relay/internal/telegram"
	"github.com/kgellert/gemini-relay/internal/ws"
	"github.com/kgellert/gemini-relay/internal/ws/hub"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll Telegram and answer commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), config.MustLoad())
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := setupLogger(cfg.Env)
	log.Info("starting gemini-relay", slog.String("env", cfg.Env))

	db, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		log.Error("failed to init storage", sl.Err(err))
		return err
	}
	defer db.Close()

	limiter := rate.NewLimiter(rate.Limit(cfg.Telegram.SendRate), cfg.Telegram.SendBurst)
	tg := telegram.New(nil, cfg.Telegram.APIBaseURL, cfg.Telegram.Token, limiter)

	me, err := tg.GetMe(ctx)
	if err != nil {
		log.Error("failed to identify bot", sl.Err(err))
		return err
	}
	log.Info("bot identified", slog.Int64("id", me.ID), slog.String("username", me.Username))

	store := messagesrepo.New(db, me.ID, log)

	resolver, err := commands.NewResolver(bot.CommandTable(), me.Username, commands.DefaultLegacy)
	if err != nil {
		log.Error("failed to build command table", sl.Err(err))
		return err
	}

	backend, err := generation.NewGenAIBackend(ctx, cfg.Gemini.APIKey)
	if err != nil {
		log.Error("failed to init gemini client", sl.Err(err))
		return err
	}

	archiveService, err := archive.NewFromConfig(ctx, cfg.Archive)
	if err != nil {
		log.Error("failed to init archive", sl.Err(err))
		return err
	}

	m := metrics.New()
	h := hub.NewHub()
	chatHistory := history.New(store, me.ID, cfg.Relay.HistoryDepth, log)

	relay, err := bot.New(bot.Deps{
		Transport: tg,
		Updates:   tg,
		Store:     store,
		History:   chatHistory,
		Prompts: generation.NewBuilder(
			tg,
			cache.NewFIFO[string, []byte](cfg.Relay.FileCacheSize),
			resolver,
			cfg.Relay.MaxPromptBytes,
			cfg.Relay.DownloadWorkers,
			log,
		),
		Generator: generation.New(backend, cfg.Gemini.MaxAttempts, log),
		Resolver:  resolver,
		Auth:      auth.New(cfg.Access.TrustedUserIDs, cfg.Access.AllowedChatIDs),
		Archive:   archiveService,
		Events:    ws.NewPublisher(h, log),
		Metrics:   m,
		Settings: bot.Settings{
			ChatModel:        cfg.Gemini.ChatModel,
			ImageModel:       cfg.Gemini.ImageModel,
			SummarizeModel:   cfg.Gemini.SummarizeModel,
			Timeout:          cfg.Gemini.Timeout,
			SummarizeTimeout: cfg.Gemini.SummarizeTimeout,
			ThinkingBudget:   cfg.Gemini.ThinkingBudget,
			ProcessingEmoji:  cfg.Relay.ProcessingEmoji,
			RetryEmojis:      cfg.Relay.RetryEmojis,
			PollTimeout:      cfg.Telegram.PollTimeout,
			MediaGroupWindow: cfg.Relay.MediaGroupWindow,
			MaxOpenGroups:    cfg.Relay.MaxOpenGroups,
		},
		SelfID: me.ID,
		Log:    log,
	})
	if err != nil {
		log.Error("failed to init bot", sl.Err(err))
		return err
	}

	router := httpserver.NewRouter(httpserver.Handlers{
		Messages: messagesHandler.New(store, chatHistory, log),
		Archive:  archiveHandler.New(archiveService, log),
		Config:   configHandler.New(*cfg, resolver.Specs(), log),
		Metrics:  m.Handler(),
		Hub:      h,
	}, log)
	srv := httpserver.New(cfg.HTTPServer, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		h.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return relay.Run(ctx)
	})

	g.Go(func() error {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("relay stopped with error", sl.Err(err))
		return err
	}

	log.Info("relay stopped")
	return nil
}
