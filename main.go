package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"nudgebot/internal/api"
	"nudgebot/internal/auth"
	"nudgebot/internal/config"
	"nudgebot/internal/logging"
	"nudgebot/internal/realtime"
	"nudgebot/internal/redis"
	"nudgebot/internal/service/ai"
	"nudgebot/internal/service/assistant"
	"nudgebot/internal/service/chat"
	"nudgebot/internal/service/notify"
	"nudgebot/internal/service/workspace"
	"nudgebot/internal/storage"
	"nudgebot/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logging.Init()
	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nudgebot",
		Short:         "AI-assisted notification bots for task workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingress, scheduler and notification workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, _, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()
			slog.Info("database migrated")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage service tokens for the event API",
	}
	issue := &cobra.Command{
		Use:   "issue NAME",
		Short: "Issue a bearer token for an internal caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, _, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()
			token, err := auth.NewService(db, nil, 0).IssueToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke TOKEN",
		Short: "Revoke a service token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, _, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()
			return auth.NewService(db, nil, 0).RevokeToken(cmd.Context(), args[0])
		},
	}
	cmd.AddCommand(issue, revoke)
	return cmd
}

// openDatabase loads config from NUDGEBOT_CONFIG and opens the NUDGEBOT_DB
// driver (sqlite3 by default) with the schema applied.
func openDatabase() (*config.Config, *sql.DB, string, error) {
	cfg, err := config.Load(os.Getenv("NUDGEBOT_CONFIG"))
	if err != nil {
		return nil, nil, "", fmt.Errorf("load config: %w", err)
	}
	dbType := os.Getenv("NUDGEBOT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	slog.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, nil, "", fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, nil, "", fmt.Errorf("migrate database: %w", err)
	}
	return cfg, db, dbType, nil
}

func serve(ctx context.Context) error {
	cfg, db, dbType, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Host != "" || cfg.BasicConfig.Scheduler == "redis" {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			if cfg.BasicConfig.Scheduler == "redis" {
				return fmt.Errorf("create redis client: %w", err)
			}
			slog.Warn("redis unavailable, using in-process broadcaster", "err", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var (
		broadcaster realtime.Broadcaster
		listener    realtime.Listener
	)
	if rdb != nil {
		rb := realtime.NewRedisBroadcaster(rdb)
		broadcaster, listener = rb, rb
	} else {
		hub := realtime.NewHub()
		broadcaster, listener = hub, hub
	}

	ws := workspace.NewService(db)
	chatSvc := chat.NewService(db, storage.Normalize(dbType), ws)
	messenger := chat.NewDispatcher(chatSvc, broadcaster)

	client, err := ai.NewClient(ctx, cfg)
	var gen ai.Generator
	var model assistant.Model
	switch {
	case errors.Is(err, ai.ErrNotConfigured):
		slog.Warn("no generative provider configured, notifications use templates")
	case err != nil:
		return fmt.Errorf("init ai client: %w", err)
	default:
		gen, model = client, client
	}

	toolset := ai.InitTools(ctx, cfg, ws)
	tools, err := ai.NewDispatcher(cfg.Assistant.ToolThreshold, toolset...)
	if err != nil {
		return fmt.Errorf("init tools: %w", err)
	}

	selector := notify.NewSelector(ws, gen, cfg.Notify.SystemBotID, cfg.AI.Timeout())
	speaker := notify.NewSpeaker(gen, cfg.AI.Timeout())
	pipeline := notify.NewPipeline(ws, chatSvc, messenger, selector, speaker, notify.RichTextNormalizer{}, notify.Options{
		Diff:                notify.DiffOptions{Window: cfg.Notify.DiffWindow, MaxLines: cfg.Notify.DiffMaxLines},
		CelebrationMaxRunes: cfg.Notify.CelebrationMaxRunes,
		GroupScope:          cfg.Notify.GroupScope,
	})

	retry := &worker.Retrier{
		Next: pipeline,
		Policy: worker.RetryPolicy{
			MaxAttempts: cfg.Notify.MaxAttempts,
			Base:        time.Duration(cfg.Notify.RetryBaseSecs) * time.Second,
			Max:         5 * time.Minute,
		},
	}
	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: cfg.BasicConfig.WorkerIdle(),
		JobTimeout:  2 * time.Minute,
	}, retry)
	defer dispatcher.Close()

	var scheduler worker.Scheduler
	if cfg.BasicConfig.Scheduler == "redis" {
		rs := worker.NewRedisScheduler(rdb, dispatcher, time.Duration(cfg.BasicConfig.PollInterval)*time.Millisecond)
		go rs.Run(ctx)
		scheduler = rs
	} else {
		ms := worker.NewMemoryScheduler(dispatcher)
		defer ms.Stop()
		scheduler = ms
	}
	retry.Scheduler = scheduler
	slog.Info("scheduler ready", "backend", cfg.BasicConfig.Scheduler)

	notifier := notify.NewNotifier(ws, scheduler, cfg.Notify)
	asst := assistant.NewService(ws, chatSvc, messenger, tools, model, cfg.Assistant)

	maintenance := worker.NewMaintenance(chatSvc, time.Duration(cfg.BasicConfig.DeliveryRetention)*time.Hour)
	for _, t := range toolset {
		if p, ok := t.(worker.IdlePruner); ok {
			maintenance.AddPruner(p)
		}
	}
	if err := maintenance.Start(cfg.BasicConfig.MaintenanceSpec); err != nil {
		return err
	}
	defer maintenance.Stop()

	authService := auth.NewService(db, rdb, 0)
	handlers := api.NewHandler(notifier, asst, ws, authService, listener, db, cfg.BasicConfig.AttachmentBaseDir)

	router := gin.New()
	router.Use(gin.Recovery())
	handlers.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.BasicConfig.ServerAddress, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
