package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskhub/api/internal/app"
	"taskhub/api/internal/config"
	"taskhub/api/internal/dispatch"
	"taskhub/api/internal/email"
	"taskhub/api/internal/logging"
	"taskhub/api/internal/search"
	"taskhub/api/internal/session"
	"taskhub/api/internal/store"
	"taskhub/api/internal/workflow"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "taskhub-api",
		Short:         "Taskhub access control and change propagation API",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd.Context())
			},
		},
		newIssueTokenCmd(),
	)
	return root
}

func newIssueTokenCmd() *cobra.Command {
	var (
		userID string
		orgID  string
		name   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Start a session for an existing user and print its bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			sessions, err := session.NewRedisStore(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("redis connection failed: %w", err)
			}
			defer sessions.Close()
			if ttl <= 0 {
				ttl = cfg.SessionTTL
			}
			provider := session.NewProvider([]byte(cfg.JWTSecret), sessions, logger)
			token, err := provider.Issue(cmd.Context(), userID, orgID, name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&name, "name", "", "display name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "session lifetime (defaults to TASKHUB_SESSION_TTL)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func poolConfig(cfg config.Config) store.PoolConfig {
	return store.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}
}

func migrate(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, cfg.DatabaseURL, poolConfig(cfg))
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}

func serve(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, poolConfig(cfg))
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	repo := store.NewPostgresStore(db)

	workflows, err := workflow.Load(cfg.WorkflowTemplatesFile, logger)
	if err != nil {
		return err
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer sessions.Close()
	provider := session.NewProvider([]byte(cfg.JWTSecret), sessions, logger)

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		logger.Info("using meilisearch for task search", slog.String("url", cfg.MeiliURL))
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		engine = meili
	}
	searchService := search.NewService(engine, search.NewStoreSearcher(repo), logger)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Info("SMTP not configured, invitation links are returned to the inviter")
	}

	queue := dispatch.Start(dispatch.Config{
		Workers:     cfg.DispatchWorkers,
		QueueSize:   cfg.DispatchQueueSize,
		MaxAttempts: cfg.DispatchMaxAttempts,
	}, logger)

	service := app.New(app.Deps{
		Repo:          repo,
		Workflows:     workflows,
		Queue:         queue,
		Search:        searchService,
		Mailer:        mailer,
		Logger:        logger,
		InvitationTTL: cfg.InvitationTTL,
		AppBaseURL:    cfg.AppBaseURL,
	})

	httpServer := app.NewHTTPServer(service, provider, app.HTTPConfig{
		CORSOrigin: cfg.CORSOrigin,
		SessionTTL: cfg.SessionTTL,
		Readiness:  []app.ReadinessCheck{{Name: "sessions", Check: sessions.Ping}},
	}, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("taskhub API listening", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-sigCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	// drain notification writes and indexing before the database closes
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Warn("dispatch queue did not drain", slog.String("error", err.Error()))
	}
	return nil
}
