package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/AudiusProject/apps-sub003/internal/cursor"
	"github.com/AudiusProject/apps-sub003/internal/digest"
	"github.com/AudiusProject/apps-sub003/internal/dispatch"
	"github.com/AudiusProject/apps-sub003/internal/filter"
	"github.com/AudiusProject/apps-sub003/internal/observability"
	"github.com/AudiusProject/apps-sub003/internal/pipeline"
	"github.com/AudiusProject/apps-sub003/internal/scheduler"
	"github.com/AudiusProject/apps-sub003/internal/server"
	"github.com/AudiusProject/apps-sub003/internal/source"
	"github.com/AudiusProject/apps-sub003/internal/store"
)

var logLevel string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Notification indexing and delivery pipeline",
	Long:  "Indexes notification-worthy events from the discovery feeds and the chat database, persists them durably, and hands them off to the push and email transports.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the indexing jobs and the ops HTTP server",
	RunE:  runServe,
}

var (
	bindAddr        string
	dataDir         string
	redisURL        string
	cursorPrefix    string
	discoveryURL    string
	chatDB          string
	identityDB      string
	pushWebhook     string
	emailWebhook    string
	chainDelay      = 3 * time.Second
	dmDelay         = 5 * time.Second
	emailDelay      = 10 * time.Minute
	jobLease        = 2 * time.Minute
	fetchTimeout    = time.Minute
	safetyDelay     = 5 * time.Second
	blastPageSize   = 1000
	digestFrequency = 24 * time.Hour
	shutdownTimeout = 5 * time.Second
	otelEnabled     bool
	otelEndpoint    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	serveCmd.Flags().StringVar(&bindAddr, "bind", ":8080", "Ops HTTP server bind address")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "data", "Directory for the notification SQLite database")
	serveCmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis URL for cursor storage; empty uses an in-process store (single node dev only)")
	serveCmd.Flags().StringVar(&cursorPrefix, "cursor-prefix", "notifier", "Key prefix for cursors in Redis")
	serveCmd.Flags().StringVar(&discoveryURL, "discovery-url", "", "Discovery node base URL for the chain and solana feeds")
	serveCmd.Flags().StringVar(&chatDB, "chat-db", "", "Path to the chat service database (read-only); empty disables the dm family")
	serveCmd.Flags().StringVar(&identityDB, "identity-db", "", "Path to the identity database for abuse flags and email candidates; empty disables both")
	serveCmd.Flags().StringVar(&pushWebhook, "push-webhook", "", "Webhook URL for push deliveries; empty logs instead of sending")
	serveCmd.Flags().StringVar(&emailWebhook, "email-webhook", "", "Webhook URL for email deliveries; empty logs instead of sending")
	serveCmd.Flags().DurationVar(&chainDelay, "chain-delay", chainDelay, "Pause between chain/solana cycles")
	serveCmd.Flags().DurationVar(&dmDelay, "dm-delay", dmDelay, "Pause between dm cycles")
	serveCmd.Flags().DurationVar(&emailDelay, "email-delay", emailDelay, "Pause between email job cycles")
	serveCmd.Flags().DurationVar(&jobLease, "job-lease", jobLease, "Job lock lease duration")
	serveCmd.Flags().DurationVar(&fetchTimeout, "fetch-timeout", fetchTimeout, "Timeout for one discovery feed fetch")
	serveCmd.Flags().DurationVar(&safetyDelay, "safety-delay", safetyDelay, "How far the dm window edge trails wall time")
	serveCmd.Flags().IntVar(&blastPageSize, "blast-page-size", blastPageSize, "Blast audience recipients per page")
	serveCmd.Flags().DurationVar(&digestFrequency, "digest-frequency", digestFrequency, "Email digest period")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful HTTP shutdown timeout")
	serveCmd.Flags().BoolVar(&otelEnabled, "otel-enabled", false, "Enable OpenTelemetry tracing")
	serveCmd.Flags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint (host:port) for traces; if empty uses stdout exporter")

	rootCmd.AddCommand(serveCmd)
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func runServe(cmd *cobra.Command, args []string) error {
	slog.Info("starting notifier",
		"bind", bindAddr,
		"data_dir", dataDir,
		"redis", redisURL != "",
		"discovery_url", discoveryURL,
		"chat_db", chatDB,
		"identity_db", identityDB,
		"safety_delay", safetyDelay,
		"blast_page_size", blastPageSize,
		"digest_frequency", digestFrequency,
		"otel_enabled", otelEnabled,
	)

	otelShutdown, err := observability.InitTracer(otelEnabled, "notifier", otelEndpoint)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("otel shutdown error", "error", err)
		}
	}()

	db, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	s := store.NewStore(db)

	cursors, err := buildCursorStore()
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(s, dispatch.BasicRenderer{}, map[string]dispatch.Transport{
		store.ChannelPush:  buildTransport(pushWebhook, store.ChannelPush),
		store.ChannelEmail: buildTransport(emailWebhook, store.ChannelEmail),
	})
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	var flags filter.FlagSource = filter.Memory{}
	var identity *sqlx.DB
	if identityDB != "" {
		identity, err = openReadDB(identityDB)
		if err != nil {
			return fmt.Errorf("open identity db: %w", err)
		}
		defer identity.Close()
		flags = filter.NewSQLFlagSource(identity)
	}

	sched := scheduler.New(s, scheduler.Config{Delay: chainDelay, Lease: jobLease})

	if discoveryURL != "" {
		feed := source.NewHTTPFeed(discoveryURL)
		chain := &pipeline.ChainIndexer{
			Feed: feed, Store: s, Cursors: cursors, Flags: flags,
			Dispatcher: dispatcher, FetchTimeout: fetchTimeout,
		}
		solana := &pipeline.SolanaIndexer{
			Feed: feed, Store: s, Cursors: cursors, Flags: flags,
			Dispatcher: dispatcher, FetchTimeout: fetchTimeout,
		}
		sched.Register(scheduler.Job{
			Family: "chain", Delay: chainDelay, Lease: jobLease,
			Run: func(ctx context.Context) error {
				_, err := chain.Cycle(ctx)
				return err
			},
		})
		sched.Register(scheduler.Job{
			Family: "solana", Delay: chainDelay, Lease: jobLease,
			Run: func(ctx context.Context) error {
				_, err := solana.Cycle(ctx)
				return err
			},
		})
	}

	if chatDB != "" {
		chatHandle, err := openReadDB(chatDB)
		if err != nil {
			return fmt.Errorf("open chat db: %w", err)
		}
		defer chatHandle.Close()
		dm := &pipeline.DMIndexer{
			Chat: source.NewChatStore(chatHandle), Store: s, Cursors: cursors,
			Flags: flags, Dispatcher: dispatcher,
			SafetyDelay: safetyDelay, PageSize: blastPageSize,
		}
		sched.Register(scheduler.Job{
			Family: "dm", Delay: dmDelay, Lease: jobLease,
			Run: func(ctx context.Context) error {
				_, err := dm.Cycle(ctx)
				return err
			},
		})
	}

	dg := &digest.Digest{
		Store: s, Cursors: cursors, Dispatcher: dispatcher,
		Frequency: digestFrequency,
	}
	sched.Register(scheduler.Job{
		Family: "digest", Delay: emailDelay, Lease: jobLease,
		Run: dg.Cycle,
	})

	if identity != nil {
		prompt := &digest.DownloadPrompt{
			Store: s, Identity: digest.NewSQLIdentitySource(identity),
			Dispatcher: dispatcher,
		}
		sched.Register(scheduler.Job{
			Family: "download_email", Delay: emailDelay, Lease: jobLease,
			Run: prompt.Cycle,
		})
	}

	schedCtx, schedCancel := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		sched.Run(schedCtx)
		close(schedDone)
	}()

	srv := server.New(s, cursors, bindAddr)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("notifier ready", "bind", bindAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig)

	schedCancel()
	<-schedDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}

	slog.Info("notifier stopped")
	return nil
}

func buildCursorStore() (cursor.Store, error) {
	if redisURL == "" {
		slog.Warn("no redis configured, cursors are in-process and lost on restart")
		return cursor.NewMemory(), nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return cursor.NewRedis(client, cursorPrefix), nil
}

func buildTransport(webhook, channel string) dispatch.Transport {
	if webhook == "" {
		return &dispatch.LogTransport{Channel: channel}
	}
	return dispatch.NewHTTPTransport(webhook)
}

func openReadDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
