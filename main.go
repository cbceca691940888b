// Command meowbot is the main entrypoint for the Discord bot and its background workers.
// It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres for the chat counters and runs idempotent migrations.
//   - Starts the Twitch stream poller (live alerts) and the reminder sweeper.
//   - Connects the Discord bot for slash commands, counters and welcomes.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics and the admin API.
//
// Shutdown is graceful on SIGINT/SIGTERM: the workers stop as a unit.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/meowbot/bot"
	"github.com/onnwee/meowbot/config"
	"github.com/onnwee/meowbot/db"
	"github.com/onnwee/meowbot/notify"
	"github.com/onnwee/meowbot/reminders"
	"github.com/onnwee/meowbot/server"
	"github.com/onnwee/meowbot/streams"
	"github.com/onnwee/meowbot/telemetry"
	"github.com/onnwee/meowbot/timeparse"
	"github.com/onnwee/meowbot/twitchapi"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("meowbot", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startPprof()

	if err := run(ctx, cfg); err != nil {
		slog.Error("meowbot exited with error", slog.Any("err", err))
		stop()
		shutdown()
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func run(ctx context.Context, cfg *config.Config) error {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var session *discordgo.Session
	if err := cfg.ValidateDiscordReady(); err == nil {
		s, err := discordgo.New("Bot " + cfg.DiscordToken)
		if err != nil {
			return err
		}
		s.Client = httpClient
		session = s
	} else {
		slog.Warn("discord bot disabled", slog.Any("err", err))
	}

	var sink notify.Sink
	if cfg.DryRun || session == nil {
		slog.Info("messages will be logged instead of sent", slog.Bool("dry_run", cfg.DryRun))
		sink = notify.NewLogSink(slog.Default())
	} else {
		sink = notify.NewDiscordSink(session)
	}

	// Counters: Postgres when configured, otherwise in-memory for the life of the process.
	var (
		counters db.Counters
		database *sql.DB
	)
	if cfg.DBDsn != "" {
		conn, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			return err
		}
		defer func() {
			if err := conn.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(conn); err != nil {
			return err
		}
		database = conn
		counters = &db.PGCounters{DB: conn}
	} else {
		slog.Warn("DB_DSN not set, counters are kept in memory and lost on restart")
		counters = db.NewMemoryCounters()
	}

	sched := reminders.New(timeparse.New(), sink, reminders.Config{
		SweepInterval: cfg.SweepInterval,
		CallTimeout:   cfg.HTTPTimeout,
		MaxPerOwner:   cfg.MaxRemindersPerUser,
	})

	botDeps := bot.Deps{Reminders: sched, Counters: counters}
	srvDeps := server.Deps{
		Reminders:  sched,
		Counters:   counters,
		DB:         database,
		Config:     cfg,
		AdminToken: cfg.AdminToken,
		Version:    version,
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := cfg.ValidateTwitchReady(); err == nil {
		tokens := &twitchapi.TokenSource{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			TokenURL:     cfg.TwitchTokenURL,
			HTTPClient:   httpClient,
		}
		helix := &twitchapi.HelixClient{
			AppTokenSource: tokens,
			ClientID:       cfg.TwitchClientID,
			BaseURL:        cfg.HelixBaseURL,
			HTTPClient:     httpClient,
		}
		poller := streams.New(helix, tokens, sink, streams.Config{
			Interval:         cfg.PollInterval,
			CallTimeout:      cfg.HTTPTimeout,
			AlertDestination: notify.ToChannel(cfg.AlertChannelID),
		})
		poller.Seed(cfg.StreamerNames...)
		slog.Info("stream watcher enabled", slog.Any("streamers", poller.List()), slog.Duration("interval", cfg.PollInterval))

		botDeps.Watch = poller
		srvDeps.Watch = poller
		srvDeps.Token = tokens
		g.Go(func() error { return poller.Run(gctx) })
	} else {
		slog.Warn("stream watcher disabled", slog.Any("err", err))
	}

	g.Go(func() error { return sched.Run(gctx) })

	if session != nil {
		b := bot.New(session, botDeps, bot.Config{
			AppID:            cfg.DiscordAppID,
			GuildID:          cfg.DiscordGuildID,
			PatrollerRoleID:  cfg.PatrollerRoleID,
			WelcomeChannelID: cfg.WelcomeChannelID,
			CommandTimeout:   3 * cfg.HTTPTimeout,
			WelcomeDelay:     2 * time.Second,
		})
		g.Go(func() error { return b.Run(gctx) })
	}

	g.Go(func() error { return server.Start(gctx, srvDeps, cfg.HTTPAddr) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
