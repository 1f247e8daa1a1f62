// Command breadbot is the Discord bot that keeps a server's project channels
// in order. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs the versioned migrations.
//   - Opens the Discord gateway session and registers the prefix commands.
//   - Starts the hourly maintenance job (archive, delete, sort, cleanup).
//   - Exposes /healthz, /readyz, /status, /metrics and the admin endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"

	"github.com/proglangs/breadbot/bot"
	"github.com/proglangs/breadbot/config"
	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/discord"
	"github.com/proglangs/breadbot/maintenance"
	"github.com/proglangs/breadbot/server"
	"github.com/proglangs/breadbot/sorting"
	"github.com/proglangs/breadbot/steamspy"
	"github.com/proglangs/breadbot/telemetry"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsDirectMessageReactions |
	discordgo.IntentsMessageContent

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func main() {
	// local dev convenience only
	_ = godotenv.Load()
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateBotReady(); err != nil {
		slog.Error("bot not configured", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("breadbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Open(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded schema", slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}
	store := db.NewStore(database)

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		slog.Error("failed to create discord session", slog.Any("err", err))
		os.Exit(1)
	}
	session.Identify.Intents = intents
	client := discord.NewSession(session)

	games := &steamspy.Client{URL: cfg.SteamSpyURL}
	locks := sorting.NewLocks()
	b := bot.New(cfg, client, store, locks, games)
	b.Register(ctx, session)

	if err := session.Open(); err != nil {
		slog.Error("failed to open gateway session", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Error("failed to close gateway session", slog.Any("err", err))
		}
	}()

	job := &maintenance.Job{
		Client:      client,
		Store:       store,
		Sorter:      b.Sorter(),
		Lifecycle:   b.Lifecycle(),
		Locks:       locks,
		Games:       games,
		Interval:    cfg.MaintenanceInterval,
		Concurrency: cfg.MaintenanceConcurrency,
	}
	go job.Start(ctx)

	deps := server.Deps{
		Store:       store,
		Sorter:      b.Sorter(),
		Locks:       locks,
		Maintenance: job,
		Gateway:     b.Connected,
		Options: server.Options{
			AdminUsername:      cfg.AdminUsername,
			AdminPassword:      cfg.AdminPassword,
			AdminToken:         cfg.AdminToken,
			RateLimitEnabled:   cfg.RateLimitEnabled,
			RateLimitRequests:  cfg.RateLimitRequests,
			RateLimitWindow:    cfg.RateLimitWindow,
			CORSPermissive:     cfg.CORSPermissive,
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		},
	}
	go func() {
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}
