package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"chatpulse/internal/archive"
	"chatpulse/internal/bitable"
	"chatpulse/internal/config"
	"chatpulse/internal/feishu"
	"chatpulse/internal/listen"
	"chatpulse/internal/metrics"
	"chatpulse/internal/model"
	"chatpulse/internal/persist"
	"chatpulse/internal/ratelimit"
	"chatpulse/internal/report"
	"chatpulse/internal/score"
	"chatpulse/internal/service"
	"chatpulse/internal/topic"
)

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "init":
		cmdInit()
	case "run":
		cmdRun()
	case "report":
		cmdReport()
	case "status":
		cmdStatus()
	default:
		printHelp()
	}
}

func printHelp() {
	fmt.Println("Usage: chatpulse <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init     Create a config file at ./chatpulse.yaml")
	fmt.Println("  run      Listen for chat events and score activity")
	fmt.Println("  report   Send the weekly pin digest now")
	fmt.Println("  status   Show API connectivity and rate limit usage")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

func loadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	return cfg
}

func newClient(cfg config.Config) *feishu.HTTPClient {
	if cfg.Credentials.AppID == "" || cfg.Credentials.AppSecret == "" {
		fmt.Println("warning: missing FEISHU_APP_ID / FEISHU_APP_SECRET; API calls will fail")
	}
	window := ratelimit.New(cfg.RateLimit.MaxCalls, time.Duration(cfg.RateLimit.PeriodS)*time.Second)
	return feishu.NewHTTPClient(cfg.Credentials.AppID, cfg.Credentials.AppSecret, window)
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "./chatpulse.yaml", "path to write config")
	_ = fs.Parse(os.Args[2:])
	cfg := config.Default()
	if err := config.Save(*path, cfg); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	abs, _ := filepath.Abs(*path)
	fmt.Println("Config written to:", abs)
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./chatpulse.yaml", "config path")
	logLevel := fs.String("log-level", "info", "log level")
	noNotify := fs.Bool("no-pin-notify", false, "do not post cards for new pins")
	_ = fs.Parse(os.Args[2:])

	log := newLogger(*logLevel)
	cfg := loadConfig(*cfgPath)
	if cfg.Chat.ChatID == "" {
		log.Fatal().Msg("chat id not configured (chat.chatId or CHAT_ID)")
	}

	if cfg.Metrics.Addr != "" {
		metrics.StartServer(cfg.Metrics.Addr)
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics listening")
	}

	db, err := archive.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Storage.DBPath).Msg("archive open failed")
	}
	defer db.Close()

	client := newClient(cfg)
	store := bitable.NewStore(client, cfg.Bitable.AppToken, cfg.Bitable.TableID)
	rec := persist.NewReconciler(store, score.Weights(cfg.Scoring.Weights))
	batcher := persist.NewBatcher(rec, cfg.Batch.FlushThreshold, log)
	tracker := topic.NewTracker(topic.Thresholds{
		ActiveDays: cfg.Topics.ActiveDays,
		SilentDays: cfg.Topics.SilentDays,
	})
	svc := service.New(client, batcher, tracker, cfg.Chat.ChatID,
		cfg.Cache.EventSize, cfg.Cache.NameSize, log)

	svc.StartPinMonitor(db, time.Duration(cfg.Pins.IntervalS)*time.Second,
		cfg.Pins.DriveFolder, !*noNotify)

	sched := cron.New()
	if cfg.Report.Cron != "" {
		weekly := report.NewWeekly(client, db, cfg.Chat.ChatID, log)
		if _, err := weekly.Schedule(sched, cfg.Report.Cron); err != nil {
			log.Fatal().Err(err).Str("spec", cfg.Report.Cron).Msg("bad report cron spec")
		}
	}
	sched.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener := listen.NewListener(client.GetWSEndpoint, func(ev model.Event) {
		svc.ProcessEvent(ctx, ev)
	}, log)

	log.Info().Str("chat", cfg.Chat.ChatID).Msg("chatpulse running")
	err = listener.Run(ctx)
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("listener stopped")
	}

	log.Info().Msg("shutting down")
	<-sched.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	svc.Close(shutdownCtx)
	log.Info().Msg("bye")
}

func cmdReport() {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	cfgPath := fs.String("config", "./chatpulse.yaml", "config path")
	logLevel := fs.String("log-level", "info", "log level")
	_ = fs.Parse(os.Args[2:])

	log := newLogger(*logLevel)
	cfg := loadConfig(*cfgPath)
	db, err := archive.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("archive open failed")
	}
	defer db.Close()

	client := newClient(cfg)
	weekly := report.NewWeekly(client, db, cfg.Chat.ChatID, log)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := weekly.Send(ctx); err != nil {
		log.Fatal().Err(err).Msg("digest failed")
	}
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath := fs.String("config", "./chatpulse.yaml", "config path")
	_ = fs.Parse(os.Args[2:])

	cfg := loadConfig(*cfgPath)
	client := newClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pins, err := client.ListPins(ctx, cfg.Chat.ChatID)
	if err != nil {
		fmt.Println("api: unreachable:", err)
		os.Exit(1)
	}
	st := client.Window().Status()
	fmt.Println("api: ok")
	fmt.Printf("chat: %s (%d pins)\n", cfg.Chat.ChatID, len(pins))
	fmt.Printf("rate: %d/%d used, %d remaining in %s window\n",
		st.Used, st.Limit, st.Remaining, st.Period)
}
