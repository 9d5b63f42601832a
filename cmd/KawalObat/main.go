package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/SehatKit/KawalObat/internal/conversation"
	"github.com/SehatKit/KawalObat/internal/followup"
	"github.com/SehatKit/KawalObat/internal/genai"
	"github.com/SehatKit/KawalObat/internal/linker"
	"github.com/SehatKit/KawalObat/internal/lockfile"
	"github.com/SehatKit/KawalObat/internal/messaging"
	"github.com/SehatKit/KawalObat/internal/scheduler"
	"github.com/SehatKit/KawalObat/internal/store"
	"github.com/SehatKit/KawalObat/internal/twiliowhatsapp"
	"github.com/SehatKit/KawalObat/internal/util"
	"github.com/SehatKit/KawalObat/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for KawalObat state data
	DefaultStateDir = "/var/lib/kawalobat"
	// DefaultWhatsmeowDBFileName is the default SQLite database filename for whatsmeow
	DefaultWhatsmeowDBFileName = "whatsmeow.db"
	// DefaultRedisAddr is the default Redis address for the followup store
	DefaultRedisAddr = "localhost:6379"
)

// Config holds environment configuration
type Config struct {
	StateDir    string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	Backend     string
	WhatsAppDSN string
	OpenAIKey   string
	ProcessCron string
	SweepCron   string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	redisAddr   *string
	backend     *string
	dbDSN       *string
	qrOutput    *string
	numeric     *bool
	processCron *string
	sweepCron   *string
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	// One KawalObat instance per state directory.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	if err := run(config, flags); err != nil {
		slog.Error("KawalObat failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("KawalObat exited successfully")
}

// initializeLogger sets up structured logging, level configurable via
// KAWALOBAT_LOG_LEVEL (debug, info, warn, error).
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("KAWALOBAT_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:    os.Getenv("KAWALOBAT_STATE_DIR"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		RedisPass:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:     util.ParseIntEnv("REDIS_DB", 0),
		Backend:     os.Getenv("KAWALOBAT_BACKEND"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		ProcessCron: os.Getenv("KAWALOBAT_PROCESS_CRON"),
		SweepCron:   os.Getenv("KAWALOBAT_SWEEP_CRON"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No KAWALOBAT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.RedisAddr == "" {
		config.RedisAddr = DefaultRedisAddr
		slog.Debug("No REDIS_ADDR set, using default", "default_redis_addr", config.RedisAddr)
	}
	if config.Backend == "" {
		config.Backend = "whatsapp"
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsmeowDBFileName)
		slog.Debug("No WHATSAPP_DB_DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"KAWALOBAT_STATE_DIR", config.StateDir,
		"REDIS_ADDR", config.RedisAddr,
		"REDIS_DB", config.RedisDB,
		"KAWALOBAT_BACKEND", config.Backend,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"KAWALOBAT_PROCESS_CRON", config.ProcessCron,
		"KAWALOBAT_SWEEP_CRON", config.SweepCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for KawalObat data (overrides $KAWALOBAT_STATE_DIR)"),
		redisAddr:   flag.String("redis-addr", config.RedisAddr, "Redis address for the followup store (overrides $REDIS_ADDR)"),
		backend:     flag.String("backend", config.Backend, "messaging backend: whatsapp, twilio, or mock (overrides $KAWALOBAT_BACKEND)"),
		dbDSN:       flag.String("db-dsn", config.WhatsAppDSN, "database DSN for the whatsmeow session store (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:    flag.String("qr-output", "", "path to write login QR code"),
		numeric:     flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		processCron: flag.String("process-cron", config.ProcessCron, "cron expression for the followup dispatch cycle (overrides $KAWALOBAT_PROCESS_CRON)"),
		sweepCron:   flag.String("sweep-cron", config.SweepCron, "cron expression for the conversation expiry sweep (overrides $KAWALOBAT_SWEEP_CRON)"),
	}
	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"redisAddr", *flags.redisAddr,
		"backend", *flags.backend,
		"dbDSN_set", *flags.dbDSN != "",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"processCron", *flags.processCron,
		"sweepCron", *flags.sweepCron)

	return flags
}

// buildMessagingService constructs the messaging backend selected by flags.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch *flags.backend {
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	case "mock":
		slog.Warn("Using mock messaging backend, no messages will be delivered")
		return messaging.NewWhatsAppService(whatsapp.NewMockClient()), nil
	default:
		var waOpts []whatsapp.Option
		if *flags.dbDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	}
}

// run wires the modules together and blocks until shutdown.
func run(config Config, flags Flags) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewRedisStore(
		store.WithAddr(*flags.redisAddr),
		store.WithPassword(config.RedisPass),
		store.WithDB(config.RedisDB),
	)
	if err != nil {
		return err
	}
	defer st.Close()

	msgService, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	// GenAI inquiry answers are optional. Without an API key the linker
	// falls back to static acknowledgments.
	var answerer linker.InquiryAnswerer
	if genaiClient, err := genai.NewClient(); err != nil {
		slog.Warn("GenAI disabled, using static inquiry acknowledgments", "reason", err)
	} else {
		answerer = genaiClient
	}

	conv := conversation.NewStateMachine(st)
	engine := followup.NewEngine(st, msgService, conv)
	lnk := linker.NewLinker(st, msgService, engine, conv, answerer)

	handler := messaging.NewResponseHandler(msgService, lnk, nil)
	handler.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	driver := scheduler.NewDriver(engine, conv)
	if err := driver.Register(sched, *flags.processCron, *flags.sweepCron); err != nil {
		return err
	}

	slog.Info("KawalObat started",
		"backend", *flags.backend,
		"redis_addr", *flags.redisAddr,
		"state_dir", *flags.stateDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("KawalObat shutting down", "signal", sig.String())

	cancel()
	return nil
}
