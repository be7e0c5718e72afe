package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/CareFlow/internal/api"
	"github.com/BTreeMap/CareFlow/internal/genai"
	"github.com/BTreeMap/CareFlow/internal/knowledge"
	"github.com/BTreeMap/CareFlow/internal/metrics"
	"github.com/BTreeMap/CareFlow/internal/nudge"
	"github.com/BTreeMap/CareFlow/internal/scheduler"
	"github.com/BTreeMap/CareFlow/internal/store"
	"github.com/BTreeMap/CareFlow/internal/util"
	"github.com/BTreeMap/CareFlow/internal/workflow"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CareFlow state data
	DefaultStateDir = "/var/lib/careflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "careflow.db"
	// DefaultAPIAddr is the default API listen address
	DefaultAPIAddr = ":8080"
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.Debug)

	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("CareFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CareFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	OpenAIKey     string
	APIAddr       string
	MetricsFile   string
	SweepCron     string
	SweepWorkers  int
	NudgeCooldown time.Duration
	Debug         bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	apiAddr       *string
	metricsFile   *string
	sweepCron     *string
	sweepWorkers  *int
	nudgeCooldown *time.Duration
}

// initializeLogger sets up structured logging; debug enables Debug-level output
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
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
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("CAREFLOW_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		MetricsFile:   os.Getenv("CAREFLOW_METRICS_FILE"),
		SweepCron:     os.Getenv("SWEEP_SCHEDULE"),
		SweepWorkers:  util.ParseIntEnv("SWEEP_WORKERS", nudge.DefaultWorkers),
		NudgeCooldown: util.ParseDurationEnv("NUDGE_COOLDOWN", nudge.DefaultCooldown),
		Debug:         util.ParseBoolEnv("CAREFLOW_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CAREFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}
	if config.SweepCron == "" {
		config.SweepCron = scheduler.DefaultSweepSchedule
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CAREFLOW_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"CAREFLOW_METRICS_FILE", config.MetricsFile,
		"SWEEP_SCHEDULE", config.SweepCron,
		"CAREFLOW_DEBUG", config.Debug)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for CareFlow data (overrides $CAREFLOW_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for the state store (overrides $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		metricsFile:   flag.String("metrics-file", config.MetricsFile, "path to the health metrics JSON file (overrides $CAREFLOW_METRICS_FILE)"),
		sweepCron:     flag.String("sweep-cron", config.SweepCron, "cron schedule for the nudge sweep (overrides $SWEEP_SCHEDULE)"),
		sweepWorkers:  flag.Int("sweep-workers", config.SweepWorkers, "nudge sweep worker pool size (overrides $SWEEP_WORKERS)"),
		nudgeCooldown: flag.Duration("nudge-cooldown", config.NudgeCooldown, "minimum interval between nudges per user and trigger (overrides $NUDGE_COOLDOWN)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"metricsFile", *flags.metricsFile,
		"sweepCron", *flags.sweepCron)

	// Track a changed state directory when the DSN was left at its default.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildStore selects the store backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildDataSource loads the health metrics file, or falls back to an empty
// static source so the assistant still answers without user data.
func buildDataSource(flags Flags) (*metrics.FileDataSource, error) {
	if *flags.metricsFile == "" {
		slog.Warn("No metrics file configured, health data queries will find no data")
		return metrics.NewStaticDataSource(nil, 0), nil
	}
	return metrics.NewFileDataSource(*flags.metricsFile, 0)
}

func run(flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	gen, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	retriever := knowledge.NewStaticRetriever(nil)

	dataSource, err := buildDataSource(flags)
	if err != nil {
		return err
	}

	engine := workflow.NewEngine(st, gen, retriever, dataSource, workflow.Config{})
	nudgeEngine := nudge.NewEngine(dataSource, st, engine,
		nudge.WithWorkers(*flags.sweepWorkers),
		nudge.WithCooldown(*flags.nudgeCooldown),
	)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(*flags.sweepCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), api.DefaultSweepTimeout)
		defer cancel()
		if _, err := nudgeEngine.Sweep(ctx); err != nil {
			slog.Error("scheduled nudge sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(engine, nudgeEngine, st, *flags.apiAddr)
	return server.Run(ctx)
}
