package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"
	"github.com/protomem/attendance-tracker/internal/database"
	"github.com/protomem/attendance-tracker/internal/directory"
	"github.com/protomem/attendance-tracker/internal/env"
	"github.com/protomem/attendance-tracker/internal/presence"
	"github.com/protomem/attendance-tracker/internal/scanner"
	"github.com/protomem/attendance-tracker/internal/scheduler"
	"github.com/protomem/attendance-tracker/internal/version"
)

var (
	_cfgFile     = flag.String("cfg", "", "path to config file")
	_showVersion = flag.Bool("version", false, "display version and exit")
)

func main() {
	flag.Parse()

	if *_showVersion {
		fmt.Printf("version: %s\n", version.Get())
		return
	}

	if *_cfgFile != "" {
		if err := env.Load(*_cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}

	logger := newLogger(env.GetString("LOG_LEVEL", "info"), env.GetString("LOG_FILE", ""))

	err := run(logger)
	if err != nil {
		trace := string(debug.Stack())
		logger.Error(err.Error(), "trace", trace)
		os.Exit(1)
	}
}

type config struct {
	httpHost string
	httpPort int
	db       struct {
		driver      string
		dsn         string
		automigrate bool
	}
	scanner struct {
		backend      string
		nmapPath     string
		arpTablePath string
	}
	scheduler scheduler.Config
}

type application struct {
	config config
	logger *slog.Logger

	db        *database.DB
	directory *directory.Directory
	tracker   *presence.Tracker
	scheduler *scheduler.Scheduler

	wg sync.WaitGroup
}

func run(logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.New(logger, cfg.db.driver, cfg.db.dsn, cfg.db.automigrate)
	if err != nil {
		return err
	}
	defer db.Close()

	app, err := newApplication(context.Background(), logger, cfg, db)
	if err != nil {
		return err
	}

	return app.serve()
}

func loadConfig() (config, error) {
	var cfg config

	cfg.httpHost = env.GetString("HTTP_HOST", "localhost")
	cfg.httpPort = env.GetInt("HTTP_PORT", 8080)

	cfg.db.driver = env.GetString("DB_DRIVER", database.DriverSQLite)
	cfg.db.dsn = env.GetString("DB_DSN", "users.db")
	cfg.db.automigrate = env.GetBool("DB_AUTOMIGRATE", true)

	cfg.scanner.backend = env.GetString("SCANNER", "nmap")
	cfg.scanner.nmapPath = env.GetString("NMAP_PATH", scanner.DefaultNmapPath)
	cfg.scanner.arpTablePath = env.GetString("ARP_TABLE_PATH", scanner.DefaultARPTablePath)

	sc := scheduler.DefaultConfig()
	sc.ScanInterval = env.GetDuration("SCAN_INTERVAL", sc.ScanInterval)
	sc.ScanTimeout = env.GetDuration("SCAN_TIMEOUT", sc.ScanTimeout)
	sc.DebounceWindow = env.GetDuration("DEBOUNCE_WINDOW", 12*sc.ScanInterval)
	sc.Ranges = env.GetStrings("SCAN_RANGES", []string{"192.168.4.*"})
	sc.ForceLogoutHour = env.GetInt("FORCE_LOGOUT_HOUR", sc.ForceLogoutHour)

	if hours := env.GetString("ACTIVE_HOURS", ""); hours != "" {
		activeHours, err := scheduler.ParseHourRange(hours)
		if err != nil {
			return config{}, err
		}
		sc.ActiveHours = activeHours
	}

	if err := sc.Validate(); err != nil {
		return config{}, err
	}
	cfg.scheduler = sc

	return cfg, nil
}

// newApplication loads the directory and the open sessions, then builds the
// scheduler. It does not start anything.
func newApplication(ctx context.Context, logger *slog.Logger, cfg config, db *database.DB) (*application, error) {
	dir := directory.New(logger, database.NewUserDAO(logger, db))
	if err := dir.Load(ctx); err != nil {
		return nil, err
	}

	tracker := presence.New(logger, dir, database.NewSessionDAO(logger, db), cfg.scheduler.DebounceWindow)
	if err := tracker.Restore(ctx); err != nil {
		return nil, err
	}

	sc, err := newScanner(logger, cfg)
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(logger, cfg.scheduler, sc, tracker)
	if err != nil {
		return nil, err
	}

	return &application{
		config:    cfg,
		logger:    logger,
		db:        db,
		directory: dir,
		tracker:   tracker,
		scheduler: sched,
	}, nil
}

func newScanner(logger *slog.Logger, cfg config) (scanner.Scanner, error) {
	switch cfg.scanner.backend {
	case "nmap":
		return scanner.NewNmap(logger, cfg.scanner.nmapPath), nil
	case "arp":
		return scanner.NewARPTable(logger, cfg.scanner.arpTablePath), nil
	default:
		return nil, fmt.Errorf("unknown scanner %q", cfg.scanner.backend)
	}
}

func newLogger(level, file string) *slog.Logger {
	var w io.Writer = os.Stdout
	if file != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
		})
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
