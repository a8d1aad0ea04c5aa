package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/basekick-labs/monitorframe/internal/config"
	"github.com/basekick-labs/monitorframe/internal/database"
	"github.com/basekick-labs/monitorframe/internal/logger"
	"github.com/basekick-labs/monitorframe/internal/metrics"
	"github.com/basekick-labs/monitorframe/internal/monitor"
	"github.com/basekick-labs/monitorframe/internal/monitoring"
	"github.com/basekick-labs/monitorframe/internal/notify"
	"github.com/basekick-labs/monitorframe/internal/results"
	"github.com/basekick-labs/monitorframe/internal/scheduler"
	"github.com/basekick-labs/monitorframe/internal/shutdown"
	"github.com/basekick-labs/monitorframe/internal/storage"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

const usage = `Usage: monitorframe [--config path] <command> [options]

Commands:
  run [--cached] [--skip-new-data] [--output path] [monitor ...]
                 run monitors once (all when none are named)
  ingest [--cached] [model ...]
                 store newly found acquisitions (all models when none are named)
  schedule [--now]
                 run every monitor on the configured cron schedule until interrupted
  list           list monitors and data models
  version        print the version
`

func main() {
	fs := flag.NewFlagSet("monitorframe", flag.ExitOnError)
	configPath := fs.String("config", "", "settings file (default $"+config.EnvConfigPath+" or monitorframe.yaml)")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to parse flags: %v\n", err)
		os.Exit(2)
	}

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "version":
		fmt.Println(Version)
		return
	case "list":
		listCommand()
		return
	case "run", "ingest", "schedule":
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n\n", cmd)
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	metrics.Init(log.Logger)
	log.Info().
		Str("version", Version).
		Str("command", cmd).
		Str("config", cfg.File).
		Msg("Starting monitorframe")

	coordinator := shutdown.New(30*time.Second, logger.Get("shutdown"))
	env, err := newEnv(cfg, coordinator)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		_ = coordinator.Shutdown()
		os.Exit(1)
	}

	switch cmd {
	case "run":
		err = runCommand(rest, env)
	case "ingest":
		err = ingestCommand(rest, env)
	case "schedule":
		err = scheduleCommand(rest, cfg, env, coordinator)
	}

	if serr := coordinator.Shutdown(); serr != nil {
		log.Error().Err(serr).Msg("Shutdown completed with errors")
	}
	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("Command failed")
		os.Exit(1)
	}
}

func listCommand() {
	fmt.Println("Monitors:")
	for _, name := range monitoring.Monitors() {
		fmt.Println("  " + name)
	}
	fmt.Println("Data models:")
	for _, name := range monitoring.Models() {
		fmt.Println("  " + name)
	}
}

// newEnv opens the stores, report backend and mailer and registers them for shutdown
func newEnv(cfg *config.Config, coordinator *shutdown.Coordinator) (monitoring.Env, error) {
	data, err := database.New(database.Config{
		Driver: cfg.Data.Driver,
		Path:   cfg.Data.Path,
		Flags:  cfg.Data.Flags,
	}, logger.Get("data-store"))
	if err != nil {
		return monitoring.Env{}, fmt.Errorf("failed to open data store: %w", err)
	}
	coordinator.Register("data-store", data, shutdown.PriorityDatabase)
	if !data.Enabled() {
		log.Warn().Msg("Data store path not set, acquisitions will not be persisted")
	}

	resultsDB, err := database.New(database.Config{
		Driver: cfg.Results.Driver,
		Path:   cfg.Results.Path,
		Flags:  cfg.Results.Flags,
	}, logger.Get("results-store"))
	if err != nil {
		return monitoring.Env{}, fmt.Errorf("failed to open results store: %w", err)
	}
	coordinator.Register("results-store", resultsDB, shutdown.PriorityDatabase)

	reports, err := storage.New(storage.Config{
		Backend:   cfg.Output.Backend,
		LocalPath: cfg.Output.LocalPath,
		S3: storage.S3Config{
			Bucket:             cfg.Output.S3Bucket,
			Prefix:             cfg.Output.S3Prefix,
			Region:             cfg.Output.S3Region,
			Endpoint:           cfg.Output.S3Endpoint,
			AccessKey:          cfg.Output.S3AccessKey,
			SecretKey:          cfg.Output.S3SecretKey,
			UseSSL:             cfg.Output.S3UseSSL,
			PathStyle:          cfg.Output.S3PathStyle,
			MultipartThreshold: cfg.Output.S3MultipartMinSize,
		},
	}, logger.Get("storage"))
	if err != nil {
		return monitoring.Env{}, fmt.Errorf("failed to initialize report storage: %w", err)
	}
	coordinator.Register("storage", reports, shutdown.PriorityStorage)
	log.Info().
		Str("backend", reports.Type()).
		Str("location", reports.Location("")).
		Msg("Report storage initialized")

	mailer := notify.NewMailer(notify.MailerConfig{
		Host:         cfg.Notifications.SMTPHost,
		Port:         cfg.Notifications.SMTPPort,
		SenderDomain: cfg.Notifications.SenderDomain,
		Timeout:      time.Duration(cfg.Notifications.TimeoutSecs) * time.Second,
		MaxFailures:  cfg.Notifications.MaxFailures,
		Cooldown:     time.Duration(cfg.Notifications.CooldownSecs) * time.Second,
	}, logger.Get("mailer"))

	source := monitoring.Source{
		Dir:     cfg.Monitoring.SourceDir,
		Workers: cfg.Monitoring.Workers,
		Logger:  logger.Get("monitoring"),
	}
	if cfg.Monitoring.CachePath != "" {
		cache, err := storage.NewLocalBackend(cfg.Monitoring.CachePath, logger.Get("cache"))
		if err != nil {
			return monitoring.Env{}, fmt.Errorf("failed to open discovery cache: %w", err)
		}
		coordinator.Register("cache", cache, shutdown.PriorityStorage)
		source.Cache = cache
	}

	notifications := cfg.Notifications
	return monitoring.Env{
		Data:    data,
		Results: results.New(resultsDB, logger.Get("results")),
		Reports: reports,
		Mailer:  mailer,
		Notifications: func(name string) (*monitor.NotificationSettings, error) {
			if !notifications.Active {
				return nil, nil
			}
			recipients, err := notifications.RecipientsFor(name)
			if err != nil {
				return nil, err
			}
			return &monitor.NotificationSettings{
				Active:     len(recipients) > 0,
				Username:   notifications.Username,
				Recipients: recipients,
			}, nil
		},
		Source: source,
		Logger: log.Logger,
	}, nil
}

func runCommand(args []string, env monitoring.Env) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cached := fs.Bool("cached", false, "read acquisitions from the discovery cache instead of scanning")
	skipNew := fs.Bool("skip-new-data", false, "use only stored acquisitions")
	output := fs.String("output", "", "report file or directory (default: the output backend)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	names, err := selected(fs.Args(), monitoring.Monitors())
	if err != nil {
		return err
	}
	env.Source.UseCache = *cached
	env.SkipNewData = *skipNew
	env.Output = *output

	ctx := context.Background()
	var errs []error
	for _, name := range names {
		if err := monitoring.Run(ctx, name, env); err != nil {
			errs = append(errs, fmt.Errorf("monitor %s: %w", name, err))
		}
	}
	metrics.Get().LogSummary()
	return errors.Join(errs...)
}

func ingestCommand(args []string, env monitoring.Env) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cached := fs.Bool("cached", false, "read acquisitions from the discovery cache instead of scanning")
	if err := fs.Parse(args); err != nil {
		return err
	}

	names, err := selected(fs.Args(), monitoring.Models())
	if err != nil {
		return err
	}
	if !env.Data.Enabled() {
		return fmt.Errorf("data.db_settings.path must be set to ingest")
	}
	env.Source.UseCache = *cached

	ctx := context.Background()
	for _, name := range names {
		env.Logger = logger.ForModel("ingest", name)
		n, err := monitoring.Ingest(ctx, name, env)
		if err != nil {
			return fmt.Errorf("model %s: %w", name, err)
		}
		log.Info().Str("model", name).Int("rows", n).Msg("Ingest complete")
	}
	return nil
}

func scheduleCommand(args []string, cfg *config.Config, env monitoring.Env, coordinator *shutdown.Coordinator) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	now := fs.Bool("now", false, "run every monitor once before waiting for the schedule")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !cfg.Scheduler.Enabled {
		log.Warn().Msg("scheduler.enabled is false, running anyway because schedule was requested")
	}

	sched, err := scheduler.NewMonitorScheduler(&scheduler.MonitorSchedulerConfig{
		Monitors: monitoring.Monitors(),
		Run: func(ctx context.Context, name string) error {
			return monitoring.Run(ctx, name, env)
		},
		Schedule: cfg.Scheduler.Schedule,
		Logger:   logger.Get("scheduler"),
	})
	if err != nil {
		return fmt.Errorf("failed to create monitor scheduler: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start monitor scheduler: %w", err)
	}
	coordinator.RegisterHook("monitor-scheduler", sched.Shutdown, shutdown.PriorityScheduler)
	coordinator.RegisterHook("metrics-summary", func(context.Context) error {
		metrics.Get().LogSummary()
		return nil
	}, shutdown.PriorityMetrics)

	if *now {
		ctx, cancel := context.WithCancel(context.Background())
		coordinator.RegisterHook("manual-run", func(context.Context) error {
			cancel()
			return nil
		}, shutdown.PriorityMonitors)
		go func() {
			defer cancel()
			if err := sched.TriggerNow(ctx); err != nil {
				log.Error().Err(err).Msg("Initial monitor cycle failed")
			}
		}()
	}

	sig := coordinator.WaitForSignal(context.Background())
	log.Info().Str("signal", sig.String()).Interface("status", sched.Status()).Msg("Stopping monitor scheduler")
	return nil
}

// selected validates requested names against known, returning known when none are requested
func selected(requested, known []string) ([]string, error) {
	if len(requested) == 0 {
		return known, nil
	}
	valid := make(map[string]bool, len(known))
	for _, k := range known {
		valid[k] = true
	}
	for _, r := range requested {
		if !valid[r] {
			return nil, fmt.Errorf("unknown name %q (valid: %s)", r, strings.Join(known, ", "))
		}
	}
	return requested, nil
}
