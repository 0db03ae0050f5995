package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/transitdelay-data/internal/common/config"
	"github.com/transitdelay-data/internal/common/db"
	"github.com/transitdelay-data/internal/common/logger"
	"github.com/transitdelay-data/internal/common/maintenance"
	"github.com/transitdelay-data/internal/common/notify"
	"github.com/transitdelay-data/internal/gtfsrt/fetcher"
	"github.com/transitdelay-data/internal/gtfsrt/persister"
	"github.com/transitdelay-data/internal/gtfsstatic/loader"
	"github.com/transitdelay-data/internal/gtfsstatic/scraper"
	"github.com/transitdelay-data/internal/jobs"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: transitloader <command> [flags]

Commands:
  static     load the static GTFS schedule into the database
  realtime   load the realtime feeds into the database

Run "transitloader <command> -h" for command flags.
`)
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(
		logger.ParseLevel(cfg.Logging.Level),
		logger.ConsoleWriter(),
		logger.FileWriter(cfg.Logging.FilePath),
	)

	switch os.Args[1] {
	case "static":
		os.Exit(runStatic(cfg, log, os.Args[2:]))
	case "realtime":
		os.Exit(runRealtime(cfg, log, os.Args[2:]))
	default:
		usage()
		os.Exit(2)
	}
}

func runStatic(cfg *config.Config, log logger.Logger, args []string) int {
	fs := flag.NewFlagSet("static", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "resolve the source directory but skip all database writes")
	sourceDir := fs.String("source-dir", cfg.Static.SourceDir, "directory with GTFS .txt files (used when not downloading)")
	noDownload := fs.Bool("no-download", false, "use the source directory instead of downloading the archive")
	fs.Parse(args)

	cfg.Static.SourceDir = *sourceDir
	if *noDownload {
		cfg.Static.DownloadURL = ""
	}

	job := &jobs.StaticJob{
		Config: cfg.Static,
		Logger: log,
		DryRun: *dryRun,
	}
	if cfg.Static.DownloadURL != "" {
		job.Fetcher = scraper.New(log)
	}

	if !*dryRun {
		database, err := db.New(cfg.Database.ConnectionString(), log)
		if err != nil {
			log.Error("Database connection failed", "error", err)
			return 1
		}
		defer database.Close()

		job.Loader = loader.New(loader.NewPostgresStorage(database, cfg.Static.BatchSize), log)
		if cfg.Static.RefreshViews {
			job.Views = maintenance.New(database, log)
		}
	}

	report, err := job.Run(context.Background())
	return finishRun(report, err, cfg, log)
}

func runRealtime(cfg *config.Config, log logger.Logger, args []string) int {
	fs := flag.NewFlagSet("realtime", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "fetch and decode feeds but skip all database writes")
	sourceDir := fs.String("source-dir", cfg.Realtime.SourceDir, "directory with feed snapshots (.pb files)")
	noFetch := fs.Bool("no-fetch", false, "read snapshots from disk instead of fetching over HTTP")
	fs.Parse(args)

	cfg.Realtime.SourceDir = *sourceDir
	if *noFetch {
		for i := range cfg.Realtime.Feeds {
			cfg.Realtime.Feeds[i].URL = ""
		}
	}

	job := &jobs.RealtimeJob{
		Config:  cfg.Realtime,
		Fetcher: fetcher.New(cfg.Realtime.APIKey, log),
		Logger:  log,
		DryRun:  *dryRun,
	}

	if !*dryRun {
		database, err := db.New(cfg.Database.ConnectionString(), log)
		if err != nil {
			log.Error("Database connection failed", "error", err)
			return 1
		}
		defer database.Close()

		job.Persister = persister.New(persister.NewPostgresStore(database), log)
		job.Views = maintenance.New(database, log)
	}

	report, err := job.Run(context.Background())
	return finishRun(report, err, cfg, log)
}

// finishRun logs the outcome, posts the run summary and maps the report
// onto the exit code.
func finishRun(report *jobs.Report, err error, cfg *config.Config, log logger.Logger) int {
	client := notify.NewClient(cfg.Notify.WebhookURL)

	if err != nil {
		log.Error("Job failed", "error", err)
		if nerr := client.SendRunSummary("transitloader", true, map[string]string{"error": err.Error()}); nerr != nil {
			log.Warn("Run summary notification failed", "error", nerr)
		}
		return 1
	}

	log.Info("Job finished",
		"job", report.Job,
		"failed_units", report.FailedUnits,
		"failed_items", report.FailedItems,
		"duration", report.Duration.String())

	if nerr := client.SendRunSummary(report.Job, !report.Clean(), report.Fields); nerr != nil {
		log.Warn("Run summary notification failed", "error", nerr)
	}
	return report.ExitCode()
}
