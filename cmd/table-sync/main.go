package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/withObsrvr/obsrvr-table-sync/internal/alert"
	"github.com/withObsrvr/obsrvr-table-sync/internal/archive"
	"github.com/withObsrvr/obsrvr-table-sync/internal/catalog"
	"github.com/withObsrvr/obsrvr-table-sync/internal/config"
	"github.com/withObsrvr/obsrvr-table-sync/internal/logging"
	"github.com/withObsrvr/obsrvr-table-sync/internal/metrics"
	"github.com/withObsrvr/obsrvr-table-sync/internal/registry"
	"github.com/withObsrvr/obsrvr-table-sync/internal/source"
	"github.com/withObsrvr/obsrvr-table-sync/internal/tablesync"
	"github.com/withObsrvr/obsrvr-table-sync/internal/warehouse"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	listTables := flag.Bool("tables", false, "print the table registry and exit")
	dryRun := flag.Bool("dry-run", false, "probe and diff without loading")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
	log := logging.Component("main")

	reg, err := cfg.Registry()
	if err != nil {
		log.Error("failed to load table registry", "error", err)
		return 1
	}
	if *listTables {
		printTables(reg)
		return 0
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		return 1
	}

	log.Info("table-sync starting", "version", Version, "git_sha", GitSHA, "env", cfg.Env, "tables", reg.Len())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := logging.NewRunID()
	ctx = logging.WithRunID(ctx, runID)

	runner := &tablesync.Runner{
		Tables: reg.Tables(),
		OpenDestination: func(ctx context.Context) (tablesync.DestinationSession, error) {
			w, err := warehouse.Open(ctx, warehouse.Config{
				Driver:          cfg.Dest.Driver,
				DSN:             cfg.Dest.DSN,
				MotherDuckToken: cfg.Dest.MotherDuckToken,
			})
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		OpenSource: func(ctx context.Context) (tablesync.SourceSession, error) {
			s, err := source.Open(ctx, source.Config{
				Driver:   cfg.Source.Driver,
				Host:     cfg.Source.Host,
				Port:     cfg.Source.Port,
				User:     cfg.Source.User,
				Password: cfg.Source.Password,
				Database: cfg.Source.Database,
			})
			if err != nil {
				return nil, err
			}
			return source.NewExtractor(s), nil
		},
		Options: tablesync.Options{
			ReadRetries:  cfg.Sync.ReadRetries,
			RetryBackoff: time.Second,
			VerifyCounts: cfg.Sync.VerifyCounts,
			DryRun:       *dryRun,
		},
	}

	runner.Reporters = append(runner.Reporters, metrics.New(metrics.Config{
		PushURL: cfg.Metrics.PushURL,
		Job:     cfg.Metrics.Job,
	}))

	if cfg.Catalog.DSN != "" {
		cat, err := catalog.New(ctx, catalog.Config{DSN: cfg.Catalog.DSN})
		if err != nil {
			log.Warn("run catalog unavailable", "error", err)
		} else {
			defer cat.Close()
			runner.Reporters = append(runner.Reporters, cat)
		}
	}

	if cfg.Archive.URL != "" && !*dryRun {
		arc, err := archive.Open(ctx, archive.Config{
			URL:                 cfg.Archive.URL,
			Prefix:              cfg.Archive.Prefix,
			ManifestCompression: cfg.Archive.ManifestCompression,
		})
		if err != nil {
			log.Warn("archive unavailable", "error", err)
		} else {
			defer arc.Close()
			runner.Observers = append(runner.Observers, arc)
			runner.Reporters = append(runner.Reporters, arc)
		}
	}

	runner.Reporters = append(runner.Reporters, alert.Reporter{
		Dispatcher: alert.New(alert.Config{
			WebhookURL: cfg.Alert.WebhookURL,
			BackupDir:  cfg.Alert.BackupDir,
		}),
	})

	summary, err := runner.Run(ctx)
	if err != nil {
		return 1
	}

	slog.Info("table-sync finished",
		"run_id", summary.RunID,
		"failed_tables", len(summary.Failed()),
		"rows_loaded", summary.RowsLoaded(),
	)
	return 0
}

func printTables(reg *registry.Registry) {
	for _, t := range reg.Tables() {
		identity := t.IdentityColumn
		if identity == "" {
			identity = "-"
		}
		fmt.Printf("%s\t%s\n", t.Name, identity)
	}
}
