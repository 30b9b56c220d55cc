// Package main is the entry point for pricewatch, which trains an LSTM
// autoencoder on the leading part of a price series and flags the points of
// the remainder whose windows it cannot reconstruct.
//
// Configuration comes from the environment (.env supported). Flags select
// the mode:
//   - no flags: train, score and report once, then keep running on SCHEDULE
//     and BACKUP_SCHEDULE if either is set
//   - -evaluate KEY: score with a stored checkpoint, no training
//   - -import PATH: copy a CSV or Parquet file into history.db under SERIES_ID
//   - -runs N: print the N most recent run records
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/pricewatch/internal/config"
	"github.com/aristath/pricewatch/internal/di"
	"github.com/aristath/pricewatch/internal/modules/series"
	"github.com/aristath/pricewatch/internal/pipeline"
	"github.com/aristath/pricewatch/internal/scheduler"
	"github.com/aristath/pricewatch/pkg/logger"
)

func main() {
	evaluateKey := flag.String("evaluate", "", "Score with the stored checkpoint KEY instead of training")
	importPath := flag.String("import", "", "Import a CSV or Parquet file into history.db and exit")
	listRuns := flag.Int("runs", 0, "Print the N most recent runs and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("series", cfg.Input.SeriesID).
		Str("input", cfg.Input.Format).
		Str("backend", cfg.Model.Backend).
		Msg("Starting pricewatch")

	// Cancelled on SIGINT/SIGTERM; aborts training between epochs
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sched *scheduler.Scheduler
	oneShot := *evaluateKey != "" || *importPath != "" || *listRuns > 0
	if !oneShot && (cfg.Schedule != "" || cfg.Backup.Schedule != "") {
		sched = scheduler.New(log)
	}

	container, jobs, err := di.Wire(ctx, cfg, log, sched)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	code := run(ctx, cfg, container, jobs, sched, *evaluateKey, *importPath, *listRuns, log)

	if err := container.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close databases")
	}
	os.Exit(code)
}

func run(
	ctx context.Context,
	cfg *config.Config,
	container *di.Container,
	jobs *di.JobInstances,
	sched *scheduler.Scheduler,
	evaluateKey, importPath string,
	listRuns int,
	log zerolog.Logger,
) int {
	switch {
	case importPath != "":
		if err := importSeries(ctx, cfg, container, importPath); err != nil {
			log.Error().Err(err).Msg("Import failed")
			return 1
		}
		return 0

	case listRuns > 0:
		if err := printRuns(ctx, container, listRuns); err != nil {
			log.Error().Err(err).Msg("Failed to list runs")
			return 1
		}
		return 0

	case evaluateKey != "":
		res, err := container.Detector.Evaluate(ctx, evaluateKey)
		if err != nil {
			log.Error().Err(err).Msg("Evaluation failed")
			return 1
		}
		report(res, log)
		return 0
	}

	res, err := container.Detector.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Detection failed")
		return 1
	}
	report(res, log)

	if sched == nil {
		return 0
	}

	jobs.Detect.OnResult(func(r *pipeline.Result) { report(r, log) })
	sched.Start()

	// Block until SIGINT or SIGTERM
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, waiting for running jobs")
	sched.Stop()
	return 0
}

func importSeries(ctx context.Context, cfg *config.Config, container *di.Container, path string) error {
	format := series.FormatCSV
	if strings.HasSuffix(strings.ToLower(path), ".parquet") {
		format = series.FormatParquet
	}

	s, err := container.Loader.Load(ctx, series.Source{
		Format: format,
		Path:   path,
		CSV: series.CSVOptions{
			DateColumn:  cfg.Input.DateColumn,
			PriceColumn: cfg.Input.PriceColumn,
		},
	})
	if err != nil {
		return err
	}
	return container.History.SyncPrices(ctx, cfg.Input.SeriesID, s)
}

func printRuns(ctx context.Context, container *di.Container, limit int) error {
	list, err := container.Runs.List(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Printf("%-36s  %-10s  %-20s  %-10s  %9s  %s\n", "RUN", "SERIES", "STARTED", "STATUS", "ANOMALIES", "STOP")
	for _, r := range list {
		fmt.Printf("%-36s  %-10s  %-20s  %-10s  %9d  %s\n",
			r.ID, r.SeriesID, r.StartedAt.Format(time.DateTime), r.Status, r.Anomalies, r.StopReason)
	}
	return nil
}

func report(res *pipeline.Result, log zerolog.Logger) {
	event := log.Info().
		Str("run_id", res.RunID).
		Int("windows", res.Summary.Count).
		Int("anomalies", res.Summary.Anomalies).
		Float64("threshold", res.Threshold.Value).
		Str("threshold_method", res.Threshold.Method).
		Float64("loss_mean", res.Summary.Mean).
		Float64("loss_p95", res.Summary.P95).
		Float64("loss_max", res.Summary.Max)
	if res.Training != nil {
		event = event.
			Int("best_epoch", res.Training.BestEpoch).
			Float64("best_val_loss", res.Training.BestValLoss).
			Str("stop_reason", string(res.Training.StopReason))
	}
	if res.ReportPath != "" {
		event = event.Str("report", res.ReportPath)
	}
	event.Msg("Summary")

	if len(res.Anomalies) == 0 {
		fmt.Println("No anomalies detected")
		return
	}

	fmt.Printf("%-20s  %14s  %12s\n", "TIMESTAMP", "PRICE", "LOSS")
	for _, a := range res.Anomalies {
		fmt.Printf("%-20s  %14.4f  %12.6f\n", a.Timestamp.Format(time.DateTime), a.Price, a.Loss)
	}
}
