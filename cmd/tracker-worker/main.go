package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"tracker/internal/amqp"
	"tracker/internal/cli"
	"tracker/internal/config"
	"tracker/internal/log"
	"tracker/internal/sheets"
	gsheet "tracker/internal/sheets/google"
	mem "tracker/internal/sheets/memory"
	"tracker/internal/worker"
)

func main() {
	backfillUser := flag.String("backfill-user", "", "append every stored expense of this user missing from the sheet, then exit")
	flag.Parse()

	cli.LoadEnvFile()

	logger := cli.SetupLogger(nil, log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting tracker-worker", "backend", cfg.DataBackend, "mirror", cfg.MirrorEnabled())

	res := cli.InitBackend(context.Background(), logger, cfg)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	}()

	mirror, err := newMirror(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	mirrorWorker := worker.NewMirrorWorker(res.Store, mirror, logger)

	if *backfillUser != "" {
		n, err := mirrorWorker.BackfillUser(context.Background(), *backfillUser)
		if err != nil {
			logger.Error("Backfill failed", log.FieldError, err, log.FieldUserID, *backfillUser, log.FieldRows, n)
			os.Exit(1)
		}
		logger.Info("Backfill complete", log.FieldUserID, *backfillUser, log.FieldRows, n)
		return
	}

	consumer, ok := res.Publisher.(*amqp.Client)
	if !ok {
		logger.Error("AMQP is unavailable; set AMQP_URL to a reachable broker")
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	if err := consumer.ConsumeRecordChanges(ctx, mirrorWorker.HandleRecordChange); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
		return
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}

// newMirror returns the Google Sheets mirror when a spreadsheet is
// configured and an in-memory one otherwise.
func newMirror(ctx context.Context, cfg *config.Config, logger *log.Logger) (sheets.ExpenseMirror, error) {
	if !cfg.MirrorEnabled() {
		logger.Warn("GOOGLE_SPREADSHEET_ID not set, mirroring to memory only")
		return mem.New(), nil
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		SheetName:          cfg.GoogleSheetName,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}
