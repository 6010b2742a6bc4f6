package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mgpai22/subburn/internal/server"
	"github.com/mgpai22/subburn/internal/store"
	"github.com/mgpai22/subburn/internal/transcribe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API.

POST /transcribe accepts a multipart upload in the "file" field and returns
the transcript plus a download handle. GET /download-video/<name> returns the
subtitled video.

Examples:
  subburn serve
  subburn serve --addr :8080
  SUBBURN_PROVIDER=openai subburn serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().Bool("no-warmup", false, "Load the local speech model on first request instead of at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	noWarmup, _ := cmd.Flags().GetBool("no-warmup")

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tools := newToolchain(cfg)
	if err := tools.checker.Check(ctx); err != nil {
		if cfg.FFmpeg.Precheck {
			logger.Warnw("ffmpeg check failed, requests will be rejected until it is installed", "error", err)
		} else {
			logger.Warnw("ffmpeg check failed", "error", err)
		}
	}

	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open output store: %w", err)
	}
	defer db.Close()

	tr, err := newTranscriber(ctx, cfg, tools, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := transcribe.Close(tr); err != nil {
			logger.Warnw("failed to stop transcriber", "error", err)
		}
	}()

	if local, ok := tr.(*transcribe.LocalTranscriber); ok && !noWarmup {
		logger.Infow("loading speech model", "model", cfg.Transcribe.Model, "device", cfg.Transcribe.Device)
		if err := local.Start(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to load speech model: %w", err)
		}
	}

	svc, err := newPipeline(cfg, tools, tr, db, logger)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	janitor := store.NewJanitor(db, cfg.Storage.OutputDir, cfg.Storage.Retention.Duration, cfg.Storage.SweepInterval.Duration, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		janitor.Run(ctx)
	}()

	logger.Infow("starting subburn",
		"addr", cfg.Server.Addr,
		"provider", cfg.Transcribe.Provider,
		"output_dir", cfg.Storage.OutputDir,
		"retention", cfg.Storage.Retention.Duration,
	)

	err = server.New(cfg, svc, db, logger).Run(ctx)
	stop()
	wg.Wait()
	return err
}
