package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/mbp10/params"
	"github.com/uhyunpark/mbp10/pkg/api"
	"github.com/uhyunpark/mbp10/pkg/metrics"
	"github.com/uhyunpark/mbp10/pkg/mbp"
	"github.com/uhyunpark/mbp10/pkg/replay"
	"github.com/uhyunpark/mbp10/pkg/storage"
	"github.com/uhyunpark/mbp10/pkg/stream"
	"github.com/uhyunpark/mbp10/pkg/util"
)

const usage = "Usage: mbp <mbo_file.csv>"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], params.LoadFromEnv(""), os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, cfg params.Config, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, usage)
		return 1
	}
	// open the input before anything is created on disk
	in, err := os.Open(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot open %s: %v\n%s\n", args[0], err, usage)
		return 1
	}
	defer in.Close()

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	runID := uuid.NewString()
	sugar.Infow("run_configured",
		"run_id", runID,
		"input", args[0],
		"output", cfg.Replay.Output,
		"store_dir", cfg.Sinks.StoreDir,
		"kafka_brokers", cfg.Sinks.KafkaBrokers,
		"api_addr", cfg.API.Addr)

	m := metrics.New()
	g, gctx := errgroup.WithContext(ctx)
	pl, err := buildPipeline(gctx, cfg, runID, m, sugar)
	if err != nil {
		sugar.Errorw("sink_setup_failed", "run_id", runID, "error", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	rp := replay.New(pl.sinks, replay.Options{
		RunID:         runID,
		ValidateClear: cfg.Replay.ValidateClear,
		Logger:        sugar,
		Observer:      m,
		Digest:        mbp.NewDigestSink(),
	})

	g.Go(func() error {
		stats, err := rp.Run(gctx, in)
		if err != nil {
			return err
		}
		if pl.server == nil {
			return nil
		}
		// the artifact is complete before the inspector keeps serving
		if err := pl.csv.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}
		pl.server.SetStats(stats)
		sugar.Infow("api_serving_until_interrupt", "addr", cfg.API.Addr)
		return nil
	})
	if pl.server != nil {
		g.Go(func() error { return pl.server.Serve(gctx, cfg.API.Addr) })
	}

	err = g.Wait()
	if cerr := pl.sinks.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close sinks: %w", cerr)
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		sugar.Warnw("run_interrupted", "run_id", runID)
		return 1
	default:
		sugar.Errorw("run_failed", "run_id", runID, "error", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func newLogger(cfg params.Log) (*zap.Logger, error) {
	if cfg.File == "" {
		return util.NewLogger(cfg.Level), nil
	}
	return util.NewLoggerWithFile(cfg.File, cfg.Level)
}

type pipeline struct {
	sinks  mbp.MultiSink
	csv    *mbp.CSVWriter
	server *api.Server
}

// buildPipeline opens the CSV artifact and whichever optional sinks cfg
// enables. The fan-out owns every sink.
func buildPipeline(ctx context.Context, cfg params.Config, runID string, m *metrics.Replay, log *zap.SugaredLogger) (*pipeline, error) {
	out, err := mbp.CreateCSV(cfg.Replay.Output)
	if err != nil {
		return nil, err
	}
	pl := &pipeline{sinks: mbp.MultiSink{out}, csv: out}

	var store *storage.PebbleStore
	if cfg.Sinks.StoreDir != "" {
		store, err = storage.NewPebbleStore(cfg.Sinks.StoreDir, runID)
		if err != nil {
			pl.sinks.Close()
			return nil, fmt.Errorf("open snapshot store: %w", err)
		}
		pl.sinks = append(pl.sinks, store)
	}

	if len(cfg.Sinks.KafkaBrokers) > 0 {
		pl.sinks = append(pl.sinks, stream.NewPublisher(ctx, cfg.Sinks.KafkaBrokers, cfg.Sinks.KafkaTopic, runID))
	}

	if cfg.API.Addr != "" {
		opts := api.Options{RunID: runID, Metrics: m.Handler(), Logger: log}
		if store != nil {
			opts.Store = store
		}
		pl.server = api.NewServer(opts)
		pl.sinks = append(pl.sinks, pl.server.Feed())
	}
	return pl, nil
}
