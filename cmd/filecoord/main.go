package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/audit"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/blockwrite"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/catalog"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/classify"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/config"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/coordinator"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/exitcode"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/lease"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/lock"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/model"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/relocate"
	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/storage"
)

func main() {
	// Configure the global logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	// Parse CLI flags
	subfolder := flag.String("subfolder", "inbound", "Subfolder the keys were dropped into")
	ext := flag.String("ext", "csv", "Expected file extension")
	dest := flag.String("dest", "{bottler}/valid-set-files", "Destination folder; {bottler} and {container} are substituted")
	modeStr := flag.String("mode", "move", "Relocation mode: move or copy")
	copyPrefix := flag.String("copy-prefix", "", "Prefix for copied file names (copy mode)")
	leaseTTL := flag.Duration("lease", 0, "Lease source and target objects for this long (0 disables, needs REDIS_ADDR)")
	batch := flag.Bool("batch", false, "Relocate every file sharing the batch prefix")
	manifest := flag.String("manifest", "", "Folder to write a CSV manifest of relocated objects into")
	concurrency := flag.Int("concurrency", 4, "Keys processed in parallel")
	runID := flag.String("run-id", "", "Run identifier (UUIDv7 from orchestration, generated when empty)")
	history := flag.String("history", "", "Print recorded events for a processing key and exit")
	flag.Parse()

	// Parse and validate flags
	mode, err := relocate.ParseMode(*modeStr)
	if err != nil {
		slog.Error("invalid mode", "error", err)
		fmt.Fprintf(os.Stderr, "Usage: %v\n", err)
		os.Exit(exitcode.ConfigError)
	}
	if *concurrency < 1 {
		fmt.Fprintf(os.Stderr, "Usage: concurrency must be at least 1\n")
		os.Exit(exitcode.ConfigError)
	}
	if *runID == "" {
		generated, err := model.NewRunID()
		if err != nil {
			slog.Error("failed to generate run-id", "error", err)
			os.Exit(exitcode.ConfigError)
		}
		*runID = generated.String()
	}
	if err := model.RunID(*runID).Validate(); err != nil {
		slog.Error("invalid run-id", "error", err)
		fmt.Fprintf(os.Stderr, "Usage: run-id must be a UUIDv7\n")
		os.Exit(exitcode.ConfigError)
	}
	keys := flag.Args()
	if len(keys) == 0 && *history == "" {
		fmt.Fprintf(os.Stderr, "Usage: filecoord [flags] <object-key>...\n")
		os.Exit(exitcode.ConfigError)
	}

	// Ensure environment variables are loaded
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load env vars", "error", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitcode.ConfigError)
	}

	// Create a cancellable context (for graceful shutdown)
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *history != "" {
		os.Exit(printHistory(ctx, cfg, logger, *history, os.Stdout))
	}

	svc, closeAll, err := build(ctx, cfg, logger, *leaseTTL > 0)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(exitcode.ConfigError)
	}
	defer closeAll()

	template := coordinator.Request{
		Subfolder:    *subfolder,
		Extension:    *ext,
		Destination:  *dest,
		Mode:         mode,
		CopyPrefix:   *copyPrefix,
		Batch:        *batch,
		PollInterval: cfg.CopyPollInterval,
		PollTimeout:  cfg.CopyPollTimeout,
		RunID:        model.RunID(*runID),
	}
	if *leaseTTL > 0 {
		template.Lease = &relocate.LeaseOptions{Duration: *leaseTTL}
	}
	if *manifest != "" {
		template.Report = &coordinator.Report{Folder: *manifest}
	}

	code := run(ctx, svc, keys, template, *concurrency)
	closeAll()
	slog.Info("shutdown complete", "run_id", *runID, "exit_code", code)
	os.Exit(code)
}

type processor interface {
	Process(ctx context.Context, req coordinator.Request) (coordinator.Result, error)
}

// run processes keys in parallel and folds the terminal states into one exit code.
func run(ctx context.Context, svc processor, keys []string, template coordinator.Request, concurrency int) int {
	states := make([]coordinator.State, len(keys))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, key := range keys {
		g.Go(func() error {
			req := template
			req.Key = key
			res, err := svc.Process(ctx, req)
			if err != nil {
				slog.ErrorContext(ctx, "object event failed", "object_key", key, "state", res.State, "error", err)
			}
			states[i] = res.State
			if !states[i].Terminal() {
				slog.ErrorContext(ctx, "object event stopped before a terminal state", "object_key", key, "state", res.State)
				states[i] = coordinator.StateRelocationFailed
			}
			return nil
		})
	}
	_ = g.Wait()

	code := exitcode.Success
	for _, s := range states {
		if c := exitCodeFor(s); severity(c) > severity(code) {
			code = c
		}
	}
	return code
}

func exitCodeFor(s coordinator.State) int {
	switch s {
	case coordinator.StateClassificationFailed:
		return exitcode.NotOwned
	case coordinator.StateLookupFailed:
		return exitcode.DataError
	case coordinator.StateRelocationFailed:
		return exitcode.StorageError
	}
	return exitcode.Success
}

func severity(code int) int {
	switch code {
	case exitcode.DataError:
		return 3
	case exitcode.StorageError:
		return 2
	case exitcode.NotOwned:
		return 1
	}
	return 0
}

// build wires the coordinator from cfg. The returned func closes every
// connection that was opened.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, needLeases bool) (*coordinator.Service, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		closers = nil
	}
	fail := func(err error) (*coordinator.Service, func(), error) {
		closeAll()
		return nil, func() {}, err
	}

	minioClient, err := storage.NewMinIOClient(storage.MinIOConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		UseSSL:    cfg.MinIOUseSSL,
	})
	if err != nil {
		return fail(fmt.Errorf("minio: %w", err))
	}

	lockDB, err := openPostgres(ctx, cfg.LockDatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("lock database: %w", err))
	}
	closers = append(closers, lockDB)
	locks := lock.NewPostgres(lockDB, cfg.LockTable)
	if err := locks.EnsureSchema(ctx); err != nil {
		return fail(err)
	}

	deps := coordinator.Deps{
		Locks:    locks,
		Lister:   minioClient,
		Recorder: audit.LogRecorder{},
	}

	if cfg.CatalogDatabaseURL != "" {
		catalogDB, err := openPostgres(ctx, cfg.CatalogDatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("catalog database: %w", err))
		}
		closers = append(closers, catalogDB)
		lookup := catalog.NewPostgres(catalogDB)
		deps.Classifier = classify.New(lookup)
		deps.Lookup = lookup
	} else {
		deps.Classifier = classify.New(nil)
	}

	var leaser relocate.Leaser
	if cfg.RedisAddr != "" {
		r, err := lease.NewRedis(ctx, lease.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, r)
		leaser = r
	} else if needLeases {
		return fail(errors.New("leases requested but REDIS_ADDR is not set"))
	}
	deps.Relocator = relocate.New(minioClient, leaser)

	writer, err := blockwrite.New(minioClient, cfg.BlockSize)
	if err != nil {
		return fail(err)
	}
	deps.Reports = writer

	if cfg.ClickHouseHost != "" {
		sink, err := newClickHouse(ctx, cfg, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, sink)
		if err := sink.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		deps.Recorder = sink
	}

	return coordinator.NewService(deps), closeAll, nil
}

func openPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newClickHouse(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*audit.ClickHouse, error) {
	return audit.NewClickHouse(ctx, audit.Config{
		Host:     cfg.ClickHouseHost,
		Port:     cfg.ClickHousePort,
		User:     cfg.ClickHouseUser,
		Password: cfg.ClickHousePassword,
		Database: cfg.ClickHouseDatabase,
	}, logger)
}

type historian interface {
	History(ctx context.Context, processingKey string) ([]audit.Event, error)
}

func printHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger, processingKey string, w io.Writer) int {
	if cfg.ClickHouseHost == "" {
		slog.Error("history needs CLICKHOUSE_HOST")
		return exitcode.ConfigError
	}
	sink, err := newClickHouse(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to connect to clickhouse", "error", err)
		return exitcode.ConfigError
	}
	defer sink.Close()

	return writeHistory(ctx, sink, processingKey, w)
}

func writeHistory(ctx context.Context, h historian, processingKey string, w io.Writer) int {
	events, err := h.History(ctx, processingKey)
	if err != nil {
		slog.Error("failed to read history", "processing_key", processingKey, "error", err)
		return exitcode.StorageError
	}
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.RecordedAt.Format(time.RFC3339), e.State, e.ObjectKey, e.Detail)
	}
	return exitcode.Success
}
