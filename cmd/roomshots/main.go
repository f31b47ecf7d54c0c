// Command roomshots plans one viewpoint per room of a building model, drives
// the headless viewer through them and exports what each room shows.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/roomview/internal/capture"
	"github.com/banshee-data/roomview/internal/config"
	"github.com/banshee-data/roomview/internal/db"
	"github.com/banshee-data/roomview/internal/export"
	"github.com/banshee-data/roomview/internal/fsutil"
	"github.com/banshee-data/roomview/internal/monitoring"
	"github.com/banshee-data/roomview/internal/scene"
	"github.com/banshee-data/roomview/internal/version"
	"github.com/banshee-data/roomview/internal/viewer/offline"
)

type options struct {
	dbPath      string
	scenePath   string
	configPath  string
	outDir      string
	logLevel    string
	logFormat   string
	debugListen string
	showVersion bool
}

func parseFlags(args []string, rt *config.RuntimeConfig, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("roomshots", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.dbPath, "db", rt.DBPath, "sqlite database path")
	fs.StringVar(&o.scenePath, "scene", "", "scene fixture (.json, .yaml) to import before the run")
	fs.StringVar(&o.configPath, "config", rt.ConfigPath, "pipeline config JSON (defaults built in)")
	fs.StringVar(&o.outDir, "out", rt.OutputDir, "output directory for screenshots and exports")
	fs.StringVar(&o.logLevel, "log-level", rt.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&o.logFormat, "log-format", rt.LogFormat, "log format: json or console")
	fs.StringVar(&o.debugListen, "debug-listen", rt.DebugListen, "serve /debug/ admin routes on this address and keep running after the run")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rt, err := config.LoadRuntimeConfig()
	if err != nil {
		fmt.Fprintf(stderr, "roomshots: %v\n", err)
		return 1
	}
	opts, err := parseFlags(args, rt, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "roomshots: %v\n", err)
		return 2
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, version.String("roomshots"))
		return 0
	}

	logger, err := monitoring.NewLogger(opts.logLevel, opts.logFormat)
	if err != nil {
		fmt.Fprintf(stderr, "roomshots: build logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	monitoring.UseZap(logger)

	if err := capturePipeline(ctx, opts, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		return 1
	}
	return 0
}

func capturePipeline(ctx context.Context, opts *options, logger *zap.Logger) error {
	cfg := config.DefaultPipelineConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadPipelineConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	database, err := db.NewDB(opts.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	store := scene.NewStore(database.DB)
	if opts.scenePath != "" {
		sc, err := scene.LoadFixture(opts.scenePath)
		if err != nil {
			return err
		}
		if err := store.Import(ctx, sc); err != nil {
			return err
		}
	}

	v, err := offline.New(ctx, store)
	if err != nil {
		return fmt.Errorf("open viewer: %w", err)
	}

	fsys := fsutil.OSFileSystem{}
	if err := fsys.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	runs := db.NewRunStore(database.DB)
	sinks := []export.Sink{export.NewFileSink(fsys, opts.outDir, cfg.GetExportName()), runs}
	if cfg.GetWriteReport() {
		sinks = append(sinks, export.NewReportSink(fsys, opts.outDir, cfg.GetExportName()))
	}
	assembler := export.NewAssembler(v, cfg, sinks...)

	orch := capture.New(v, assembler,
		capture.WithConfig(cfg),
		capture.WithFileSystem(fsys),
		capture.WithOutputDir(opts.outDir),
		capture.WithRecorder(runs),
	)

	var srv *http.Server
	if opts.debugListen != "" {
		mux := http.NewServeMux()
		if err := database.AttachAdminRoutes(mux); err != nil {
			return fmt.Errorf("attach admin routes: %w", err)
		}
		srv = &http.Server{Addr: opts.debugListen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("debug server stopped", zap.Error(err))
			}
		}()
		logger.Info("debug routes listening", zap.String("addr", opts.debugListen))
	}

	report, err := orch.Run(ctx)
	if report != nil {
		logger.Info("run finished",
			zap.String("run_id", report.RunID),
			zap.Stringer("state", report.State),
			zap.Int("planned", report.Planned),
			zap.Int("captured", len(report.Results)),
			zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		)
	}
	if err != nil {
		return err
	}

	if srv != nil {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("debug server shutdown", zap.Error(err))
		}
	}
	return nil
}
