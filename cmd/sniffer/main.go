package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/midi-sniffer/backend/internal/api"
	"github.com/midi-sniffer/backend/internal/capture"
	"github.com/midi-sniffer/backend/internal/config"
	"github.com/midi-sniffer/backend/internal/logging"
	"github.com/midi-sniffer/backend/internal/metrics"
	"github.com/midi-sniffer/backend/internal/models"
	"github.com/midi-sniffer/backend/internal/parser"
	"github.com/midi-sniffer/backend/internal/session"
	"github.com/midi-sniffer/backend/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// defaultTableID is the catalog id of the table named in the configuration.
const defaultTableID = "default"

const shutdownTimeout = 10 * time.Second

type options struct {
	configPath  string
	tablePath   string
	profilePath string
	capturePath string
	speed       float64
	serve       bool
	noGroup     bool
	record      bool
	showHeaders bool
	columns     string
}

func main() {
	opts := parseFlags()
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "midi-sniffer: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", defaultConfigPath(), "XML configuration file (created with defaults if missing)")
	flag.StringVar(&opts.tablePath, "table", "", "mapping table CSV (overrides config)")
	flag.StringVar(&opts.profilePath, "profile", "", "YAML table profile (overrides config)")
	flag.StringVar(&opts.capturePath, "capture", "", `capture to replay: text log or recording, "-" reads a text log from stdin`)
	flag.Float64Var(&opts.speed, "speed", -1, "replay speed multiplier, 0 replays instantly (overrides config)")
	flag.BoolVar(&opts.serve, "serve", false, "start the inspection server")
	flag.BoolVar(&opts.noGroup, "no-group", false, "print every event instead of grouped summaries")
	flag.BoolVar(&opts.record, "record", false, "write the inbound frames to a replayable text log")
	flag.BoolVar(&opts.showHeaders, "show-headers", false, "print the table's column headers and exit")
	flag.StringVar(&opts.columns, "columns", "", "print the selected columns (indexes or names) of every mapped row and exit")
	flag.Parse()
	return opts
}

// defaultConfigPath places the configuration next to the executable.
func defaultConfigPath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "midi-sniffer.config.xml"
	}
	return filepath.Join(filepath.Dir(exePath), "midi-sniffer.config.xml")
}

func run(opts options) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	applyFlags(cfg, opts)

	logger, err := logging.Setup(cfg.Advanced.LogLevel, cfg.Advanced.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	log := logging.Component(logger, "main")

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	var registry *prometheus.Registry
	var registerer prometheus.Registerer
	if cfg.Advanced.EnableMetrics {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registerer = registry
	}
	m := metrics.New(registerer)

	profile := parser.DefaultProfile()
	if cfg.Monitor.ProfilePath != "" {
		if profile, err = parser.LoadProfile(cfg.Monitor.ProfilePath); err != nil {
			return err
		}
	}

	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	tables := api.NewTableCatalog(fileStore, profile, m, logger)

	var table *parser.Table
	if cfg.Monitor.TablePath != "" {
		table, err = parser.LoadTable(cfg.Monitor.TablePath, profile)
		m.TableLoaded(diagnosticsOf(table), err)
		if err != nil {
			return err
		}
		tables.Add(defaultTableID, table)
		reportTable(log, table)
	}

	if opts.showHeaders || opts.columns != "" {
		if table == nil {
			return errors.New("-show-headers and -columns need a mapping table")
		}
		return printColumns(os.Stdout, table, opts.showHeaders, opts.columns)
	}

	var events *storage.EventStore
	if cfg.Storage.RecordSummaries {
		events, err = storage.NewEventStore(cfg.Storage.SummaryDatabase, logger)
		if err != nil {
			return err
		}
		defer events.Close()
	}

	mgr := session.NewManager(session.ManagerConfig{
		MaxSessions: cfg.Monitor.MaxSessions,
		RecentSize:  cfg.Monitor.RecentSummaries,
		Session: session.Options{
			GroupWindow:     cfg.GroupWindow(),
			PairStaleWindow: cfg.PairStaleWindow(),
			SweepInterval:   cfg.SweepInterval(),
			DisableGrouping: cfg.Monitor.DisableGrouping,
		},
		Events:  events,
		Logger:  logger,
		Metrics: m,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go mgr.RunCleanup(ctx, cfg.CleanupInterval(), cfg.SessionTimeout())

	var srv *echo.Echo
	if cfg.Server.Enabled {
		deps := &api.Dependencies{
			Store:        fileStore,
			SessionMgr:   mgr,
			Tables:       tables,
			Registry:     capture.NewRegistry(),
			DefaultSpeed: cfg.Monitor.ReplaySpeed,
			StreamBuffer: cfg.Advanced.WebSocketBuffer,
			Logger:       logger,
			Version:      Version,
		}
		if events != nil {
			deps.Summaries = events
		}
		if registry != nil {
			deps.Gatherer = registry
		}
		srv = startServer(cfg, deps, logger)
	}

	if cfg.Monitor.CapturePath != "" {
		if table == nil {
			return errors.New("replaying a capture needs a mapping table (-table or Monitor/TablePath)")
		}
		if err := replay(ctx, cfg, mgr, table, log); err != nil {
			return err
		}
	} else if srv == nil {
		return errors.New("nothing to do: give a capture to replay or enable the server (-serve)")
	}

	if srv != nil {
		log.Info("inspection server running", "addr", cfg.GetServerAddr())
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Warn("session shutdown incomplete", "error", err)
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown failed", "error", err)
		}
	}
	return nil
}

func applyFlags(cfg *config.AppConfig, opts options) {
	if opts.tablePath != "" {
		cfg.Monitor.TablePath = opts.tablePath
	}
	if opts.profilePath != "" {
		cfg.Monitor.ProfilePath = opts.profilePath
	}
	if opts.capturePath != "" {
		cfg.Monitor.CapturePath = opts.capturePath
	}
	if opts.speed >= 0 {
		cfg.Monitor.ReplaySpeed = opts.speed
	}
	if opts.serve {
		cfg.Server.Enabled = true
	}
	if opts.noGroup {
		cfg.Monitor.DisableGrouping = true
	}
	if opts.record {
		cfg.Monitor.RecordCapture = true
	}
}

func startServer(cfg *config.AppConfig, deps *api.Dependencies, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(cfg.Server.ReadTimeout) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.Server.IdleTimeout) * time.Second

	api.SetErrorDetails(cfg.Advanced.LogLevel == "debug")
	api.SetupMiddleware(e, cfg, logger)
	api.RegisterRoutes(e, api.NewHandlers(deps))

	go func() {
		if err := e.Start(cfg.GetServerAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "component", "main", "error", err)
		}
	}()
	return e
}

// replay runs the configured capture through table, printing summaries until
// the capture ends or ctx is cancelled.
func replay(ctx context.Context, cfg *config.AppConfig, mgr *session.Manager, table *parser.Table, log *slog.Logger) error {
	src, name, err := openCapture(cfg.Monitor.CapturePath)
	if err != nil {
		return err
	}

	var recorder capture.Recorder
	if cfg.Monitor.RecordCapture {
		path := filepath.Join(cfg.Storage.CaptureDirectory,
			fmt.Sprintf("midi_log_%s.txt", time.Now().Format("20060102_150405")))
		w, err := capture.CreateTextLog(path, table.Device(), table.Name, time.Now())
		if err != nil {
			src.Close()
			return fmt.Errorf("create capture log: %w", err)
		}
		recorder = w
		log.Info("recording capture", "path", path)
	}

	printer := newPrinter(os.Stdout)
	info, err := mgr.Start(session.StartRequest{
		TableID:    defaultTableID,
		Device:     table.Device(),
		SourceName: name,
		Index:      table.Index,
		Source:     capture.NewPacer(src, cfg.Monitor.ReplaySpeed),
		Sink:       printer,
		Recorder:   recorder,
	})
	if err != nil {
		src.Close()
		if recorder != nil {
			recorder.Close()
		}
		return err
	}

	err = mgr.Wait(ctx, info.ID)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := mgr.Stop(stopCtx, info.ID); stopErr != nil {
			return stopErr
		}
		err = nil
	}

	if final, ok := mgr.Get(info.ID); ok {
		printer.Footer(final)
	}
	return err
}

func openCapture(path string) (capture.Source, string, error) {
	if path == "-" {
		src, err := capture.NewTextLogStream(os.Stdin)
		return src, "stdin", err
	}
	src, err := capture.NewRegistry().Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open capture: %w", err)
	}
	return src, filepath.Base(path), nil
}

func reportTable(log *slog.Logger, table *parser.Table) {
	counts := table.RowCounts()
	log.Info("mapping table loaded",
		"name", table.Name,
		"device", table.Device(),
		"keys", table.Index.Len(),
		"rows", len(table.Rows),
		"malformed", counts[models.RowMalformed],
		"conflicts", len(table.Conflicts()),
		"diagnostics", len(table.Diagnostics))
	for _, d := range table.Diagnostics {
		log.Debug("table diagnostic", "line", d.Line, "kind", d.Kind, "reason", d.Reason)
	}
}

func diagnosticsOf(t *parser.Table) []models.Diagnostic {
	if t == nil {
		return nil
	}
	return t.Diagnostics
}
