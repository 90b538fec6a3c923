package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/bzfsd/bzfsd/internal/acl"
	"github.com/bzfsd/bzfsd/internal/api"
	"github.com/bzfsd/bzfsd/internal/command"
	"github.com/bzfsd/bzfsd/internal/config"
	"github.com/bzfsd/bzfsd/internal/game"
	"github.com/bzfsd/bzfsd/internal/influx"
	"github.com/bzfsd/bzfsd/internal/listserver"
	"github.com/bzfsd/bzfsd/internal/logging"
	"github.com/bzfsd/bzfsd/internal/match"
	"github.com/bzfsd/bzfsd/internal/metrics"
	"github.com/bzfsd/bzfsd/internal/monitor"
	intOtel "github.com/bzfsd/bzfsd/internal/otel"
	"github.com/bzfsd/bzfsd/internal/server"
	"github.com/bzfsd/bzfsd/internal/session"
	"github.com/bzfsd/bzfsd/internal/storage"
	"github.com/bzfsd/bzfsd/internal/worker"
	"github.com/bzfsd/bzfsd/internal/world"
)

const ServerName = "bzfsd"

var (
	SlogManager      *logging.SlogManager
	Logger           *slog.Logger
	SessionStartTime = time.Now()
)

func main() {
	flags := pflag.NewFlagSet(ServerName, pflag.ExitOnError)
	configDir := flags.String("config-dir", ".", "directory holding "+config.FileName)
	flags.Int("port", 5154, "TCP and UDP port")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.Int("max-players", 20, "player slots, observers not included")
	flags.String("public", "", "address advertised to the list servers")
	flags.Parse(os.Args[1:])

	SlogManager = logging.NewSlogManager()
	Logger = SlogManager.Logger()

	if err := config.LoadOptional(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	bindFlags(flags)
	cfg, err := config.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if args := flags.Args(); len(args) > 0 {
		if err := runTool(cfg, args); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		Logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

// bindFlags lets explicitly set flags override the file.
func bindFlags(flags *pflag.FlagSet) {
	viper.BindPFlag("network.port", flags.Lookup("port"))
	viper.BindPFlag("logLevel", flags.Lookup("log-level"))
	viper.BindPFlag("network.maxPlayers", flags.Lookup("max-players"))
	viper.BindPFlag("listServer.publicAddress", flags.Lookup("public"))
}

// setupLogging opens the log file, the GELF writer and the OTel provider
// and rebuilds the process logger on them. The returned closers release
// them in order.
func setupLogging(cfg *config.Config, mc *match.Context) (io.Writer, []server.Closer) {
	var closers []server.Closer
	var logFile io.Writer

	if err := os.MkdirAll(cfg.LogsDir, 0755); err != nil {
		Logger.Warn("failed to create logs directory", "error", err, "path", cfg.LogsDir)
	}
	path := logging.LogFilePath(cfg.LogsDir, ServerName, SessionStartTime)
	if f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666); err != nil {
		Logger.Error("failed to create log file", "error", err, "path", path)
	} else {
		logFile = f
		closers = append(closers, closeFunc(func(context.Context) error { return f.Close() }))
	}

	opts := logging.Options{File: logFile, Level: cfg.LogLevel, Context: logging.MatchAttrs(mc)}

	if cfg.Graylog.Enabled {
		w, err := logging.NewGraylogWriter(cfg.Graylog.Address)
		if err != nil {
			Logger.Error("failed to set up graylog", "error", err)
		} else {
			opts.Graylog = w
			closers = append(closers, closeFunc(func(context.Context) error { return w.Close() }))
		}
	}

	provider, err := intOtel.New(cfg.OTel, logFile)
	if err != nil {
		Logger.Error("failed to initialize otel provider", "error", err)
	} else if provider.Enabled() {
		opts.Provider = provider.LoggerProvider()
		// The provider flushes before the files underneath it close.
		closers = append([]server.Closer{provider}, closers...)
	}

	SlogManager.Setup(opts)
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)
	if logFile != nil {
		Logger.Info("logging to file", "path", path)
	}
	return logFile, closers
}

func run(cfg *config.Config) error {
	mc := match.NewContext()
	logFile, logClosers := setupLogging(cfg, mc)
	var zlw io.Writer = os.Stdout
	if logFile != nil {
		zlw = logFile
	}
	dbLog := logging.NewZerolog(zlw, cfg.LogLevel)

	tcp, udp, err := server.Listen(cfg.Network)
	if err != nil {
		return err
	}

	bans, err := acl.New(cfg.Network.AcceptRate, cfg.Network.AcceptBurst, cfg.Network.Bans, Logger)
	if err != nil {
		return fmt.Errorf("loading bans: %w", err)
	}

	w, err := world.New(cfg.World)
	if err != nil {
		return fmt.Errorf("building world: %w", err)
	}

	reg := session.NewRegistry(cfg.Capacity(), Logger)
	fan := session.NewFanout(reg, udp)

	backend, err := storage.NewBackend(cfg.Storage, Logger, dbLog)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("initializing %s storage: %w", cfg.Storage.Type, err)
	}
	var recOpts []worker.Option
	if cfg.Archive.URL != "" {
		archive := api.New(cfg.Archive.URL, cfg.Archive.Secret)
		if err := archive.Healthcheck(context.Background()); err != nil {
			Logger.Warn("match archive unreachable, uploads may fail", "error", err, "url", cfg.Archive.URL)
		}
		recOpts = append(recOpts, worker.WithUploader(archive))
	}
	recorder := worker.NewRecorder(backend, mc, cfg.Storage.QueueSize, Logger, recOpts...)

	deps := game.Dependencies{
		Config:         cfg,
		Logger:         Logger,
		Registry:       reg,
		Fanout:         fan,
		World:          w,
		Match:          mc,
		Recorder:       recorder,
		Allow:          bans.Validate,
		DispatchLogger: logging.NewDispatcherLogger(dbLog.With().Str("component", "dispatcher").Logger()),
	}
	var lister *listserver.Client
	if cfg.ListServer.Enabled && len(cfg.ListServer.Servers) > 0 {
		lister = listserver.New(cfg.ListServer.Servers, publicAddress(cfg), cfg.Game.Title, Logger)
		deps.Lister = lister
	}

	core, err := game.New(deps)
	if err != nil {
		return err
	}
	core.SetCommands(command.New(core, bans, cfg.Game.OperatorPassword, Logger))

	srv := server.New(cfg, Logger, core, tcp, udp)
	if lister != nil {
		srv.Closers = append(srv.Closers, lister)
	}
	srv.Closers = append(srv.Closers, recorder)

	influxManager := influx.NewManager(cfg.Influx, dbLog, filepath.Join(cfg.LogsDir,
		fmt.Sprintf("%s_influx_%s.lp.gz", ServerName, SessionStartTime.Format("20060102_150405"))))
	if cfg.Influx.Enabled {
		if err := influxManager.Connect(); err != nil {
			Logger.Warn("influxdb unavailable, writing line protocol backup", "error", err)
		}
		srv.Closers = append(srv.Closers, influxManager)
	}

	mon := monitor.Dependencies{
		Source:     core,
		Recorder:   recorder,
		Matches:    mc,
		StatusFile: cfg.StatusFile,
		Logger:     Logger,
	}
	if cfg.Influx.Enabled {
		mon.Influx = influxManager
	}
	if withDB, ok := backend.(interface{ DB() *gorm.DB }); ok {
		mon.DB = withDB.DB()
	}

	if cfg.Metrics.Enabled {
		m := metrics.NewMetrics()
		fan.OnSend = m.RecordSend
		core.OnKick = m.RecordKick
		mon.Sinks = append(mon.Sinks, m)
		ms, err := metrics.Serve(cfg.Metrics.Address, m, Logger)
		if err != nil {
			Logger.Error("failed to start metrics endpoint", "error", err, "addr", cfg.Metrics.Address)
		} else {
			srv.Closers = append(srv.Closers, ms)
		}
	}

	monitorService := monitor.NewService(mon)
	srv.OnTick = monitorService.OnTick
	// The monitor goes first so its last sample still reaches influx.
	srv.Closers = append([]server.Closer{monitorService}, srv.Closers...)
	srv.Closers = append(srv.Closers, logClosers...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	Logger.Info("starting server",
		"title", cfg.Game.Title,
		"port", cfg.Network.Port,
		"maxPlayers", cfg.Network.MaxPlayers,
		"storage", cfg.Storage.Type,
		"worldDigest", w.Digest())
	core.Publicize()
	err = srv.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// publicAddress is what the list servers are told, defaulting to the
// listen address.
func publicAddress(cfg *config.Config) string {
	if cfg.ListServer.PublicAddress != "" {
		return cfg.ListServer.PublicAddress
	}
	host := cfg.Network.Address
	if host == "" {
		host, _ = os.Hostname()
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Network.Port))
}

type closeFunc func(ctx context.Context) error

func (f closeFunc) Close(ctx context.Context) error { return f(ctx) }
