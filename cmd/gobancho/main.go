// gobancho daemon -- osu!-compatible bancho server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gobancho/internal/bancho"
	"github.com/dantte-lp/gobancho/internal/config"
	"github.com/dantte-lp/gobancho/internal/gateway"
	banchometrics "github.com/dantte-lp/gobancho/internal/metrics"
	"github.com/dantte-lp/gobancho/internal/rpc"
	"github.com/dantte-lp/gobancho/internal/service"
	"github.com/dantte-lp/gobancho/internal/state"
	appversion "github.com/dantte-lp/gobancho/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight
// recorder. Captures the last 500ms of execution traces for debugging
// gateway stalls.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("gobancho starting",
		slog.String("version", appversion.Version),
		slog.String("gateway_addr", cfg.Gateway.Addr),
		slog.String("grpc_addr", cfg.GRPC.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	// 4. Start flight recorder for post-mortem debugging.
	fr := startFlightRecorder(logger)

	// 5. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := banchometrics.NewCollector(reg)

	// 6. Build the state engine and (optionally) restore the snapshot.
	store := state.NewStore(logger)
	queue := state.NewNotifyQueue()
	if err := maybeLoadSnapshot(cfg.Snapshot, store, queue, logger); err != nil {
		logger.Error("snapshot load failed",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 7. Run servers.
	if err := runServers(cfg, store, queue, collector, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("gobancho exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("gobancho stopped")
	return 0
}

// runServers wires the services, starts the gateway, RPC, and metrics
// servers, the background reapers, and blocks until shutdown.
func runServers(
	cfg *config.Config,
	store *state.Store,
	queue *state.NotifyQueue,
	collector *banchometrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	services, err := buildServices(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	gw := gateway.New(store, queue,
		services.users, services.signature, services.geoip, services.chat,
		collector, logger,
		gateway.Options{
			ConcurrencyLimit: cfg.Gateway.ConcurrencyLimit,
			RequestTimeout:   cfg.Gateway.RequestTimeout,
			LoginRetryMax:    cfg.Gateway.LoginRetryMax,
			LoginRetryWindow: cfg.Gateway.LoginRetryWindow,
		},
	)

	rpcSrv := rpc.NewServer(store, queue, services.signature, logger)
	grpcSrv := newGRPCServer(cfg.GRPC, rpcSrv, services, collector, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	// errgroup with signal-aware context.
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gateway listening", slog.String("addr", cfg.Gateway.Addr))
		return gw.Run(gCtx, cfg.Gateway.Addr, cfg.Gateway.TLSCert, cfg.Gateway.TLSKey)
	})

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("rpc server listening", slog.String("addr", cfg.GRPC.Addr))
		return listenAndServe(gCtx, &lc, grpcSrv, cfg.GRPC.Addr)
	})
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error { return rpcSrv.Run(gCtx) })

	startReapers(gCtx, g, cfg, store, queue, gw, collector, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, cfg.Snapshot, store, queue, logger, fr, grpcSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startReapers registers the idle-session, notify-queue, and
// password-cache recyclers.
func startReapers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	store *state.Store,
	queue *state.NotifyQueue,
	gw *gateway.Gateway,
	collector *banchometrics.Collector,
	logger *slog.Logger,
) {
	idleSweep := state.IdleSessionSweep(store, queue, cfg.Session.Deadline, bancho.UserLogoutNotice)
	notifySweep := state.NotifySweep(store, queue, cfg.Notify.MaxAge)

	countingIdle := func(now time.Time) int {
		n := idleSweep(now)
		collector.SessionsReaped.Add(float64(n))
		return n
	}
	countingNotify := func(now time.Time) int {
		n := notifySweep(now)
		collector.MessagesReaped.Add(float64(n))
		return n
	}

	reapers := []*state.Reaper{
		state.NewReaper("idle_sessions", cfg.Session.RecycleInterval, countingIdle, logger),
		state.NewReaper("notify_messages", cfg.Notify.RecycleInterval, countingNotify, logger),
		state.NewReaper("password_caches", cfg.PasswordCache.RecycleInterval, gw.PasswordCacheSweep(cfg.PasswordCache.TTL), logger),
	}
	for _, r := range reapers {
		r := r
		g.Go(func() error { return r.Run(ctx) })
	}
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload
// goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Collaborator Service Wiring
// -------------------------------------------------------------------------

// wiredServices bundles the resolved collaborator implementations.
type wiredServices struct {
	users     service.UserRepository
	signature service.SignatureService
	geoip     service.GeoIPService
	chat      service.ChatService

	// locals keeps the in-process implementations for the standalone
	// collaborator RPC surface; nil slots were configured remote.
	localUsers     *service.LocalUserRepository
	localSignature *service.LocalSignature
	localGeoip     *service.LocalGeoIP
	localChat      *service.LocalChat
}

// buildServices resolves each collaborator to its local implementation
// or a remote ConnectRPC client, per configuration.
func buildServices(cfg *config.Config, store *state.Store, logger *slog.Logger) (*wiredServices, error) {
	var ws wiredServices
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if cfg.Services.Users.Mode == config.ModeRemote {
		ws.users = rpc.NewRemoteUserRepository(httpClient, cfg.Services.Users.Addr)
	} else {
		ws.localUsers = service.NewLocalUserRepository()
		ws.users = ws.localUsers
	}

	if cfg.Services.Signature.Mode == config.ModeRemote {
		ws.signature = rpc.NewRemoteSignature(httpClient, cfg.Services.Signature.Addr)
	} else {
		local := service.NewLocalSignature()
		if path := cfg.Signature.Ed25519PrivateKeyPath; path != "" {
			if err := local.ReloadFromPemFile(context.Background(), path); err != nil {
				return nil, fmt.Errorf("load signing key: %w", err)
			}
		} else {
			logger.Warn("no ed25519 key configured, token signing will fail until a key is loaded via rpc")
		}
		ws.localSignature = local
		ws.signature = local
	}

	if cfg.Services.Geoip.Mode == config.ModeRemote {
		ws.geoip = rpc.NewRemoteGeoIP(httpClient, cfg.Services.Geoip.Addr)
	} else {
		ws.localGeoip = service.NewLocalGeoIP()
		ws.geoip = ws.localGeoip
	}

	if cfg.Services.Chat.Mode == config.ModeRemote {
		ws.chat = rpc.NewRemoteChat(httpClient, cfg.Services.Chat.Addr)
	} else {
		ws.localChat = service.NewLocalChat(func(username string) (int32, bool) {
			sess, ok := store.Get(state.ByUsername(username))
			if !ok {
				return 0, false
			}
			return sess.UserID, true
		})
		ws.chat = ws.localChat
	}

	return &ws, nil
}

// -------------------------------------------------------------------------
// Snapshots
// -------------------------------------------------------------------------

// maybeLoadSnapshot restores persisted state when configured. A corrupt
// snapshot is fatal when loading is mandatory.
func maybeLoadSnapshot(cfg config.SnapshotConfig, store *state.Store, queue *state.NotifyQueue, logger *slog.Logger) error {
	if !cfg.LoadOnStartup || cfg.Path == "" {
		return nil
	}

	doc, err := state.LoadSnapshot(cfg.Path, cfg.Format, time.Duration(cfg.ExpiredSecs)*time.Second)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no snapshot to load", slog.String("path", cfg.Path))
			return nil
		}
		return fmt.Errorf("load snapshot: %w", err)
	}

	state.Restore(doc, store, queue)
	logger.Info("snapshot restored",
		slog.String("path", cfg.Path),
		slog.Int("sessions", len(doc.Sessions)),
		slog.Int("messages", len(doc.Messages)),
	)
	return nil
}

// maybeSaveSnapshot persists state during shutdown when configured.
func maybeSaveSnapshot(cfg config.SnapshotConfig, store *state.Store, queue *state.NotifyQueue, logger *slog.Logger) {
	if !cfg.SaveOnShutdown || cfg.Path == "" {
		return
	}
	if err := state.SaveSnapshot(cfg.Path, cfg.Format, store, queue); err != nil {
		logger.Error("snapshot save failed",
			slog.String("path", cfg.Path),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("snapshot saved",
		slog.String("path", cfg.Path),
		slog.Int("sessions", store.Len()),
	)
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd. The
// interval is WatchdogSec/2 as recommended by the systemd docs. If the
// watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — dynamic log level
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP and reloads configuration. Only the
// log level takes effect without a restart; address or limit changes
// in the file are ignored until the next start. Blocks until the
// context is cancelled.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

// reloadConfig loads a fresh configuration and applies the dynamic
// parts. Errors are logged; the previous configuration stays in effect.
func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, saves
// the state snapshot, stops the flight recorder, then shuts down the
// HTTP servers. The parent context is already cancelled when this runs.
func gracefulShutdown(
	ctx context.Context,
	snapCfg config.SnapshotConfig,
	store *state.Store,
	queue *state.NotifyQueue,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	maybeSaveSnapshot(snapCfg, store, queue, logger)

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	// Detach from the cancelled parent so the drain gets its own budget.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder
// -------------------------------------------------------------------------

// startFlightRecorder initializes the runtime/trace FlightRecorder for
// post-mortem debugging. The recorder maintains a rolling window of
// execution trace data that can be dumped on demand.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig and
// serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics
// endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newGRPCServer creates the ConnectRPC HTTP server: the bancho-state
// service, the collaborator contracts served by the local
// implementations (standalone mode), and gRPC health checking. Wrapped
// with h2c so plaintext gRPC clients (gobanchoctl) can connect.
func newGRPCServer(cfg config.GRPCConfig, rpcSrv *rpc.Server, services *wiredServices, collector *banchometrics.Collector, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	interceptors := connect.WithInterceptors(
		rpc.LoggingInterceptor(logger, collector),
		rpc.RecoveryInterceptor(logger, collector),
	)

	rpcSrv.Register(mux, interceptors)

	// Serve the collaborator contracts only for the slots running
	// in-process; remote slots are owned by their peer services.
	if services.localUsers != nil && services.localSignature != nil &&
		services.localGeoip != nil && services.localChat != nil {
		rpc.RegisterCollaborators(mux,
			services.localUsers, services.localSignature,
			services.localGeoip, services.localChat,
			interceptors,
		)
	}

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		rpc.BanchoStateServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared
// LevelVar for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
