package main

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/api"
	"github.com/roommate-match/go-client/chat"
	"github.com/roommate-match/go-client/config"
	"github.com/roommate-match/go-client/env"
	"github.com/roommate-match/go-client/kv"
	"github.com/roommate-match/go-client/logger"
	"github.com/roommate-match/go-client/metrics"
	"github.com/roommate-match/go-client/realtime"
	"github.com/roommate-match/go-client/session"
	"github.com/roommate-match/go-client/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	version = "dev"
	commit  = "unknown"
)

const serviceName = "roommate"

var rootCmd = &cobra.Command{
	Use:               "roommate",
	Short:             "Chat and negotiate roommate matches from the terminal",
	Version:           version + " (commit: " + commit + ")",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file path (default is "+config.DefaultPath()+")")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "", "log format: console or json")
	flags.String("api-base", "", "REST api base url")
	flags.String("ws-base", "", "realtime base url, derived from --api-base when empty")
	flags.String("session", "", "SQLite file the session is kept in")
	flags.String("redis-url", "", "keep the session in Redis instead of SQLite")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.String("otlp-url", "", "OTLP/HTTP collector url")
	flags.String("otlp-token", "", "OTLP collector bearer token")
	flags.Bool("no-telemetry", false, "disable telemetry export")
}

// app is the wiring shared by every command.
type app struct {
	cfg      config.Config
	logger   logger.Logger
	store    kv.Store
	sessions *session.Store
	client   *api.Client
	dialer   *realtime.Dialer

	span    trace.Span
	closers []func()
}

var current = &app{}

func setup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if _, err := env.LoadEnvFile(".env"); err != nil {
		return err
	}
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if apiBase := env.FlagOrEnv(cmd, "api-base", "ROOMMATE_API_BASE", cfg.APIBase); apiBase != cfg.APIBase {
		cfg.APIBase = apiBase
		cfg.RealtimeBase = ""
	}
	cfg.RealtimeBase = env.FlagOrEnv(cmd, "ws-base", "ROOMMATE_WS_BASE", cfg.RealtimeBase)
	cfg.Session.Path = env.FlagOrEnv(cmd, "session", "ROOMMATE_SESSION_PATH", cfg.Session.Path)
	cfg.Session.RedisURL = env.FlagOrEnv(cmd, "redis-url", "ROOMMATE_REDIS_URL", cfg.Session.RedisURL)
	cfg.MetricsAddr = env.FlagOrEnv(cmd, "metrics-addr", "ROOMMATE_METRICS_ADDR", cfg.MetricsAddr)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a := current
	a.cfg = cfg

	log := env.NewLogger(cmd, cfg.Log.Level, cfg.Log.Format)
	if !cfg.Telemetry.Disabled || cmd.Flags().Changed("otlp-url") {
		tlog, shutdown, err := env.NewTelemetry(ctx, cmd, serviceName, log, cfg.Telemetry.URL, cfg.Telemetry.Token)
		if err != nil {
			return err
		}
		log = tlog
		a.closers = append(a.closers, shutdown)
	}
	ctx, log, a.span = telemetry.StartSpan(ctx, log, otel.Tracer(serviceName), cmd.CommandPath())
	cmd.SetContext(ctx)
	a.logger = log

	if err := a.openStore(ctx); err != nil {
		return err
	}
	a.sessions = session.New(ctx, a.store, session.WithKey(cfg.Session.Key), session.WithLogger(log))
	a.client, err = api.New(cfg.APIBase, a.sessions,
		api.WithTimeout(cfg.Timeout.Std()),
		api.WithRefreshPath(cfg.RefreshPath),
		api.WithLogger(log),
	)
	if err != nil {
		return err
	}
	a.dialer = &realtime.Dialer{BaseURL: cfg.RealtimeBase, Logger: log}

	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	opts := []kv.Option{kv.WithTTL(a.cfg.Session.TTL.Std()), kv.WithQueryTimeout(a.cfg.Timeout.Std())}
	if a.cfg.Session.RedisURL != "" {
		store, closer, err := kv.NewRedisURL(a.cfg.Session.RedisURL, append(opts, kv.WithPrefix(serviceName+":"))...)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() { closer() })
		return nil
	}
	store, err := kv.NewSQLite(ctx, a.cfg.Session.Path, opts...)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() { store.Close() })
	return nil
}

func (a *app) serveMetrics(addr string) {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed: %s", err)
		}
	}()
	a.logger.Debug("serving metrics on %s", addr)
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	if a.span != nil {
		a.span.End()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// requireLogin fails unless a session is present.
func (a *app) requireLogin() error {
	if _, ok := a.sessions.Get(); !ok {
		return errors.New("not logged in, run roommate login first")
	}
	return nil
}

func (a *app) orchestrator(listener chat.Listener) (*chat.Orchestrator, error) {
	if err := a.requireLogin(); err != nil {
		return nil, err
	}
	return chat.New(chat.Options{
		Service:  a.client,
		Dialer:   a.dialer,
		Sessions: a.sessions,
		Listener: listener,
		Logger:   a.logger,
	})
}

