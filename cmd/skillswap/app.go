package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/dhamidi/skillswap/config"
	"github.com/dhamidi/skillswap/messaging"
	"github.com/dhamidi/skillswap/metrics"
	"github.com/dhamidi/skillswap/realtime/natsfeed"
	"github.com/dhamidi/skillswap/store"
	"github.com/dhamidi/skillswap/store/sqlitestore"
)

type globalFlags struct {
	configPath string
	dbPath     string
	user       string
	logLevel   string
}

// app holds everything a subcommand needs, wired from the config.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *sqlitestore.Store
	feed      *natsfeed.Feed
	metrics   *metrics.Metrics
	server    *http.Server
	opts      messaging.Options
	messenger *messaging.Messenger

	namesMu sync.Mutex
	names   map[string]string
}

// loadConfig reads the config file and applies the command line overrides.
func loadConfig(fs afero.Fs, flags *globalFlags) (*config.Config, error) {
	path := flags.configPath
	if path == "" {
		path = config.DefaultFile
	} else if _, err := fs.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	cfg, err := config.Load(fs, path)
	if err != nil {
		return nil, err
	}
	if flags.dbPath != "" {
		cfg.Database.Path = flags.dbPath
	}
	if flags.user != "" {
		cfg.Identity.User = flags.user
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(flags *globalFlags, stderr io.Writer) (*app, error) {
	cfg, err := loadConfig(afero.NewOsFs(), flags)
	if err != nil {
		return nil, err
	}
	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, names: make(map[string]string)}

	storeOpts := []sqlitestore.Option{sqlitestore.WithLogger(logger)}
	if cfg.NATS.URL != "" {
		a.feed, err = natsfeed.Connect(cfg.NATS.URL,
			natsfeed.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
			natsfeed.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, sqlitestore.WithFeed(a.feed))
		logger.Debug("change events routed through NATS", "url", cfg.NATS.URL)
	}

	a.store, err = sqlitestore.Open(cfg.Database.Path, storeOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics, err = metrics.New(reg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Metrics.Addr != "" {
		a.serveMetrics(reg)
	}

	a.opts = cfg.MessagingOptions()
	a.opts.Logger = logger
	a.opts.Metrics = a.metrics
	a.messenger = messaging.NewMessenger(a.store, store.StaticIdentity(cfg.Identity.User), a.opts)
	return a, nil
}

func (a *app) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.server = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics endpoint stopped", "addr", a.cfg.Metrics.Addr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", a.cfg.Metrics.Addr)
}

// Close releases everything newApp acquired, in reverse order.
func (a *app) Close() {
	if a.messenger != nil {
		a.messenger.Close()
	}
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.server.Shutdown(ctx)
		cancel()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing store", "error", err)
		}
	}
	if a.feed != nil {
		_ = a.feed.Close()
	}
}

// openTarget opens the thread named by arg, which is either a username or
// a conversation id.
func (a *app) openTarget(ctx context.Context, arg string) (*messaging.Thread, error) {
	p, err := messaging.FindProfileByUsername(ctx, a.store, arg)
	switch {
	case err == nil:
		return a.messenger.OpenWith(ctx, p.ID)
	case errors.Is(err, messaging.ErrNotFound):
		return a.messenger.Open(ctx, arg)
	default:
		return nil, err
	}
}

// displayName resolves and caches the display name of an identity.
func (a *app) displayName(ctx context.Context, id string) string {
	if id == a.cfg.Identity.User {
		return "you"
	}
	a.namesMu.Lock()
	defer a.namesMu.Unlock()
	if name, ok := a.names[id]; ok {
		return name
	}
	p, err := messaging.GetProfile(ctx, a.store, id)
	if err != nil {
		a.logger.Debug("profile lookup failed", "id", id, "error", err)
		return messaging.UnknownUser
	}
	name := messaging.DisplayName(p)
	a.names[id] = name
	return name
}

// describe turns err into the line shown to the user.
func describe(err error) string {
	if msg := messaging.UserMessage(err); msg != "" {
		return msg
	}
	return err.Error()
}

// withApp builds the app for one subcommand invocation and closes it afterwards.
func withApp(flags *globalFlags, run func(a *app) error) error {
	a, err := newApp(flags, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	return run(a)
}
