package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"docbridge/bus"
	"docbridge/chat"
	"docbridge/config"
	"docbridge/fetch"
	"docbridge/obs"
	"docbridge/openthebox"
	"docbridge/poll"
	"docbridge/render"
	"docbridge/session"
	"docbridge/store"
	"docbridge/submit"
)

// app is one process worth of wiring: a single store, bus, session and chat dispatcher.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	kv      store.KV
	ids     *store.JobIDStore
	bus     *bus.Bus
	session *session.Session
	poller  *poll.Poller
	chat    *chat.Dispatcher
	company *openthebox.Client

	stop     []func()
	shutdown obs.Shutdown
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	shutdown, logger := obs.Init("docbridge", cfg.Obs.LogLevel, cfg.Obs.OTLPEndpoint)
	a, err := wire(ctx, cfg, fetch.NewClient(nil), logger)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}
	a.shutdown = shutdown

	if cfg.Obs.MetricsAddr != "" {
		go serveMetrics(cfg.Obs.MetricsAddr)
	}
	return a, nil
}

// wire builds the component graph over cfg. It also starts the Redis bus mirror when the store is
// Redis-backed and mirroring is enabled.
func wire(ctx context.Context, cfg *config.Config, client *http.Client, logger *slog.Logger) (*app, error) {
	kv, err := store.Open(cfg.Store.Backend, cfg.Store.Path, cfg.RedisOptions())
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		kv:       kv,
		ids:      store.NewJobIDStore(kv),
		bus:      bus.New(),
		shutdown: func(context.Context) error { return nil },
	}

	if rkv, ok := kv.(*store.RedisKV); ok && cfg.Store.MirrorBus {
		mctx, cancel := context.WithCancel(ctx)
		m := bus.NewRedisMirror(rkv.Client(), a.bus, "", logger)
		go func() {
			if err := m.Run(mctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("bus.mirror.exit", "error", err)
			}
		}()
		a.stop = append(a.stop, cancel)
	}

	r := render.New()
	sub := submit.New(cfg.SubmitOptions(), client, a.ids, a.bus, nil, logger)
	a.session = session.New(session.Deps{
		Submitter: sub,
		IDs:       a.ids,
		Bus:       a.bus,
		Renderer:  r,
		Grace:     cfg.Grace(),
		Logger:    logger,
	})
	a.poller = poll.New(cfg.PollOptions(), poll.Deps{
		Client:   client,
		Renderer: r,
		IDs:      a.ids,
		Bus:      a.bus,
		Sink:     a.session,
		Logger:   logger,
	})
	a.session.Bind(a.poller)

	a.chat = chat.New(cfg.ChatOptions(), client, nil, logger)
	a.stop = append(a.stop, a.chat.Track(a.bus))
	a.company = openthebox.New("", client, logger)
	return a, nil
}

// restore loads the saved job and locale and hands the locale to the chat dispatcher. The id
// reaches the dispatcher through the bus. A store without a saved locale starts from the
// configured one.
func (a *app) restore(ctx context.Context) error {
	if _, ok, err := a.kv.Get(ctx, store.KeyLocale); err == nil && !ok {
		if err := a.ids.SaveLocale(ctx, a.cfg.DefaultLocale()); err != nil {
			a.logger.Warn("session.locale_save_error", "error", err)
		}
	}
	if _, _, err := a.session.Restore(ctx); err != nil {
		return err
	}
	a.chat.SetLocale(a.session.View().Locale)
	return nil
}

func (a *app) close() {
	a.session.Close()
	for i := len(a.stop) - 1; i >= 0; i-- {
		a.stop[i]()
	}
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("store.close_error", "error", err)
	}
	_ = a.shutdown(context.Background())
}
