package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deepguard/internal/api"
	"deepguard/internal/config"
	"deepguard/internal/detect"
	"deepguard/internal/fallback"
	"deepguard/internal/normalize"
	"deepguard/internal/observability"
	"deepguard/internal/prediction"
	"deepguard/internal/probe"
	"deepguard/internal/registry"
	"deepguard/internal/stats"
	"deepguard/internal/store"
)

type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *registry.Registry
	Detector *detect.Service
	Observer *observability.DetectionObserver
	Prober   probe.Prober

	// Optional; nil when not configured.
	Store  *store.Store
	Stats  *stats.Counters
	Sentry *observability.SentryReporter
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg, err := registry.Load(cfg.Provider.RegistryPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Prober:   probe.Prober{URL: cfg.Probe.URL, Token: cfg.Provider.APIToken, Timeout: cfg.Probe.Timeout},
	}

	a.Sentry, err = observability.NewSentryReporter(cfg.Sentry.DSN, cfg.Sentry.Environment)
	if err != nil {
		return nil, err
	}
	if cfg.Database.DSN != "" {
		a.Store, err = store.Open(cfg.Database.DSN, logger.Named("store"))
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx, a.Store.DB()); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	if cfg.Redis.URL != "" {
		a.Stats, err = stats.New(cfg.Redis.URL, logger.Named("stats"))
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	var reporter observability.Reporter
	if a.Sentry != nil {
		reporter = a.Sentry
	}
	a.Observer = observability.NewDetectionObserver(logger.Named("detect"), reporter)

	recorders := []observability.Recorder{a.Observer}
	if a.Stats != nil {
		recorders = append(recorders, a.Stats)
	}
	if a.Store != nil {
		recorders = append(recorders, a.Store)
	}

	norm := normalize.New(cfg.Provider.Threshold)
	a.Detector = detect.New(detect.Deps{
		Registry:       reg,
		Predictor:      prediction.NewClient(cfg.Provider.BaseURL, cfg.Provider.CallTimeout, logger.Named("prediction")),
		SyncTasks:      prediction.NewSyncClient(cfg.Hive.BaseURL, cfg.Hive.CallTimeout, logger.Named("sync")),
		Normalizer:     norm,
		Fallback:       fallback.New(reg.DefaultID(), norm.Threshold()),
		Credential:     cfg.Provider.APIToken,
		SyncCredential: cfg.Hive.APIKey,
		Poll: prediction.PollOptions{
			Interval:    cfg.Provider.PollInterval,
			MaxAttempts: cfg.Provider.MaxAttempts,
		},
		Logger:   logger.Named("detect"),
		Recorder: observability.Fanout(recorders...),
	})
	if cfg.Provider.APIToken == "" {
		logger.Warn("provider API token not configured; /detect will answer with a configuration error")
	}
	for _, d := range reg.Descriptors() {
		if d.Protocol == registry.ProtocolSyncTask && cfg.Hive.APIKey == "" {
			logger.Warn("sync task model registered without an API key", zap.String("model_id", d.ID))
		}
	}
	return a, nil
}

func (a *App) Close() error {
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	if a.Stats != nil {
		_ = a.Stats.Close()
	}
	a.Sentry.Flush(2 * time.Second)
	return err
}

// Handler returns the full HTTP stack: routes wrapped in CORS and request logging.
func (a *App) Handler() (http.Handler, error) {
	h, err := api.NewHandler(a.Detector, a.Registry, a.Logger.Named("api"))
	if err != nil {
		return nil, err
	}
	h.Provider = a.Prober
	if a.Stats != nil {
		h.Stats = a.Stats
		h.Redis = a.Stats
	}
	if a.Store != nil {
		h.Audit = a.Store
		h.Database = a.Store
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return api.WithRequestLog(a.Logger.Named("http"), api.WithCORS(a.Config.HTTP.AllowOrigins, mux)), nil
}

// Serve blocks until ctx is cancelled, then shuts the server down gracefully.
func (a *App) Serve(ctx context.Context) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
