// Package app wires the Twootr server runtime: config, logging, storage
// backends, the broadcast core, HTTP routes and the WebSocket gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"twootr/cmd/identity"
	"twootr/cmd/internal/api"
	"twootr/cmd/internal/database"
	"twootr/cmd/internal/metrics"
	"twootr/cmd/internal/realtime"
	"twootr/cmd/internal/storage"
	"twootr/cmd/internal/twootr"
	"twootr/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// App is the Twootr server runtime. It owns the connection pools, the core
// and everything mounted on the HTTP server.
type App struct {
	cfg Config
	log Logger

	pool  *pgxpool.Pool
	redis *redis.Client

	verifier *identity.Verifier
	graph    twootr.FollowGraph
	posts    twootr.PostLog
	core     *twootr.Twootr

	registry *prometheus.Registry
	ws       *realtime.WSGateway
	api      *api.Handler
}

// New constructs a fully wired App. Resources opened before a failure are
// released before New returns.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg)
	}
	a := &App{cfg: cfg, log: log}

	ready := false
	defer func() {
		if !ready {
			a.closeStores()
		}
	}()

	var err error

	if cfg.DatabaseURL != "" {
		if a.pool, err = OpenDB(ctx, cfg, log); err != nil {
			return nil, err
		}
	} else {
		log.Info("db.disabled", "follow_graph", cfg.FollowGraph, "post_log", cfg.PostLog)
	}

	if cfg.RedisAddr != "" {
		a.redis, err = storage.NewRedisClient(ctx, storage.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		log.Info("redis.enabled", "addr", cfg.RedisAddr)
	}

	if a.verifier, err = newVerifier(cfg, log, a.pool); err != nil {
		return nil, err
	}
	if err = seedDevUsers(ctx, log, a.verifier, cfg.DevUsers); err != nil {
		return nil, err
	}

	if a.graph, err = a.newFollowGraph(); err != nil {
		return nil, err
	}
	if a.posts, err = a.newPostLog(); err != nil {
		return nil, err
	}

	opts := []twootr.Option{
		twootr.WithFollowGraph(a.graph),
		twootr.WithLimits(twootr.Limits{
			MaxPostChars:    cfg.MaxPostChars,
			DeliveryTimeout: cfg.DeliveryTimeout,
			QueueSize:       cfg.QueueSize,
		}),
	}
	if a.posts != nil {
		opts = append(opts, twootr.WithPostLog(a.posts))
	}

	var connMetrics realtime.ConnMetrics
	if cfg.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector := metrics.NewCollector(a.registry)
		opts = append(opts, twootr.WithMetrics(collector))
		connMetrics = collector
	}

	if a.core, err = twootr.New(log, a.verifier, opts...); err != nil {
		return nil, err
	}
	a.ws = realtime.NewWSGateway(log, a.core, connMetrics)

	apiOpts := []api.HandlerOption{}
	if a.posts != nil {
		apiOpts = append(apiOpts, api.WithPostLog(a.posts))
	}
	if cfg.Registration {
		apiOpts = append(apiOpts, api.WithRegistrar(a.verifier))
	}
	if a.api, err = api.NewHandler(log, a.graph, apiOpts...); err != nil {
		return nil, err
	}

	ready = true
	return a, nil
}

// Core exposes the broadcast core (tests, embedding).
func (a *App) Core() *twootr.Twootr { return a.core }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.pool != nil,
		"redis_enabled", a.redis != nil,
		"follow_graph", a.cfg.FollowGraph,
		"post_log", a.cfg.PostLog,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Hijacked WebSocket conns are not tracked by Shutdown; the core closes
	// them by terminating every session.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close terminates every session, waits for delivery workers and releases
// the stores.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.core != nil {
		if cerr := a.core.Close(ctx); cerr != nil {
			a.log.Error("twootr.close.fail", "err", cerr)
			err = cerr
		}
	}
	a.closeStores()
	return err
}

func (a *App) closeStores() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// OpenDB opens the pool and, when configured, applies pending migrations.
func OpenDB(ctx context.Context, cfg Config, log Logger) (*pgxpool.Pool, error) {
	pool, err := database.NewPool(ctx, database.PoolConfig{
		URL:      cfg.DatabaseURL,
		Schema:   cfg.DBSchema,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	log.Info("db.enabled", "schema", cfg.DBSchema)

	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx, pool, cfg.DatabaseURL, cfg.DBSchema, database.Up); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		log.Info("db.migrated", "schema", cfg.DBSchema)
	}
	return pool, nil
}

// NewUserVerifier builds the credential verifier over Postgres when pool is
// non-nil and over an in-memory directory otherwise.
func NewUserVerifier(cfg Config, log Logger, pool *pgxpool.Pool) (*identity.Verifier, error) {
	return newVerifier(cfg, log, pool)
}

func newVerifier(cfg Config, log Logger, pool *pgxpool.Pool) (*identity.Verifier, error) {
	pw, err := password.FromEnv(password.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}

	var dir identity.Directory = identity.NewMemoryDirectory()
	if pool != nil {
		pg, err := identity.NewPostgresDirectory(pool, identity.WithSchema(cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		dir = pg
	}
	return identity.NewVerifier(log, dir, pw)
}

func seedDevUsers(ctx context.Context, log Logger, v *identity.Verifier, users map[string]string) error {
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		err := v.Register(ctx, identity.NormalizeUserID(id), users[id])
		switch {
		case err == nil:
		case identity.IsConflict(err):
			log.Debug("dev_user.exists", "user_id", id)
		default:
			return fmt.Errorf("dev user %q: %w", id, err)
		}
	}
	if len(ids) > 0 {
		log.Warn("dev_users.seeded", "count", len(ids))
	}
	return nil
}

func (a *App) newFollowGraph() (twootr.FollowGraph, error) {
	switch a.cfg.FollowGraph {
	case BackendPostgres:
		if a.pool == nil {
			return nil, errors.New("follow graph postgres: database not configured")
		}
		return storage.NewPostgresFollowGraph(a.pool, storage.WithSchema(a.cfg.DBSchema))
	case BackendRedis:
		if a.redis == nil {
			return nil, errors.New("follow graph redis: redis not configured")
		}
		return storage.NewRedisFollowGraph(a.redis, a.cfg.RedisPrefix)
	default:
		return twootr.NewMemoryFollowGraph(), nil
	}
}

// newPostLog returns nil for BackendNone.
func (a *App) newPostLog() (twootr.PostLog, error) {
	switch a.cfg.PostLog {
	case BackendPostgres:
		if a.pool == nil {
			return nil, errors.New("post log postgres: database not configured")
		}
		return storage.NewPostgresPostLog(a.pool, storage.WithSchema(a.cfg.DBSchema))
	case BackendMemory:
		return storage.NewMemoryPostLog(a.cfg.PostLogMemoryLimit), nil
	default:
		return nil, nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
