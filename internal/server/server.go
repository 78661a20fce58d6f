package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"debugarena/internal/anticheat"
	"debugarena/internal/api"
	"debugarena/internal/assignment"
	"debugarena/internal/authoring"
	"debugarena/internal/event"
	"debugarena/internal/executor"
	"debugarena/internal/leaderboard"
	"debugarena/internal/session"
	"debugarena/internal/store/memory"
	pgstore "debugarena/internal/store/postgres"
	"debugarena/internal/telemetry"
	"debugarena/internal/verify"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Executor struct {
		BaseURL string
		Timeout time.Duration
	}

	Leaderboard struct {
		CacheTTL time.Duration
	}
}

// store is the union of every storage slice the services consume. Both the
// Postgres store and the in-memory demo store satisfy it.
type store interface {
	assignment.Store
	session.Store
	authoring.Store
	anticheat.Store
	leaderboard.Store
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
		store    store
	}

	service struct {
		loader      *assignment.Service
		registry    *session.Registry
		leaderboard *leaderboard.Service
		authoring   *authoring.Service
		anticheat   *anticheat.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initStore(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	if len(s.c.Redis.Addrs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initStore() error {
	if s.c.Postgres.Addr == "" {
		// Demo mode: everything lives in process memory.
		slog.Warn("server: no postgres configured, using in-memory store")
		s.infra.store = memory.NewStore()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	s.infra.store = pgstore.New(db)
	return nil
}

func (s *Server) initService() {
	var runner verify.Runner
	if s.c.Executor.BaseURL != "" {
		runner = executor.NewClient(executor.Config{
			BaseURL: s.c.Executor.BaseURL,
			Timeout: s.c.Executor.Timeout,
		})
	} else {
		slog.Warn("server: no executor configured, verification uses code comparison only")
	}

	verifier := verify.New(verify.Config{Runner: runner})

	s.service.loader = assignment.NewService(assignment.Config{
		Store: s.infra.store,
	})

	s.service.anticheat = anticheat.NewService(anticheat.Config{
		Store: s.infra.store,
	})

	s.service.registry = session.NewRegistry(session.RegistryConfig{
		Loader:   s.service.loader,
		Store:    s.infra.store,
		Verifier: verifier,
		Cheats:   s.service.anticheat,
		EventBus: s.eb,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		Store:    s.infra.store,
		Redis:    s.infra.redis,
		EventBus: s.eb,
		Prefix:   s.c.Redis.Prefix,
		CacheTTL: s.c.Leaderboard.CacheTTL,
	})

	s.service.authoring = authoring.NewService(authoring.Config{
		Store: s.infra.store,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), api.RequestLogger())

	var rdb api.Redis
	if s.infra.redis != nil {
		rdb = s.infra.redis
	}

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Registry:     s.service.registry,
		Leaderboard:  s.service.leaderboard,
		Authoring:    s.service.authoring,
		Anticheat:    s.service.anticheat,
		Redis:        rdb,
		PubsubPrefix: s.c.Redis.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.Background()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}
	if s.infra.redis != nil {
		_ = s.infra.redis.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
