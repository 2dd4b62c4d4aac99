package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"formapi/internal/cache"
	"formapi/internal/config"
	"formapi/internal/database"
	"formapi/internal/handlers"
	"formapi/internal/middlewares"
	"formapi/internal/repositories"
	"formapi/internal/routes"
	"formapi/internal/services"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Logger    *zap.Logger
	Store     services.ProjectStore
	Writer    services.ProjectWriter
	Usage     services.UsageReader
	Grace     services.GraceTracker
	Fallback  services.FallbackCache
	Authority services.UtilizationChecker
	DB        handlers.Pinger
}

type Server struct {
	HTTP  *http.Server
	Cache *services.ProjectCache
	Gate  *services.LicenseGate

	closers []func()
}

// New builds the router and the http.Server around deps.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	projectCache := services.NewProjectCache(deps.Store, deps.Fallback, deps.Authority, services.ProjectCacheConfig{
		Hosted:     cfg.Hosted,
		TTL:        cfg.License.CacheTTL,
		TrialDays:  cfg.TrialDays,
		LicenseKey: cfg.License.Key,
	})
	gate := services.NewLicenseGate(deps.Authority, deps.Grace, services.GateConfig{
		Hosted:            cfg.Hosted,
		Remote:            cfg.License.Remote,
		AdminProject:      cfg.AdminProject,
		LicenseKey:        cfg.License.Key,
		GraceWindow:       cfg.License.GraceWindow,
		NoFormUtilization: cfg.License.NoFormUtilization,
	})

	resourceHandler, err := handlers.NewResourceHandler(cfg.ResourceServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid resource server url: %w", err)
	}
	projectService := services.NewProjectService(deps.Writer, deps.Usage, cfg.Hosted)
	projectHandler := handlers.NewProjectHandler(projectService, projectCache)
	healthHandler := handlers.NewHealthHandler(deps.DB)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middlewares.RequestID(deps.Logger),
		gin.Recovery(),
		middlewares.Logging(),
		middlewares.Metrics(),
		// The user must be on the request scope before CORS loads a project.
		middlewares.ParseToken([]byte(cfg.AccessTokenSecret)),
		middlewares.CORS(projectCache),
	)
	routes.RegisterRoutes(router, projectHandler, resourceHandler, healthHandler, projectCache, gate)

	resolver := services.NewAliasResolver(projectCache, cfg.NoAlias, cfg.ReservedSubdomains)
	handler := middlewares.RequestScope(middlewares.Alias(resolver)(router))

	return &Server{
		HTTP: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Cache: projectCache,
		Gate:  gate,
	}, nil
}

// NewServer connects to Postgres and Redis and builds the server on top of
// them.
func NewServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	pool, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	closers := []func(){pool.Close}
	fail := func(err error) (*Server, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	if cfg.Database.Migrate {
		if err := database.RunMigrations(ctx, pool, log); err != nil {
			return fail(err)
		}
	}

	gormDB, err := database.OpenGorm(pool)
	if err != nil {
		return fail(err)
	}

	var fallback services.FallbackCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = rdb.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fail(fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err))
		}
		log.Info("Connected to Redis successfully")
		fallback = repositories.NewRedisRepository(rdb)
	} else {
		projects := cache.NewProjects()
		janitorCtx, stop := context.WithCancel(context.Background())
		go projects.Janitor(janitorCtx, time.Minute)
		closers = append(closers, stop)
		fallback = projects
	}

	projectRepo := repositories.NewProjectRepository(pool)
	usageRepo := repositories.NewUsageRepository(gormDB)
	authority := services.NewLicenseClient(cfg.License.ServerURL, cfg.License.Timeout, !cfg.Hosted)

	srv, err := New(cfg, Deps{
		Logger:    log,
		Store:     projectRepo,
		Writer:    projectRepo,
		Usage:     usageRepo,
		Grace:     usageRepo,
		Fallback:  fallback,
		Authority: authority,
		DB:        pool,
	})
	if err != nil {
		return fail(err)
	}
	srv.closers = closers
	return srv, nil
}

// Shutdown stops accepting requests, drains background license work and
// releases connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTP.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.Gate.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("background license work: %w", ctx.Err()))
	}

	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	return err
}
