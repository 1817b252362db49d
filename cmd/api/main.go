// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lamemoria/baldosas/internal/api"
	"github.com/lamemoria/baldosas/internal/assets"
	"github.com/lamemoria/baldosas/internal/auth"
	"github.com/lamemoria/baldosas/internal/cache"
	"github.com/lamemoria/baldosas/internal/cluster"
	"github.com/lamemoria/baldosas/internal/config"
	"github.com/lamemoria/baldosas/internal/db"
	"github.com/lamemoria/baldosas/internal/health"
	"github.com/lamemoria/baldosas/internal/marker"
	"github.com/lamemoria/baldosas/internal/middleware"
	"github.com/lamemoria/baldosas/internal/moderation"
	"github.com/lamemoria/baldosas/internal/proposal"
	"github.com/lamemoria/baldosas/internal/scanlog"
	"github.com/lamemoria/baldosas/internal/tracing"
)

// cleanupInterval governs how often expired in-memory rate limit buckets are
// reaped. Must exceed the longest rate limit window.
const cleanupInterval = 2 * time.Hour

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file (env vars take precedence)")
	flag.Parse()

	if *help {
		fmt.Println("Baldosas API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	ctx := context.Background()

	// Distributed tracing (optional)
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "baldosas-api",
		Enabled:      cfg.OTLPEndpoint != "",
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: 1.0,
		InsecureMode: !cfg.IsProduction(),
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Database (optional in development; in-memory repositories otherwise)
	var conn *sql.DB
	if cfg.DatabaseURL != "" {
		conn, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		if err := db.VerifyPostGIS(ctx, conn); err != nil {
			logger.Error("PostGIS check failed", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected")
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory repositories")
	}

	// Redis (optional; pins cache and rate limiting fail open without it)
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup; consumers fail open", "error", err)
		} else {
			logger.Info("redis connected", "addr", cfg.RedisAddr)
		}
	}

	// Asset store: R2 when configured, local directory otherwise
	var store assets.Store
	var presigner api.Presigner
	if cfg.R2Configured() {
		r2, err := assets.NewR2Store(assets.R2Config{
			BucketName:      cfg.R2BucketName,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Endpoint:        cfg.R2Endpoint,
			MaxSizeMB:       cfg.R2MaxUploadSizeMB,
		})
		if err != nil {
			logger.Error("failed to initialize R2 store", "error", err)
			os.Exit(1)
		}
		store = r2
		presigner = r2
		logger.Info("asset store ready", "backend", "r2", "bucket", cfg.R2BucketName)
	} else {
		local, err := assets.NewLocalStore(cfg.AssetDir)
		if err != nil {
			logger.Error("failed to initialize local asset store", "error", err)
			os.Exit(1)
		}
		store = local
		logger.Info("asset store ready", "backend", "local", "dir", cfg.AssetDir)
	}

	// Repositories
	var (
		markers   marker.Repository
		proposals proposal.Repository
		clusters  cluster.Repository
		users     auth.UserRepository
		scanRepo  scanlog.Repository
	)
	if conn != nil {
		markers = marker.NewPostgresRepository(conn, logger)
		proposals = proposal.NewPostgresRepository(conn, logger)
		clusters = cluster.NewPostgresRepository(conn, logger)
		users = auth.NewPostgresUserRepository(conn, logger)
		scanRepo = scanlog.NewPostgresRepository(conn, logger)
	} else {
		markers = marker.NewInMemoryRepository()
		proposals = proposal.NewInMemoryRepository()
		clusters = cluster.NewInMemoryRepository()
		users = auth.NewInMemoryUserRepository()
		scanRepo = scanlog.NewInMemoryRepository()
	}

	// Services
	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	scans := scanlog.NewService(scanRepo, markers, logger)
	converter := moderation.NewService(proposals, markers, clusters, store, logger)
	var pins *cache.PinsCache
	if redisClient != nil {
		pins = cache.NewPinsCache(redisClient, cache.DefaultPinsTTL, logger)
	}

	// Metrics
	metrics := middleware.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	// Rate limit store: Redis when available so limits hold across instances
	var limitStore middleware.RateLimitStore
	if redisClient != nil {
		limitStore = middleware.NewRedisRateLimitStore(redisClient)
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		limitStore = memStore
		go func() {
			ticker := time.NewTicker(cleanupInterval)
			defer ticker.Stop()
			for range ticker.C {
				memStore.Cleanup()
			}
		}()
	}

	// Health checkers
	healthCfg := api.HealthHandlersConfig{StoreChecker: health.NewStoreChecker(store)}
	if conn != nil {
		healthCfg.DBChecker = health.NewDBChecker(conn)
	}
	if redisClient != nil {
		healthCfg.RedisChecker = health.NewRedisChecker(redisClient)
	}

	handler := newRouter(routerDeps{
		logger:     logger,
		metrics:    metrics,
		registry:   registry,
		jwtService: jwtService,
		limitStore: limitStore,
		cors:       cfg.CORSAllowedOrigins,

		markerH:    api.NewMarkerHandlers(markers, clusters, pins, scans, metrics),
		proposalH:  api.NewProposalHandlers(proposals, converter),
		clusterH:   api.NewClusterHandlers(clusters, markers),
		authH:      api.NewAuthHandlers(users, jwtService, cfg.IsProduction()),
		proximityH: api.NewProximityWSHandlers(markers, scans, metrics, logger),
		healthH:    api.NewHealthHandlers(healthCfg),
		uploadH:    newUploadHandlers(presigner),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// newUploadHandlers returns nil when direct uploads are not available, which
// unregisters the route.
func newUploadHandlers(presigner api.Presigner) *api.UploadHandlers {
	if presigner == nil {
		return nil
	}
	return api.NewUploadHandlers(presigner)
}

// routerDeps carries everything newRouter needs to assemble the HTTP surface.
type routerDeps struct {
	logger     *slog.Logger
	metrics    *middleware.Metrics
	registry   *prometheus.Registry
	jwtService *auth.JWTService
	limitStore middleware.RateLimitStore
	cors       []string

	markerH    *api.MarkerHandlers
	proposalH  *api.ProposalHandlers
	clusterH   *api.ClusterHandlers
	authH      *api.AuthHandlers
	proximityH *api.ProximityWSHandlers
	healthH    *api.HealthHandlers
	uploadH    *api.UploadHandlers
}

// newRouter builds the full route table with per-class rate limits and
// moderator gates. The outer middleware chain is
// RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS -> Authenticate -> global limit.
func newRouter(deps routerDeps) http.Handler {
	authLimit := middleware.RateLimiter(deps.limitStore, middleware.DefaultAuthLimit(), middleware.IPKeyFunc())
	proposalLimit := middleware.RateLimiter(deps.limitStore, middleware.DefaultProposalLimit(), middleware.UserKeyFunc())
	nearbyLimit := middleware.RateLimiter(deps.limitStore, middleware.DefaultNearbyLimit(), middleware.UserKeyFunc())

	moderator := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireModerator(h)
	}

	mux := http.NewServeMux()

	// Probes and metrics bypass the rate limiters entirely.
	mux.HandleFunc("/health", deps.healthH.Health)
	mux.HandleFunc("/ready", deps.healthH.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{}))

	// Auth
	mux.Handle("/auth/register", authLimit(methodHandler(http.MethodPost, deps.authH.Register)))
	mux.Handle("/auth/login", authLimit(methodHandler(http.MethodPost, deps.authH.Login)))
	mux.Handle("/auth/refresh", authLimit(methodHandler(http.MethodPost, deps.authH.Refresh)))
	mux.Handle("/auth/logout", methodHandler(http.MethodPost, deps.authH.Logout))
	mux.Handle("/auth/me", methodHandler(http.MethodGet, deps.authH.Me))

	// Markers
	mux.Handle("/markers/nearby", nearbyLimit(methodHandler(http.MethodGet, deps.markerH.Nearby)))
	mux.Handle("/markers/pins", methodHandler(http.MethodGet, deps.markerH.Pins))
	mux.HandleFunc("/markers/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/scan") {
			deps.markerH.IncrementScan(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			deps.markerH.GetMarker(w, r)
		case http.MethodPatch:
			moderator(deps.markerH.UpdateMarker).ServeHTTP(w, r)
		case http.MethodDelete:
			moderator(deps.markerH.DeactivateMarker).ServeHTTP(w, r)
		default:
			writeMethodNotAllowed(w, r)
		}
	})

	// Scans
	mux.Handle("/scans", middleware.RequireAuth(methodHandler(http.MethodPost, deps.markerH.RecordScan)))

	// Proposals: submissions are public, everything else is moderation.
	mux.HandleFunc("/proposals", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			proposalLimit(http.HandlerFunc(deps.proposalH.CreateProposal)).ServeHTTP(w, r)
		case http.MethodGet:
			moderator(deps.proposalH.ListProposals).ServeHTTP(w, r)
		default:
			writeMethodNotAllowed(w, r)
		}
	})
	mux.HandleFunc("/proposals/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/convert") {
			moderator(deps.proposalH.ConvertProposal).ServeHTTP(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			moderator(deps.proposalH.GetProposal).ServeHTTP(w, r)
		case http.MethodPatch:
			moderator(deps.proposalH.ModerateProposal).ServeHTTP(w, r)
		case http.MethodDelete:
			moderator(deps.proposalH.DeleteProposal).ServeHTTP(w, r)
		default:
			writeMethodNotAllowed(w, r)
		}
	})

	// Clusters
	mux.HandleFunc("/clusters", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			deps.clusterH.ListNearby(w, r)
		case http.MethodPost:
			moderator(deps.clusterH.CreateCluster).ServeHTTP(w, r)
		default:
			writeMethodNotAllowed(w, r)
		}
	})
	mux.HandleFunc("/clusters/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/compiled") {
			moderator(deps.clusterH.RecordCompiled).ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/manifest") {
			deps.clusterH.Manifest(w, r)
			return
		}
		if r.Method == http.MethodGet {
			deps.clusterH.GetCluster(w, r)
			return
		}
		writeMethodNotAllowed(w, r)
	})

	// Uploads (only when a presigning backend is configured)
	if deps.uploadH != nil {
		mux.Handle("/uploads/sign", middleware.RequireAuth(methodHandler(http.MethodPost, deps.uploadH.SignUpload)))
	}

	// Proximity WebSocket
	mux.Handle("/proximity/ws", methodHandler(http.MethodGet, deps.proximityH.Session))

	// Root
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"baldosas-api","version":"0.0.1"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	globalLimit := middleware.RateLimiter(deps.limitStore, middleware.DefaultGlobalLimit(), middleware.UserKeyFunc())

	var handler http.Handler = globalLimit(mux)
	handler = middleware.Authenticate(deps.jwtService)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   deps.cors,
		AllowCredentials: true,
	})(handler)
	handler = middleware.HTTPMetrics(deps.metrics)(handler)
	handler = middleware.Logging(deps.logger)(handler)
	handler = middleware.Tracing("baldosas-api")(handler)
	handler = middleware.RequestID(handler)

	return handler
}

// methodHandler restricts a handler to a single HTTP method.
func methodHandler(method string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeMethodNotAllowed(w, r)
			return
		}
		h(w, r)
	})
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeBadRequest)
	api.WriteError(w, ctx, http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
}
