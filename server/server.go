package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tunedeck/tunedeck/config"
	"github.com/tunedeck/tunedeck/credentials"
	"github.com/tunedeck/tunedeck/engine"
	"github.com/tunedeck/tunedeck/errors"
	"github.com/tunedeck/tunedeck/handlers"
	"github.com/tunedeck/tunedeck/middleware"
	"github.com/tunedeck/tunedeck/spotify"
	"github.com/tunedeck/tunedeck/store"
)

const (
	ReadTimeout     = 15 * time.Second
	WriteTimeout    = 60 * time.Second
	IdleTimeout     = 120 * time.Second
	ShutdownTimeout = 30 * time.Second

	// ExpirySweepInterval controls how often logically expired rows are
	// physically deleted.
	ExpirySweepInterval = 24 * time.Hour
)

// Server wires the store, upstream client, engine, and HTTP layer, and
// owns the background refresh and expiry-sweep loops.
type Server struct {
	config       *config.Config
	logger       *logrus.Logger
	store        *store.Store
	credentials  *credentials.Manager
	engine       *engine.Engine
	handlers     *handlers.Handler
	server       *http.Server
	rateLimiter  *rate.Limiter
	refreshTick  *time.Ticker
	sweepTick    *time.Ticker
	shutdownChan chan struct{}
}

func New(cfg *config.Config) (*Server, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Invalid log level, defaulting to info")
	}
	logger.SetLevel(level)

	poolConfig := &store.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		HealthCheck:     cfg.DBHealthCheck,
	}

	st, err := store.NewWithPool(cfg.DatabasePath, logger, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryServer, "INITIALIZATION_FAILED", "failed to initialize store").
			WithContext("database_path", cfg.DatabasePath)
	}

	client := spotify.New(spotify.Config{
		APIURL:       cfg.SpotifyAPIURL,
		AccountsURL:  cfg.SpotifyAccountsURL,
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RPS:          cfg.UpstreamRPS,
		Burst:        cfg.UpstreamBurst,
	}, logger)

	credManager := credentials.NewManager(st, client, logger)
	eng := engine.New(st, st, st, client, credManager, logger)
	handler := handlers.New(logger, eng, credManager)

	var rateLimiter *rate.Limiter
	if cfg.RateLimitEnabled {
		rateLimiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logger.WithFields(logrus.Fields{
			"rps":   cfg.RateLimitRPS,
			"burst": cfg.RateLimitBurst,
		}).Info("Rate limiting enabled")
	}

	s := &Server{
		config:       cfg,
		logger:       logger,
		store:        st,
		credentials:  credManager,
		engine:       eng,
		handlers:     handler,
		rateLimiter:  rateLimiter,
		shutdownChan: make(chan struct{}),
	}

	router := s.buildRouter()
	s.server = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}

	return s, nil
}

func (s *Server) buildRouter() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs/refresh", s.handlers.RunRefresh).Methods(http.MethodPost)

	api := router.PathPrefix("/api/me").Subrouter()
	api.HandleFunc("/playlists/suggestions", s.handlers.GetSuggestions).Methods(http.MethodGet)
	api.HandleFunc("/playlists/regenerate", s.handlers.Regenerate).Methods(http.MethodPost)
	api.HandleFunc("/playlists/preferences", s.handlers.GetPreferences).Methods(http.MethodGet)
	api.HandleFunc("/playlists/preferences", s.handlers.PutPreferences).Methods(http.MethodPut)
	api.HandleFunc("/playlists/genres", s.handlers.AvailableGenres).Methods(http.MethodGet)
	api.HandleFunc("/playlists/save", s.handlers.SavePlaylist).Methods(http.MethodPost)
	api.HandleFunc("/account/link", s.handlers.LinkAccount).Methods(http.MethodPost)
	api.HandleFunc("/account", s.handlers.UnlinkAccount).Methods(http.MethodDelete)

	securityHeaders := middleware.NewSecurityHeaders(s.config, s.logger)

	var handler http.Handler = router
	handler = s.rateLimitMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = securityHeaders.Handler(handler)
	return handler
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("Request handled")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter != nil && !s.rateLimiter.Allow() {
			s.logger.WithField("remoteAddr", r.RemoteAddr).Warn("Request rate limited")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving and launches the background loops. It blocks
// until the listener fails or the server is shut down.
func (s *Server) Start() error {
	if s.config.RefreshEnabled {
		s.refreshTick = time.NewTicker(s.config.RefreshInterval)
		go s.refreshLoop()
		s.logger.WithField("interval", s.config.RefreshInterval).Info("Scheduled refresh enabled")
	}

	s.sweepTick = time.NewTicker(ExpirySweepInterval)
	go s.sweepLoop()

	s.logger.WithField("port", s.config.Port).Info("Server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, errors.CategoryServer, "START_FAILED", "server failed to start").
			WithContext("port", s.config.Port)
	}
	return nil
}

// refreshLoop regenerates every linked user's playlists on the
// configured interval.
func (s *Server) refreshLoop() {
	for {
		select {
		case <-s.refreshTick.C:
			summary := s.engine.RunScheduledRefresh(context.Background())
			if summary.UsersFailed > 0 {
				s.logger.WithFields(logrus.Fields{
					"runId":  summary.RunID,
					"failed": summary.UsersFailed,
					"errors": summary.Errors,
				}).Warn("Scheduled refresh completed with failures")
			}
		case <-s.shutdownChan:
			return
		}
	}
}

// sweepLoop physically deletes rows past their retention expiry.
func (s *Server) sweepLoop() {
	for {
		select {
		case <-s.sweepTick.C:
			if err := s.store.DeleteExpired(); err != nil {
				s.logger.WithError(err).Warn("Expiry sweep failed")
			}
		case <-s.shutdownChan:
			return
		}
	}
}

// Shutdown stops the background loops, drains in-flight requests, and
// closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Server shutting down")

	close(s.shutdownChan)
	if s.refreshTick != nil {
		s.refreshTick.Stop()
	}
	if s.sweepTick != nil {
		s.sweepTick.Stop()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("HTTP server shutdown failed")
		return errors.Wrap(err, errors.CategoryServer, "SHUTDOWN_FAILED", "server shutdown failed")
	}

	if err := s.store.Close(); err != nil {
		s.logger.WithError(err).Error("Store close failed")
		return err
	}

	s.logger.Info("Server stopped")
	return nil
}
