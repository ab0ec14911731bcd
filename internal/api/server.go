package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/commandus/lorawan-storage-sub000/internal/auth"
	"github.com/commandus/lorawan-storage-sub000/internal/config"
	"github.com/commandus/lorawan-storage-sub000/internal/dispatch"
	"github.com/commandus/lorawan-storage-sub000/internal/protocol"
)

type ctxKey int

const claimsKey ctxKey = iota

// service pairs the binary and JSON handlers of one entity
type service struct {
	binary dispatch.Handler
	json   dispatch.Handler
}

// RESTServer exposes the dispatchers over HTTP and WebSocket
type RESTServer struct {
	config   *config.Config
	services map[string]service
	auth     *auth.JWTManager
	router   chi.Router
	server   *http.Server
}

// NewRESTServer creates a new REST API server for the given handlers
func NewRESTServer(cfg *config.Config, handlers ...dispatch.Handler) *RESTServer {
	s := &RESTServer{
		config:   cfg,
		services: make(map[string]service),
		router:   chi.NewRouter(),
	}
	for _, h := range handlers {
		s.services[h.Entity().String()] = service{binary: h, json: h.WithCodec(protocol.JSON)}
	}
	if cfg.Auth.JWTSecret != "" {
		s.auth = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL.Std())
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: cfg.Limits.ReadTimeout.Std(),
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the root handler
func (s *RESTServer) Handler() http.Handler { return s.router }

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	s.setupMetricsRoute()

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// Serve listens on addr until ctx is done, then shuts down gracefully
func (s *RESTServer) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.serveListener(ctx, ln)
}

func (s *RESTServer) serveListener(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("Starting REST API server")
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("REST API server stopped")
	return nil
}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		// Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		// Validate token
		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		// 令牌必须属于本服务的 code
		if claims.Code != s.config.Auth.Code {
			s.respondError(w, http.StatusForbidden, "token issued for another code")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs each request through zerolog
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}
