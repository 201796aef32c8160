// Package server exposes the album library, the crop transformer and crop
// suggestions over HTTP.
//
// Routes:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /photos/*                    stored photo files
//	POST   /api/crop                    multipart: file, x, y, width, height, rotation
//	POST   /api/suggest                 multipart: file, aspect
//	GET    /api/me                      (authenticated from here on)
//	DELETE /api/me/data
//	GET    /api/albums
//	POST   /api/albums
//	GET    /api/albums/{id}
//	PATCH  /api/albums/{id}
//	DELETE /api/albums/{id}
//	GET    /api/albums/{id}/photos
//	POST   /api/albums/{id}/photos      multipart: file, optional crop fields
//	DELETE /api/photos/{id}
//
// Authenticated routes expect "Authorization: Bearer <token>". Errors are
// returned as {"error":{"code":"...","message":"..."}}.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/menta2k/photo-album/pkg/auth"
	"github.com/menta2k/photo-album/pkg/geometry"
	"github.com/menta2k/photo-album/pkg/library"
	"github.com/menta2k/photo-album/pkg/metrics"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/suggest"
)

// DefaultMaxUploadBytes caps multipart request bodies
const DefaultMaxUploadBytes = 32 << 20

// Options wires a Server. Library and Auth may be nil, which disables the
// album routes; Files, Metrics and Gatherer are optional.
type Options struct {
	Library       *library.Service
	Auth          auth.Authenticator
	Transformer   *geometry.Transformer
	Processor     *processing.Processor
	Suggester     suggest.Suggester
	DefaultAspect float64
	Files         http.Handler
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	Logger        *log.Logger

	MaxUploadBytes int64
}

// Server is the HTTP API
type Server struct {
	opts   Options
	logger *log.Logger
	router chi.Router
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Processor == nil {
		opts.Processor = processing.NewProcessor()
	}
	if opts.Transformer == nil {
		opts.Transformer = geometry.NewWithConfig(opts.Processor, geometry.DefaultConfig())
	}
	if opts.Suggester == nil {
		opts.Suggester = suggest.Centered{}
	}
	if opts.DefaultAspect <= 0 {
		opts.DefaultAspect = suggest.DefaultAspect
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}

	s := &Server{opts: opts, logger: opts.Logger}
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if s.opts.Metrics != nil {
		r.Use(s.opts.Metrics.Middleware)
	}

	r.Get("/healthz", s.handleHealth)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.opts.Gatherer))
	}
	if s.opts.Files != nil {
		r.Handle("/photos/*", s.opts.Files)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/crop", s.handleCrop)
		r.Post("/suggest", s.handleSuggest)

		if s.opts.Library == nil || s.opts.Auth == nil {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/me", s.handleMe)
			r.Delete("/me/data", s.handleClearUserData)

			r.Get("/albums", s.handleListAlbums)
			r.Post("/albums", s.handleCreateAlbum)
			r.Route("/albums/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAlbum)
				r.Patch("/", s.handleUpdateAlbum)
				r.Delete("/", s.handleDeleteAlbum)
				r.Get("/photos", s.handleListPhotos)
				r.Post("/photos", s.handleUploadPhoto)
			})
			r.Delete("/photos/{id}", s.handleDeletePhoto)
		})
	})
	return r
}

// Serve answers requests on ln until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		return err
	}
	<-errCh
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, readTimeout, writeTimeout, shutdownTimeout)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.opts.Auth.Authenticate(r.Context(), auth.BearerToken(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}
