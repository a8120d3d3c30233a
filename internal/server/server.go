package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DanikLP1/tus-storage-service/internal/storage"
)

type Options struct {
	BasePath string // "/files/"
	MaxSize  int64  // advertised as Tus-Max-Size, 0 -> none
	// Ready backs /readyz, nil -> always ready.
	Ready func(ctx context.Context) error
	// FindExpired lets the sweeper ask the record store directly instead of
	// listing every upload.
	FindExpired func(ctx context.Context, now time.Time, limit int) ([]string, error)
	Logger      *slog.Logger
}

type Server struct {
	storage     *storage.Storage
	basePath    string
	maxSize     int64
	ready       func(ctx context.Context) error
	findExpired func(ctx context.Context, now time.Time, limit int) ([]string, error)
	now         func() time.Time
	Logger      *slog.Logger
}

func New(st *storage.Storage, opts Options) *Server {
	base := opts.BasePath
	if base == "" {
		base = "/files/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		storage:     st,
		basePath:    base,
		maxSize:     opts.MaxSize,
		ready:       opts.Ready,
		findExpired: opts.FindExpired,
		now:         time.Now,
		Logger:      logger,
	}
}

// Router returns the handler main.go wraps with middleware.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.ready != nil {
			if err := s.ready(r.Context()); err != nil {
				loggerFrom(r).Warn("readyz.fail", "err", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.Handle(s.basePath, s.WithTusResumable(http.HandlerFunc(s.route)))
	return mux
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, s.basePath), "/")

	// collection: /files/
	if id == "" {
		switch r.Method {
		case http.MethodOptions:
			s.handleOptions(w, r)
		case http.MethodPost:
			s.handleCreate(w, r)
		default:
			s.writeError(w, r, errMethodNotAllowed)
		}
		return
	}

	// upload: /files/:id
	if strings.Contains(id, "/") {
		s.writeError(w, r, storage.ErrNotFound)
		return
	}
	switch r.Method {
	case http.MethodOptions:
		s.handleOptions(w, r)
	case http.MethodHead:
		s.handleHead(w, r, id)
	case http.MethodPatch:
		s.handlePatch(w, r, id)
	case http.MethodDelete:
		s.handleDelete(w, r, id)
	case http.MethodGet:
		s.handleGet(w, r, id)
	default:
		s.writeError(w, r, errMethodNotAllowed)
	}
}

// uploadURL is the absolute Location of id.
func (s *Server) uploadURL(r *http.Request, id string) string {
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		proto = p
	}
	host := r.Host
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		host = h
	}
	return proto + "://" + host + s.basePath + id
}

// idFromURL extracts the upload id from a full URL or a path under the base path.
func (s *Server) idFromURL(u string) (string, bool) {
	_, rest, ok := strings.Cut(u, s.basePath)
	if !ok {
		return "", false
	}
	id := strings.Trim(rest, "/")
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
