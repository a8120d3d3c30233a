// internal/server/middleware_logging.go
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const hdrRequestID = "X-Request-ID"

type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (s *Server) WithRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.Logger.Error("panic", "req_id", RequestIDFrom(r.Context()), "path", r.URL.Path, "err", rec)
				if responseAlreadyWritten(w) {
					return
				}
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("ERR_INTERNAL_SERVER_ERROR: panic\n"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) WithRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(hdrRequestID)
		if reqID == "" || len(reqID) > 64 {
			reqID = uuid.NewString()
		}
		ctx := WithRequestID(r.Context(), reqID)

		l := s.Logger.With(
			slog.String("req_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
		)
		ctx = withLogger(ctx, l)

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		ww.Header().Set(hdrRequestID, reqID)

		next.ServeHTTP(ww, r.WithContext(ctx))

		l.Info("request",
			slog.Int("status", ww.status),
			slog.Duration("dur", time.Since(start)),
			slog.Int64("bytes", ww.written),
			slog.Int64("body", r.ContentLength),
		)
	})
}
