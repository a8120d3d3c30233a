package server

import "net/http"

type writeCheckResponseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *writeCheckResponseWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(statusCode)
	}
}

func (w *writeCheckResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *writeCheckResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// WrapWriteCheck makes a second WriteHeader a no-op and lets handlers ask
// whether a status already went out.
func WrapWriteCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&writeCheckResponseWriter{ResponseWriter: w}, r)
	})
}

// responseAlreadyWritten looks through wrapping writers for the write check.
func responseAlreadyWritten(w http.ResponseWriter) bool {
	for {
		switch t := w.(type) {
		case *writeCheckResponseWriter:
			return t.wroteHeader
		case interface{ Unwrap() http.ResponseWriter }:
			w = t.Unwrap()
		default:
			return false
		}
	}
}
