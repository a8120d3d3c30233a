package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	TusVersion = "1.0.0"

	offsetContentType = "application/offset+octet-stream"

	hdrTusResumable       = "Tus-Resumable"
	hdrTusVersion         = "Tus-Version"
	hdrTusExtension       = "Tus-Extension"
	hdrTusMaxSize         = "Tus-Max-Size"
	hdrTusChecksumAlg     = "Tus-Checksum-Algorithm"
	hdrUploadOffset       = "Upload-Offset"
	hdrUploadLength       = "Upload-Length"
	hdrUploadDeferLength  = "Upload-Defer-Length"
	hdrUploadMetadata     = "Upload-Metadata"
	hdrUploadConcat       = "Upload-Concat"
	hdrUploadExpires      = "Upload-Expires"
	hdrUploadChecksum     = "Upload-Checksum"
	hdrMethodOverride     = "X-HTTP-Method-Override"
	hdrContentTypeOptions = "X-Content-Type-Options"
)

// WithTusResumable stamps protocol headers on every response and rejects
// requests speaking another protocol version.
func (s *Server) WithTusResumable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// clients that cannot send PATCH or DELETE tunnel them through POST
		if m := r.Header.Get(hdrMethodOverride); r.Method == http.MethodPost && m != "" {
			r.Method = strings.ToUpper(m)
		}

		h := w.Header()
		h.Set(hdrTusResumable, TusVersion)
		h.Set(hdrContentTypeOptions, "nosniff")

		if r.Method != http.MethodOptions && r.Method != http.MethodGet &&
			r.Header.Get(hdrTusResumable) != TusVersion {
			h.Set(hdrTusVersion, TusVersion)
			s.writeError(w, r, errUnsupportedVersion)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// parseOffset reads a non-negative integer header. ok is false when the
// header is absent.
func parseOffset(r *http.Request, name string) (n int64, ok bool, err error) {
	v := r.Header.Get(name)
	if v == "" {
		return 0, false, nil
	}
	n, err = strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, true, errInvalidHeader(name)
	}
	return n, true, nil
}

// parseConcat reads Upload-Concat: "partial" or "final;<url> <url>...".
func (s *Server) parseConcat(v string) (partial bool, parts []string, err error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return false, nil, nil
	}
	if v == "partial" {
		return true, nil, nil
	}
	list, ok := strings.CutPrefix(v, "final;")
	if !ok {
		return false, nil, errInvalidConcat
	}
	for _, u := range strings.Fields(list) {
		id, ok := s.idFromURL(u)
		if !ok {
			return false, nil, errInvalidConcat
		}
		parts = append(parts, id)
	}
	if len(parts) == 0 {
		return false, nil, errInvalidConcat
	}
	return false, parts, nil
}

func formatExpires(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
