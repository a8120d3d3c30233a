package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/DanikLP1/tus-storage-service/internal/metadata"
	"github.com/DanikLP1/tus-storage-service/internal/storage"
)

// tusError is a protocol-level failure with its status and machine code.
type tusError struct {
	Status int
	Code   string
	Msg    string
}

func (e tusError) Error() string { return e.Code + ": " + e.Msg }

const statusChecksumMismatch = 460

var (
	errUnsupportedVersion = tusError{http.StatusPreconditionFailed, "ERR_UNSUPPORTED_VERSION", "missing, invalid or unsupported Tus-Resumable header"}
	errMethodNotAllowed   = tusError{http.StatusMethodNotAllowed, "ERR_METHOD_NOT_ALLOWED", "method not allowed on this resource"}
	errInvalidContentType = tusError{http.StatusUnsupportedMediaType, "ERR_INVALID_CONTENT_TYPE", "missing or invalid Content-Type header"}
	errAmbiguousLength    = tusError{http.StatusBadRequest, "ERR_AMBIGUOUS_UPLOAD_LENGTH", "provided both Upload-Length and Upload-Defer-Length"}
	errMissingLength      = tusError{http.StatusBadRequest, "ERR_INVALID_UPLOAD_LENGTH", "missing Upload-Length header"}
	errInvalidDefer       = tusError{http.StatusBadRequest, "ERR_INVALID_UPLOAD_LENGTH_DEFER", "invalid Upload-Defer-Length header"}
	errMissingOffset      = tusError{http.StatusBadRequest, "ERR_INVALID_OFFSET", "missing Upload-Offset header"}
	errInvalidConcat      = tusError{http.StatusBadRequest, "ERR_INVALID_CONCAT", "invalid Upload-Concat header"}
	errLengthFixed        = tusError{http.StatusBadRequest, "ERR_INVALID_UPLOAD_LENGTH", "upload length is already set"}
	errModifyFinal        = tusError{http.StatusForbidden, "ERR_MODIFY_FINAL", "modifying a final upload is not allowed"}
)

func errInvalidHeader(name string) tusError {
	return tusError{http.StatusBadRequest, "ERR_INVALID_HEADER", "invalid " + name + " header"}
}

// classify maps an error from the storage layer onto a response.
func classify(err error) tusError {
	var te tusError
	if errors.As(err, &te) {
		return te
	}
	msg := err.Error()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return tusError{http.StatusNotFound, "ERR_UPLOAD_NOT_FOUND", "upload not found"}
	case errors.Is(err, storage.ErrOffsetMismatch):
		return tusError{http.StatusConflict, "ERR_MISMATCHED_OFFSET", msg}
	case errors.Is(err, storage.ErrAlreadyExists):
		return tusError{http.StatusConflict, "ERR_UPLOAD_EXISTS", msg}
	case errors.Is(err, storage.ErrLengthExceeded):
		return tusError{http.StatusRequestEntityTooLarge, "ERR_UPLOAD_SIZE_EXCEEDED", msg}
	case errors.Is(err, storage.ErrMaxSizeExceeded):
		return tusError{http.StatusRequestEntityTooLarge, "ERR_MAX_SIZE_EXCEEDED", msg}
	case errors.Is(err, storage.ErrChecksumMismatch):
		return tusError{statusChecksumMismatch, "ERR_CHECKSUM_MISMATCH", msg}
	case errors.Is(err, storage.ErrUnsupportedChecksum):
		return tusError{http.StatusBadRequest, "ERR_UNSUPPORTED_CHECKSUM_ALGORITHM", msg}
	case errors.Is(err, metadata.ErrMalformed):
		return tusError{http.StatusBadRequest, "ERR_INVALID_METADATA", msg}
	case errors.Is(err, storage.ErrInvalidLength):
		return tusError{http.StatusBadRequest, "ERR_INVALID_UPLOAD_LENGTH", msg}
	case errors.Is(err, storage.ErrInvalidID):
		return tusError{http.StatusBadRequest, "ERR_INVALID_UPLOAD_ID", msg}
	case errors.Is(err, storage.ErrUploadNotFinished):
		return tusError{http.StatusBadRequest, "ERR_UPLOAD_NOT_FINISHED", msg}
	case errors.Is(err, storage.ErrInvalidState):
		return tusError{http.StatusBadRequest, "ERR_INVALID_STATE", msg}
	case errors.Is(err, storage.ErrSourceStream), errors.Is(err, context.Canceled):
		return tusError{http.StatusBadRequest, "ERR_UPLOAD_INTERRUPTED", msg}
	case errors.Is(err, storage.ErrExtensionUnsupported):
		return tusError{http.StatusNotImplemented, "ERR_NOT_IMPLEMENTED", msg}
	case errors.Is(err, storage.ErrClosed):
		return tusError{http.StatusServiceUnavailable, "ERR_SERVER_SHUTDOWN", msg}
	}
	return tusError{http.StatusInternalServerError, "ERR_INTERNAL_SERVER_ERROR", "internal error"}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	te := classify(err)
	log := loggerFrom(r)
	if te.Status >= http.StatusInternalServerError {
		log.Error("tus.error", "status", te.Status, "code", te.Code, "err", err)
	} else {
		log.Warn("tus.rejected", "status", te.Status, "code", te.Code, "err", err)
	}
	if responseAlreadyWritten(w) {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(te.Status)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, te.Error()+"\n")
	}
}
