package storage

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("upload not found")
	ErrAlreadyExists  = errors.New("upload already exists")
	ErrOffsetMismatch = errors.New("offset mismatch")
	ErrSourceStream   = errors.New("source stream error")
	ErrInvalidState   = errors.New("invalid upload state")

	ErrInvalidID            = errors.New("invalid upload id")
	ErrInvalidLength        = errors.New("invalid upload length")
	ErrLengthExceeded       = errors.New("upload length exceeded")
	ErrMaxSizeExceeded      = errors.New("maximum upload size exceeded")
	ErrChecksumMismatch     = errors.New("checksum mismatch")
	ErrUnsupportedChecksum  = errors.New("unsupported checksum algorithm")
	ErrUploadNotFinished    = errors.New("partial upload not finished")
	ErrExtensionUnsupported = errors.New("extension not supported by backend")
	ErrClosed               = errors.New("datastore closed")
)

// OffsetMismatchError reports the durable size next to the offset a client sent.
type OffsetMismatchError struct {
	Expected int64
	Got      int64
}

func (e *OffsetMismatchError) Error() string {
	return fmt.Sprintf("offset mismatch: upload is at %d, write requested at %d", e.Expected, e.Got)
}

func (e *OffsetMismatchError) Is(target error) bool { return target == ErrOffsetMismatch }
