package storage

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// File describes one upload. The fixed fields are set at creation; only Size
// and, for deferred uploads, UploadLength change afterwards.
type File struct {
	ID string `json:"id"`
	// UploadLength is meaningful only when DeferLength is false.
	UploadLength int64  `json:"upload_length"`
	DeferLength  bool   `json:"upload_defer_length,omitempty"`
	Metadata     string `json:"upload_metadata,omitempty"`
	Size         int64  `json:"size"`

	IsPartial      bool     `json:"is_partial,omitempty"`
	IsFinal        bool     `json:"is_final,omitempty"`
	PartialUploads []string `json:"partial_uploads,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func NewFile(id string, length int64) File {
	return File{ID: id, UploadLength: length}
}

func NewDeferredFile(id string) File {
	return File{ID: id, DeferLength: true}
}

// NewID returns a fresh, lexically sortable upload id.
func NewID() string {
	return ulid.Make().String()
}

const maxIDLen = 128

// ValidID reports whether id is safe to use as a storage key: 1..128 bytes of
// [A-Za-z0-9_-].
func ValidID(id string) bool {
	if id == "" || len(id) > maxIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// Validate checks the creation-time invariants.
func (f File) Validate() error {
	if !ValidID(f.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, f.ID)
	}
	if f.DeferLength && f.UploadLength != 0 {
		return fmt.Errorf("%w: deferred upload must not carry a length", ErrInvalidLength)
	}
	if f.UploadLength < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLength, f.UploadLength)
	}
	if f.IsPartial && f.IsFinal {
		return fmt.Errorf("%w: upload cannot be both partial and final", ErrInvalidState)
	}
	if f.IsFinal && f.DeferLength {
		return fmt.Errorf("%w: final upload cannot defer its length", ErrInvalidState)
	}
	return nil
}

func (f File) HasLength() bool { return !f.DeferLength }

func (f File) IsComplete() bool { return f.HasLength() && f.Size == f.UploadLength }

// Remaining returns the bytes still expected, or -1 while the length is deferred.
func (f File) Remaining() int64 {
	if f.DeferLength {
		return -1
	}
	return f.UploadLength - f.Size
}

func (f File) Expired(now time.Time) bool {
	return !f.ExpiresAt.IsZero() && !now.Before(f.ExpiresAt)
}

// Clone returns a copy that shares no memory with f.
func (f File) Clone() File {
	if f.PartialUploads != nil {
		f.PartialUploads = append([]string(nil), f.PartialUploads...)
	}
	return f
}
