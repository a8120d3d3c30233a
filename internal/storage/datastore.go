package storage

import (
	"context"
	"io"
)

// DataStore is the contract every upload backend satisfies. Operations that
// a backend does not advertise through Extensions return
// ErrExtensionUnsupported.
type DataStore interface {
	// Create allocates storage for f with size 0. ErrAlreadyExists if f.ID is taken.
	Create(ctx context.Context, f File) (File, error)

	// Write appends src at offset, which must equal the current size.
	// It returns the durable size after the call, also when it fails
	// part way through the source.
	Write(ctx context.Context, id string, offset int64, src io.Reader, opts WriteOpts) (int64, error)

	// GetOffset returns a copy of the upload's record including its size.
	GetOffset(ctx context.Context, id string) (File, error)

	// DeclareUploadLength fixes the length of a deferred upload.
	DeclareUploadLength(ctx context.Context, id string, length int64) error

	// Remove deletes the upload's record and data.
	Remove(ctx context.Context, id string) error

	// RemoveExpired deletes the upload only if, under its lock, it is still
	// expired and incomplete. It reports whether the upload was removed and
	// returns the record as it was.
	RemoveExpired(ctx context.Context, id string) (File, bool, error)

	// Concat creates final from the completed partial uploads it lists.
	Concat(ctx context.Context, final File) (File, error)

	// GetReader streams the bytes stored so far.
	GetReader(ctx context.Context, id string) (io.ReadCloser, error)

	// List returns every live upload.
	List(ctx context.Context) ([]File, error)

	HasExtension(name string) bool
	Extensions() ExtensionSet

	Close() error
}
