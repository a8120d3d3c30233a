// Package filestore is the filesystem upload backend. Every upload is a data
// file plus a record holding its size and fixed fields; all mutations of one
// upload run under that upload's lock.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DanikLP1/tus-storage-service/internal/storage"
)

type Options struct {
	// InfoStore holds the upload records. Nil selects JSON sidecar files.
	InfoStore InfoStore
	// MaxSize bounds every upload in bytes. Zero means unlimited.
	MaxSize int64
	// Expiration is how long an upload stays writable. Zero disables expiry.
	Expiration time.Duration
	// Extensions overrides the advertised set. Nil selects DefaultExtensions,
	// plus expiration when Expiration is set.
	Extensions []storage.Extension
	Logger     *slog.Logger
	Now        func() time.Time
}

func DefaultExtensions() []storage.Extension {
	return []storage.Extension{
		storage.ExtCreation,
		storage.ExtCreationWithUpload,
		storage.ExtCreationDeferLength,
		storage.ExtTermination,
		storage.ExtChecksum,
		storage.ExtConcatenation,
	}
}

type Store struct {
	l          layout
	info       InfoStore
	locks      *storage.LockMap
	exts       storage.ExtensionSet
	maxSize    int64
	expiration time.Duration
	logger     *slog.Logger
	now        func() time.Time
	closed     atomic.Bool

	finalsMu sync.Mutex
	finals   map[string]struct{} // final ids with a Concat in flight
}

var _ storage.DataStore = (*Store)(nil)

func New(root string, opts Options) (*Store, error) {
	l := layout{root: root}
	if err := os.MkdirAll(l.uploadsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}

	exts := opts.Extensions
	if exts == nil {
		exts = DefaultExtensions()
		if opts.Expiration > 0 {
			exts = append(exts, storage.ExtExpiration)
		}
	}
	s := &Store{
		l:          l,
		info:       opts.InfoStore,
		locks:      storage.NewLockMap(),
		exts:       storage.NewExtensionSet(exts...),
		maxSize:    opts.MaxSize,
		expiration: opts.Expiration,
		logger:     opts.Logger,
		now:        opts.Now,
		finals:     make(map[string]struct{}),
	}
	if s.info == nil {
		s.info = NewSidecarStore(root)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("comp", "filestore"))
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Store) HasExtension(name string) bool { return s.exts.Has(name) }

func (s *Store) Extensions() storage.ExtensionSet { return s.exts }

func (s *Store) MaxSize() int64 { return s.maxSize }

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return nil
}

func (s *Store) require(ext storage.Extension) error {
	if !s.exts.Has(string(ext)) {
		return fmt.Errorf("%w: %s", storage.ErrExtensionUnsupported, ext)
	}
	return nil
}

// lookupID rejects ids that can never name an upload before touching the filesystem.
func lookupID(id string) error {
	if !storage.ValidID(id) {
		return fmt.Errorf("%w: %q", storage.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, f storage.File) (storage.File, error) {
	if err := s.checkOpen(); err != nil {
		return storage.File{}, err
	}
	if err := s.require(storage.ExtCreation); err != nil {
		return storage.File{}, err
	}
	if err := f.Validate(); err != nil {
		return storage.File{}, err
	}
	if f.IsFinal {
		return storage.File{}, fmt.Errorf("%w: final uploads are created by Concat", storage.ErrInvalidState)
	}
	if f.DeferLength {
		if err := s.require(storage.ExtCreationDeferLength); err != nil {
			return storage.File{}, err
		}
	}
	if f.IsPartial {
		if err := s.require(storage.ExtConcatenation); err != nil {
			return storage.File{}, err
		}
	}
	if s.maxSize > 0 && f.HasLength() && f.UploadLength > s.maxSize {
		return storage.File{}, fmt.Errorf("%w: %d > %d", storage.ErrMaxSizeExceeded, f.UploadLength, s.maxSize)
	}

	unlock, err := s.locks.Lock(ctx, f.ID)
	if err != nil {
		return storage.File{}, err
	}
	defer unlock()

	if err := s.ensureAbsent(ctx, f.ID); err != nil {
		return storage.File{}, err
	}

	f.Size = 0
	f.PartialUploads = nil
	s.stamp(&f)

	dataPath := s.l.dataPath(f.ID)
	if err := os.MkdirAll(s.l.dirFor(f.ID), 0o755); err != nil {
		return storage.File{}, err
	}
	// a data file without a record is left over from an interrupted create or remove
	df, err := os.OpenFile(dataPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return storage.File{}, err
	}
	if err := df.Close(); err != nil {
		return storage.File{}, err
	}
	if err := s.info.Create(ctx, f); err != nil {
		_ = os.Remove(dataPath)
		return storage.File{}, err
	}
	s.logger.Debug("create.ok", "upload_id", f.ID)
	return f.Clone(), nil
}

func (s *Store) ensureAbsent(ctx context.Context, id string) error {
	_, err := s.info.Get(ctx, id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, id)
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (s *Store) stamp(f *storage.File) {
	f.CreatedAt = s.now().UTC()
	f.ExpiresAt = time.Time{}
	if s.expiration > 0 {
		f.ExpiresAt = f.CreatedAt.Add(s.expiration)
	}
}

func (s *Store) GetOffset(ctx context.Context, id string) (storage.File, error) {
	if err := s.checkOpen(); err != nil {
		return storage.File{}, err
	}
	if err := lookupID(id); err != nil {
		return storage.File{}, err
	}
	f, err := s.info.Get(ctx, id)
	if err != nil {
		return storage.File{}, err
	}
	return f.Clone(), nil
}

// Write appends src to the upload. The durable size only moves after the data
// file has been synced, and always by exactly the bytes that reached it.
//
// A source error keeps what was flushed and returns ErrSourceStream with the
// new size. A chunk carrying a checksum, or one that would cross the upload
// length or MaxSize, is kept whole or discarded whole.
func (s *Store) Write(ctx context.Context, id string, offset int64, src io.Reader, opts storage.WriteOpts) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := lookupID(id); err != nil {
		return 0, err
	}
	var h hash.Hash
	if opts.Checksum != nil {
		if err := s.require(storage.ExtChecksum); err != nil {
			return 0, err
		}
		var err error
		if h, err = storage.NewHash(opts.Checksum.Algorithm); err != nil {
			return 0, err
		}
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	f, err := s.info.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if f.IsFinal {
		return f.Size, fmt.Errorf("%w: final upload %s is read-only", storage.ErrInvalidState, id)
	}
	if offset != f.Size {
		return f.Size, &storage.OffsetMismatchError{Expected: f.Size, Got: offset}
	}
	if f.Expired(s.now()) && !f.IsComplete() {
		return f.Size, fmt.Errorf("%w: upload %s expired", storage.ErrNotFound, id)
	}

	limit, exceeded := f.Remaining(), storage.ErrLengthExceeded
	if limit < 0 && s.maxSize > 0 {
		limit, exceeded = s.maxSize-f.Size, storage.ErrMaxSizeExceeded
	}

	data, err := os.OpenFile(s.l.dataPath(id), os.O_WRONLY, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f.Size, fmt.Errorf("data file for %s missing: %w", id, err)
		}
		return f.Size, err
	}
	defer data.Close()

	// bytes past the recorded size were never acknowledged
	if err := data.Truncate(f.Size); err != nil {
		return f.Size, err
	}
	if _, err := data.Seek(f.Size, io.SeekStart); err != nil {
		return f.Size, err
	}

	in := &sourceReader{ctx: ctx, r: src}
	var r io.Reader = in
	if h != nil {
		r = io.TeeReader(r, h)
	}
	if limit >= 0 {
		r = io.LimitReader(r, limit)
	}

	n, copyErr := io.Copy(data, r)
	log := s.logger.With(slog.String("upload_id", id), slog.Int64("offset", offset), slog.Int64("bytes", n))

	switch {
	case in.err != nil:
		srcErr := fmt.Errorf("%w: %v", storage.ErrSourceStream, in.err)
		if h != nil {
			log.Warn("write.source_fail_discard", "err", in.err)
			return s.discard(data, f, srcErr)
		}
		size, err := s.commit(ctx, data, f, n)
		if err != nil {
			return size, err
		}
		log.Warn("write.source_fail_partial", "size", size, "err", in.err)
		return size, srcErr
	case copyErr != nil:
		log.Error("write.data_fail", "err", copyErr)
		return s.discard(data, f, fmt.Errorf("write data: %w", copyErr))
	}

	if limit >= 0 && n == limit && in.hasMore() {
		log.Warn("write.length_exceeded", "limit", limit)
		return s.discard(data, f, fmt.Errorf("%w: at most %d more bytes accepted", exceeded, limit))
	}
	if h != nil {
		if err := opts.Checksum.Verify(h); err != nil {
			log.Warn("write.checksum_mismatch", "alg", opts.Checksum.Algorithm)
			return s.discard(data, f, err)
		}
	}
	return s.commit(ctx, data, f, n)
}

// commit makes n freshly written bytes durable and records the new size.
func (s *Store) commit(ctx context.Context, data *os.File, f storage.File, n int64) (int64, error) {
	if n == 0 {
		return f.Size, nil
	}
	// the client may be gone already; the bytes on disk still need a record
	ctx = context.WithoutCancel(ctx)
	if err := data.Sync(); err != nil {
		return s.discard(data, f, fmt.Errorf("sync data: %w", err))
	}
	prev := f.Size
	f.Size += n
	if err := s.info.Update(ctx, f); err != nil {
		_ = data.Truncate(prev)
		return prev, fmt.Errorf("update record: %w", err)
	}
	return f.Size, nil
}

func (s *Store) discard(data *os.File, f storage.File, cause error) (int64, error) {
	if err := data.Truncate(f.Size); err != nil {
		// the next Write truncates again before appending
		s.logger.Error("write.truncate_fail", "upload_id", f.ID, "err", err)
	}
	return f.Size, cause
}

func (s *Store) DeclareUploadLength(ctx context.Context, id string, length int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.require(storage.ExtCreationDeferLength); err != nil {
		return err
	}
	if err := lookupID(id); err != nil {
		return err
	}
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	f, err := s.info.Get(ctx, id)
	if err != nil {
		return err
	}
	if !f.DeferLength {
		return fmt.Errorf("%w: upload %s already has length %d", storage.ErrInvalidState, id, f.UploadLength)
	}
	if length < f.Size {
		return fmt.Errorf("%w: %d is below the %d bytes already stored", storage.ErrInvalidLength, length, f.Size)
	}
	if s.maxSize > 0 && length > s.maxSize {
		return fmt.Errorf("%w: %d > %d", storage.ErrMaxSizeExceeded, length, s.maxSize)
	}
	f.DeferLength = false
	f.UploadLength = length
	return s.info.Update(ctx, f)
}

func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.require(storage.ExtTermination); err != nil {
		return err
	}
	if err := lookupID(id); err != nil {
		return err
	}
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return s.removeLocked(ctx, id)
}

// RemoveExpired is the sweeper's delete. It does not need the termination
// extension, and it leaves alone uploads that completed since they were listed.
func (s *Store) RemoveExpired(ctx context.Context, id string) (storage.File, bool, error) {
	if err := s.checkOpen(); err != nil {
		return storage.File{}, false, err
	}
	if err := lookupID(id); err != nil {
		return storage.File{}, false, err
	}
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return storage.File{}, false, err
	}
	defer unlock()

	f, err := s.info.Get(ctx, id)
	if err != nil {
		return storage.File{}, false, err
	}
	if !f.Expired(s.now()) || f.IsComplete() {
		return f, false, nil
	}
	if err := s.removeLocked(ctx, id); err != nil {
		return f, false, err
	}
	return f, true, nil
}

// removeLocked expects the caller to hold id's lock.
func (s *Store) removeLocked(ctx context.Context, id string) error {
	// the record is what makes an upload visible, so it goes first
	if err := s.info.Delete(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(s.l.dataPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Error("remove.data_fail", "upload_id", id, "err", err)
	}
	return nil
}

func (s *Store) GetReader(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := lookupID(id); err != nil {
		return nil, err
	}
	f, err := s.info.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	df, err := os.Open(s.l.dataPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		return nil, err
	}
	return struct {
		io.Reader
		io.Closer
	}{Reader: io.LimitReader(df, f.Size), Closer: df}, nil
}

func (s *Store) List(ctx context.Context) ([]storage.File, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.info.List(ctx)
}

// sourceReader records the first non-EOF error of the source and stops
// reading once ctx is done.
type sourceReader struct {
	ctx context.Context
	r   io.Reader
	err error
}

func (sr *sourceReader) Read(p []byte) (int, error) {
	if sr.err != nil {
		return 0, sr.err
	}
	if err := sr.ctx.Err(); err != nil {
		sr.err = err
		return 0, err
	}
	n, err := sr.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		sr.err = err
	}
	return n, err
}

// hasMore reports whether the source still yields data.
func (sr *sourceReader) hasMore() bool {
	var b [1]byte
	n, _ := io.ReadFull(sr, b[:])
	return n > 0
}
