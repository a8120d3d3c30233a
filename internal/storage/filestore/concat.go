package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/DanikLP1/tus-storage-service/internal/storage"
)

// Concat joins completed partial uploads, in order, into the new final upload.
// The final upload is complete on creation and cannot be written to.
//
// The final id's lock is held while each partial's lock is taken, so a
// partial that is itself the final of a Concat in flight is refused.
func (s *Store) Concat(ctx context.Context, final storage.File) (storage.File, error) {
	if err := s.checkOpen(); err != nil {
		return storage.File{}, err
	}
	if err := s.require(storage.ExtConcatenation); err != nil {
		return storage.File{}, err
	}
	final.IsFinal = true
	final.IsPartial = false
	final.DeferLength = false
	final.UploadLength = 0
	if err := final.Validate(); err != nil {
		return storage.File{}, err
	}
	if len(final.PartialUploads) == 0 {
		return storage.File{}, fmt.Errorf("%w: final upload lists no partial uploads", storage.ErrInvalidState)
	}

	unlock, err := s.locks.Lock(ctx, final.ID)
	if err != nil {
		return storage.File{}, err
	}
	defer unlock()
	s.markFinal(final.ID)
	defer s.unmarkFinal(final.ID)

	if err := s.ensureAbsent(ctx, final.ID); err != nil {
		return storage.File{}, err
	}
	if err := os.MkdirAll(s.l.dirFor(final.ID), 0o755); err != nil {
		return storage.File{}, err
	}

	dataPath := s.l.dataPath(final.ID)
	tmp := tmpPath(dataPath)
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return storage.File{}, err
	}
	fail := func(err error) (storage.File, error) {
		_ = out.Close()
		_ = os.Remove(tmp)
		return storage.File{}, err
	}

	var total int64
	for _, pid := range final.PartialUploads {
		if pid == final.ID {
			return fail(fmt.Errorf("%w: upload %s lists itself", storage.ErrInvalidState, pid))
		}
		n, err := s.appendPartial(ctx, out, pid)
		if err != nil {
			return fail(err)
		}
		total += n
	}
	if s.maxSize > 0 && total > s.maxSize {
		return fail(fmt.Errorf("%w: %d > %d", storage.ErrMaxSizeExceeded, total, s.maxSize))
	}
	if err := out.Sync(); err != nil {
		return fail(err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return storage.File{}, err
	}
	if err := os.Rename(tmp, dataPath); err != nil {
		_ = os.Remove(tmp)
		return storage.File{}, err
	}

	final.PartialUploads = append([]string(nil), final.PartialUploads...)
	final.UploadLength = total
	final.Size = total
	s.stamp(&final)
	if err := s.info.Create(ctx, final); err != nil {
		_ = os.Remove(dataPath)
		return storage.File{}, err
	}
	return final.Clone(), nil
}

func (s *Store) appendPartial(ctx context.Context, out io.Writer, id string) (int64, error) {
	if err := lookupID(id); err != nil {
		return 0, err
	}
	if s.isFinal(id) {
		return 0, fmt.Errorf("%w: %s is being concatenated", storage.ErrInvalidState, id)
	}
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	p, err := s.info.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if !p.IsPartial {
		return 0, fmt.Errorf("%w: upload %s is not partial", storage.ErrInvalidState, id)
	}
	if !p.IsComplete() {
		return 0, fmt.Errorf("%w: %s has %d bytes", storage.ErrUploadNotFinished, id, p.Size)
	}

	src, err := os.Open(s.l.dataPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("data file for %s missing: %w", id, err)
		}
		return 0, err
	}
	defer src.Close()

	n, err := io.Copy(out, &sourceReader{ctx: ctx, r: io.LimitReader(src, p.Size)})
	if err != nil {
		return n, fmt.Errorf("copy partial %s: %w", id, err)
	}
	if n != p.Size {
		return n, fmt.Errorf("partial %s: read %d of %d bytes", id, n, p.Size)
	}
	return n, nil
}

func (s *Store) markFinal(id string) {
	s.finalsMu.Lock()
	s.finals[id] = struct{}{}
	s.finalsMu.Unlock()
}

func (s *Store) unmarkFinal(id string) {
	s.finalsMu.Lock()
	delete(s.finals, id)
	s.finalsMu.Unlock()
}

func (s *Store) isFinal(id string) bool {
	s.finalsMu.Lock()
	defer s.finalsMu.Unlock()
	_, ok := s.finals[id]
	return ok
}
