package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/DanikLP1/tus-storage-service/internal/events"
)

// Storage is the handle the dispatcher holds: it forwards to a DataStore,
// logs each operation and publishes lifecycle events.
type Storage struct {
	ds     DataStore
	bus    *events.Bus
	logger *slog.Logger
}

// NewWithDataStore wraps ds. bus may be nil when nobody listens for events.
func NewWithDataStore(ds DataStore, bus *events.Bus, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{ds: ds, bus: bus, logger: logger.With(slog.String("comp", "storage"))}
}

func (s *Storage) DataStore() DataStore {
	return s.ds
}

func (s *Storage) publish(kind events.Kind, f File) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Kind:        kind,
		UploadID:    f.ID,
		Size:        f.Size,
		Length:      f.UploadLength,
		DeferLength: f.DeferLength,
		Metadata:    f.Metadata,
	})
}

// PublishEndpoint reports that the dispatcher handed out url for f.
func (s *Storage) PublishEndpoint(f File, url string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Kind: events.EndpointCreated, UploadID: f.ID, URL: url, Length: f.UploadLength, DeferLength: f.DeferLength, Metadata: f.Metadata})
}

func (s *Storage) Create(ctx context.Context, f File) (File, error) {
	created, err := s.ds.Create(ctx, f)
	if err != nil {
		s.logger.Warn("create.fail", "upload_id", f.ID, "err", err)
		return File{}, err
	}
	s.logger.Info("create.ok", "upload_id", created.ID, "length", created.UploadLength, "defer", created.DeferLength)
	s.publish(events.FileCreated, created)
	if created.IsComplete() && !created.IsPartial {
		s.publish(events.UploadComplete, created)
	}
	return created, nil
}

func (s *Storage) Write(ctx context.Context, id string, offset int64, src io.Reader, opts WriteOpts) (int64, error) {
	size, err := s.ds.Write(ctx, id, offset, src, opts)
	log := s.logger.With(slog.String("upload_id", id), slog.Int64("offset", offset))
	if err != nil {
		switch {
		case errors.Is(err, ErrOffsetMismatch), errors.Is(err, ErrNotFound):
			log.Warn("write.rejected", "err", err)
		default:
			log.Error("write.fail", "size", size, "err", err)
		}
		return size, err
	}
	log.Debug("write.ok", "size", size)

	if size > offset {
		f, gerr := s.ds.GetOffset(ctx, id)
		if gerr == nil && f.IsComplete() {
			log.Info("upload.complete", "size", f.Size)
			s.publish(events.UploadComplete, f)
		}
	}
	return size, nil
}

func (s *Storage) GetOffset(ctx context.Context, id string) (File, error) {
	return s.ds.GetOffset(ctx, id)
}

func (s *Storage) DeclareUploadLength(ctx context.Context, id string, length int64) error {
	if err := s.ds.DeclareUploadLength(ctx, id, length); err != nil {
		s.logger.Warn("declare_length.fail", "upload_id", id, "length", length, "err", err)
		return err
	}
	s.logger.Info("declare_length.ok", "upload_id", id, "length", length)

	if f, err := s.ds.GetOffset(ctx, id); err == nil && f.IsComplete() {
		s.publish(events.UploadComplete, f)
	}
	return nil
}

func (s *Storage) Remove(ctx context.Context, id string) error {
	f, err := s.ds.GetOffset(ctx, id)
	if err != nil {
		// the event then carries only the id
		s.logger.Debug("remove.lookup_fail", "upload_id", id, "err", err)
	}
	if err := s.ds.Remove(ctx, id); err != nil {
		s.logger.Warn("remove.fail", "upload_id", id, "err", err)
		return err
	}
	s.logger.Info("remove.ok", "upload_id", id)
	f.ID = id
	s.publish(events.FileDeleted, f)
	return nil
}

// RemoveExpired deletes id if it is still expired and incomplete.
func (s *Storage) RemoveExpired(ctx context.Context, id string) (bool, error) {
	f, removed, err := s.ds.RemoveExpired(ctx, id)
	if err != nil {
		s.logger.Warn("remove_expired.fail", "upload_id", id, "err", err)
		return false, err
	}
	if !removed {
		s.logger.Debug("remove_expired.skipped", "upload_id", id, "size", f.Size, "complete", f.IsComplete())
		return false, nil
	}
	s.logger.Info("remove_expired.ok", "upload_id", id)
	s.publish(events.FileDeleted, f)
	return true, nil
}

func (s *Storage) Concat(ctx context.Context, final File) (File, error) {
	f, err := s.ds.Concat(ctx, final)
	if err != nil {
		s.logger.Warn("concat.fail", "upload_id", final.ID, "partials", len(final.PartialUploads), "err", err)
		return File{}, err
	}
	s.logger.Info("concat.ok", "upload_id", f.ID, "size", f.Size, "partials", len(f.PartialUploads))
	s.publish(events.FileCreated, f)
	s.publish(events.UploadComplete, f)
	return f, nil
}

func (s *Storage) GetReader(ctx context.Context, id string) (io.ReadCloser, error) {
	return s.ds.GetReader(ctx, id)
}

func (s *Storage) List(ctx context.Context) ([]File, error) {
	return s.ds.List(ctx)
}

func (s *Storage) HasExtension(name string) bool {
	return s.ds.HasExtension(name)
}

func (s *Storage) Extensions() ExtensionSet {
	return s.ds.Extensions()
}

func (s *Storage) Close() error {
	return s.ds.Close()
}
