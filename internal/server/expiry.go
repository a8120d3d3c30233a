// internal/server/expiry.go
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DanikLP1/tus-storage-service/internal/storage"
)

// RunExpiry removes expired, incomplete uploads every tick until ctx ends.
func (s *Server) RunExpiry(ctx context.Context, every time.Duration, batch int) error {
	log := s.Logger.With(slog.String("comp", "expiry"))
	if every <= 0 {
		every = 15 * time.Minute
	}
	log.Info("expiry.started", "every", every.String(), "batch", batch)

	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("expiry.stopped", "reason", "context canceled")
			return nil
		case <-t.C:
			s.sweepExpired(ctx, log, batch)
		}
	}
}

// sweepExpired runs one pass and returns how many uploads were removed.
func (s *Server) sweepExpired(ctx context.Context, log *slog.Logger, batch int) int {
	start := time.Now()
	ids, err := s.expiredIDs(ctx, batch)
	if err != nil {
		log.Error("expiry.query_fail", "err", err)
		return 0
	}
	if len(ids) == 0 {
		log.Debug("expiry.nothing_to_do")
		return 0
	}

	log.Info("expiry.pass_begin", "candidates", len(ids))
	removed := 0
	for _, id := range ids {
		ok, err := s.storage.RemoveExpired(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			log.Error("expiry.remove_fail", "upload_id", id, "err", err)
			// retried on the next pass
			continue
		}
		if !ok {
			continue
		}
		removed++
		log.Info("expiry.removed", "upload_id", id)
	}

	log.Info("expiry.pass_end",
		"removed", removed,
		"dur_ms", time.Since(start).Milliseconds(),
	)
	return removed
}

func (s *Server) expiredIDs(ctx context.Context, batch int) ([]string, error) {
	now := s.now()
	if s.findExpired != nil {
		return s.findExpired(ctx, now, batch)
	}

	files, err := s.storage.List(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, f := range files {
		if batch > 0 && len(ids) >= batch {
			break
		}
		if f.Expired(now) && !f.IsComplete() {
			ids = append(ids, f.ID)
		}
	}
	return ids, nil
}
