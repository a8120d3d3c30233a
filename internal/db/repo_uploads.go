package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/DanikLP1/tus-storage-service/internal/storage"
	"github.com/DanikLP1/tus-storage-service/internal/storage/filestore"
)

// UploadRepo keeps upload records in the uploads table. It backs a filestore
// when the records should live in a database instead of sidecar files.
type UploadRepo struct {
	db *DB
}

func NewUploadRepo(db *DB) *UploadRepo { return &UploadRepo{db: db} }

var _ filestore.InfoStore = (*UploadRepo)(nil)

// Create inserts the row in one statement; the primary key rejects duplicates.
func (r *UploadRepo) Create(ctx context.Context, f storage.File) error {
	row := fromFile(f)
	err := r.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, f.ID)
	}
	// dialects without error translation report a plain constraint failure
	var n int64
	if cerr := r.db.WithContext(ctx).Model(&Upload{}).Where("id = ?", f.ID).Count(&n).Error; cerr == nil && n > 0 {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, f.ID)
	}
	return err
}

func (r *UploadRepo) Get(ctx context.Context, id string) (storage.File, error) {
	var row Upload
	if err := r.db.WithContext(ctx).Take(&row, "id = ?", id).Error; err != nil {
		return storage.File{}, notFound(err, id)
	}
	return row.toFile(), nil
}

// Update rewrites every mutable column in one statement.
func (r *UploadRepo) Update(ctx context.Context, f storage.File) error {
	row := fromFile(f)
	res := r.db.WithContext(ctx).
		Model(&Upload{}).
		Where("id = ?", f.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, f.ID)
	}
	return nil
}

func (r *UploadRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Upload{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return nil
}

func (r *UploadRepo) List(ctx context.Context) ([]storage.File, error) {
	var rows []Upload
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]storage.File, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toFile())
	}
	return out, nil
}

func fromFile(f storage.File) Upload {
	u := Upload{
		ID:             f.ID,
		UploadLength:   f.UploadLength,
		DeferLength:    f.DeferLength,
		Metadata:       f.Metadata,
		Size:           f.Size,
		IsPartial:      f.IsPartial,
		IsFinal:        f.IsFinal,
		PartialUploads: strings.Join(f.PartialUploads, ","),
		CreatedAt:      f.CreatedAt.UTC(),
	}
	if !f.ExpiresAt.IsZero() {
		t := f.ExpiresAt.UTC()
		u.ExpiresAt = &t
	}
	return u
}

func (u Upload) toFile() storage.File {
	f := storage.File{
		ID:           u.ID,
		UploadLength: u.UploadLength,
		DeferLength:  u.DeferLength,
		Metadata:     u.Metadata,
		Size:         u.Size,
		IsPartial:    u.IsPartial,
		IsFinal:      u.IsFinal,
		CreatedAt:    u.CreatedAt.UTC(),
	}
	if u.PartialUploads != "" {
		f.PartialUploads = strings.Split(u.PartialUploads, ",")
	}
	if u.ExpiresAt != nil {
		f.ExpiresAt = u.ExpiresAt.UTC()
	}
	return f
}

// Expired returns the ids of incomplete uploads whose expiry passed before now.
func (r *UploadRepo) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	q := r.db.WithContext(ctx).
		Model(&Upload{}).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
		Where("defer_length = ? OR size <> upload_length", true).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
