package db

import "time"

// Upload is the stored record of one upload, keyed by its id.
type Upload struct {
	ID             string `gorm:"primaryKey;size:128"`
	UploadLength   int64  `gorm:"not null;default:0"`
	DeferLength    bool   `gorm:"not null;default:false"`
	Metadata       string `gorm:"type:text"`
	Size           int64  `gorm:"not null;default:0"`
	IsPartial      bool   `gorm:"not null;default:false"`
	IsFinal        bool   `gorm:"not null;default:false"`
	PartialUploads string `gorm:"type:text"` // comma separated ids, in order
	CreatedAt      time.Time
	ExpiresAt      *time.Time `gorm:"index"`
}
