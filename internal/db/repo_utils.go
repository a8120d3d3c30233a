package db

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/DanikLP1/tus-storage-service/internal/storage"
)

// notFound maps gorm's missing-row error onto the storage taxonomy.
func notFound(err error, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return err
}
