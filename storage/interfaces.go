package storage

import (
	"context"

	"land-collector/models"
)

// Gateway is the interface any storage backend must satisfy. Persist
// reports every failure to the caller; nothing is swallowed.
type Gateway interface {
	Persist(ctx context.Context, rec *models.CanonicalPropertyRecord, vr models.ValidationResult) error
	Close() error
}
