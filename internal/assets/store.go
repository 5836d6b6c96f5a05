// Package assets manages product images held in a remote object store: validation, concurrent
// upload and delete fan-out, and reconciliation with the product record.
package assets

import (
	"context"

	"toko-catalog/internal/models"
	"toko-catalog/pkg/rabbitmq"
)

// Store is the remote object store holding product images.
type Store interface {
	// Upload copies a local temp file to the store and returns where it now lives.
	Upload(ctx context.Context, localPath string) (models.Image, error)
	Delete(ctx context.Context, externalID string) error
}

// ProductStore is the slice of the product repository the reconciler needs.
type ProductStore interface {
	GetByID(ctx context.Context, id string) (*models.Product, error)
	Update(ctx context.Context, product *models.Product) error
	Delete(ctx context.Context, id string) error
}

// CleanupPublisher hands orphaned external ids to an asynchronous cleanup worker.
type CleanupPublisher interface {
	PublishAssetCleanup(msg rabbitmq.AssetCleanupMessage) error
}
