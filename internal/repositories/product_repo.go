package repositories

import (
	"context"

	"toko-catalog/internal/models"
	"toko-catalog/internal/query"
)

// ProductRepository defines the interface for product data access.
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	// Update persists product if its Version still matches the stored one and bumps it.
	Update(ctx context.Context, product *models.Product) error
	Delete(ctx context.Context, id string) error
	// CountAll counts every stored product, ignoring any listing filter.
	CountAll(ctx context.Context) (int64, error)
	Find(ctx context.Context, spec query.Spec) ([]models.Product, error)
	AggregateByField(ctx context.Context, field string) ([]models.StatsBucket, error)
}
