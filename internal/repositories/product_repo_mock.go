package repositories

import (
	"context"
	"slices"
	"sync"
	"time"

	"toko-catalog/internal/apperror"
	"toko-catalog/internal/models"
	"toko-catalog/internal/query"

	"github.com/google/uuid"
)

// MockProductRepository is an in-memory implementation of ProductRepository. Listings run the
// same query.Spec through query.Run.
type MockProductRepository struct {
	products map[string]models.Product
	schema   *query.Schema
	last     time.Time
	mu       sync.RWMutex
}

// NewMockProductRepository creates a new instance of MockProductRepository.
func NewMockProductRepository() *MockProductRepository {
	return &MockProductRepository{
		products: make(map[string]models.Product),
		schema:   query.ProductSchema(),
	}
}

// GetByID returns a product by its ID.
func (r *MockProductRepository) GetByID(_ context.Context, id string) (*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return nil, apperror.NotFound("product with ID %s not found", id)
	}
	product.Images = slices.Clone(product.Images)
	return &product, nil
}

// Create adds a new product.
func (r *MockProductRepository) Create(_ context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if _, exists := r.products[product.ID]; exists {
		return apperror.Conflict("product with ID %s already exists", product.ID)
	}
	now := r.tick()
	product.Version = 1
	product.CreatedAt = now
	product.UpdatedAt = now

	stored := *product
	stored.Images = slices.Clone(product.Images)
	r.products[product.ID] = stored
	return nil
}

// Update modifies an existing product.
func (r *MockProductRepository) Update(_ context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.products[product.ID]
	if !ok {
		return apperror.NotFound("product with ID %s not found for update", product.ID)
	}
	if current.Version != product.Version {
		return apperror.Conflict("product %s was modified concurrently, reload and retry", product.ID)
	}

	product.Version++
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = r.tick()

	stored := *product
	stored.Images = slices.Clone(product.Images)
	r.products[product.ID] = stored
	return nil
}

// Delete removes a product by its ID.
func (r *MockProductRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return apperror.NotFound("product with ID %s not found for deletion", id)
	}
	delete(r.products, id)
	return nil
}

// CountAll returns the number of stored products.
func (r *MockProductRepository) CountAll(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.products)), nil
}

// Find evaluates spec against the stored products.
func (r *MockProductRepository) Find(_ context.Context, spec query.Spec) ([]models.Product, error) {
	var plan query.Plan
	spec.Apply(&plan)
	return query.Run(&plan, r.snapshot(), productColumn), nil
}

// AggregateByField groups the stored products by field, ordered by group key.
func (r *MockProductRepository) AggregateByField(_ context.Context, field string) ([]models.StatsBucket, error) {
	f, known := r.schema.Lookup(field)

	groups := make(map[any]*models.StatsBucket)
	var keys []any
	for _, p := range r.snapshot() {
		var key any
		if known {
			key = productColumn(p, f.Column)
		}
		b, ok := groups[key]
		if !ok {
			b = &models.StatsBucket{GroupKey: key, MinPrice: p.Price, MaxPrice: p.Price}
			groups[key] = b
			keys = append(keys, key)
		}
		b.Count++
		b.AvgPrice += p.Price // running sum until the end
		b.MinPrice = min(b.MinPrice, p.Price)
		b.MaxPrice = max(b.MaxPrice, p.Price)
	}

	slices.SortFunc(keys, query.Compare)
	buckets := make([]models.StatsBucket, 0, len(keys))
	for _, k := range keys {
		b := groups[k]
		b.AvgPrice /= float64(b.Count)
		buckets = append(buckets, *b)
	}
	return buckets, nil
}

func (r *MockProductRepository) snapshot() []models.Product {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Product, 0, len(r.products))
	for _, p := range r.products {
		p.Images = slices.Clone(p.Images)
		out = append(out, p)
	}
	return out
}

// tick returns a timestamp strictly after the previous one so creation order is total.
func (r *MockProductRepository) tick() time.Time {
	now := time.Now().UTC()
	if !now.After(r.last) {
		now = r.last.Add(time.Microsecond)
	}
	r.last = now
	return now
}

func productColumn(p models.Product, column string) any {
	switch column {
	case "id":
		return p.ID
	case "name":
		return p.Name
	case "description":
		return p.Description
	case "price":
		return p.Price
	case "category":
		return p.Category
	case "stock":
		return p.Stock
	case "brand":
		return p.Brand
	case "for_whom":
		return p.ForWhom
	case "created_at":
		return p.CreatedAt
	case "updated_at":
		return p.UpdatedAt
	}
	return nil
}
