package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"toko-catalog/internal/apperror"
	"toko-catalog/internal/models"
	"toko-catalog/internal/query"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// GORMProductRepository is a GORM implementation of ProductRepository.
type GORMProductRepository struct {
	db     *gorm.DB
	schema *query.Schema
}

// NewGORMProductRepository creates a new instance of GORMProductRepository.
func NewGORMProductRepository(db *gorm.DB) *GORMProductRepository {
	return &GORMProductRepository{
		db:     db,
		schema: query.ProductSchema(),
	}
}

// GetByID retrieves a single product by its ID from the database.
func (r *GORMProductRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("product with ID %s not found", id)
		}
		return nil, apperror.Upstream(err, "failed to get product by ID %s", id)
	}
	return &product, nil
}

// Create creates a new product in the database.
func (r *GORMProductRepository) Create(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	product.Version = 1
	product.NameFolded = strings.ToLower(product.Name)
	if err := r.db.WithContext(ctx).Create(product).Error; err != nil {
		return apperror.Upstream(err, "failed to create product")
	}
	return nil
}

// Update writes every mutable column of product, guarded by its version.
func (r *GORMProductRepository) Update(ctx context.Context, product *models.Product) error {
	next := *product
	next.Version = product.Version + 1
	next.UpdatedAt = time.Now().UTC()
	next.NameFolded = strings.ToLower(next.Name)

	res := r.db.WithContext(ctx).
		Model(&next).
		Where("version = ?", product.Version).
		Select("*").
		Omit("created_at").
		Updates(&next)
	if res.Error != nil {
		return apperror.Upstream(res.Error, "failed to update product")
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := r.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", product.ID).Count(&n).Error; err != nil {
			return apperror.Upstream(err, "failed to update product")
		}
		if n == 0 {
			return apperror.NotFound("product with ID %s not found for update", product.ID)
		}
		return apperror.Conflict("product %s was modified concurrently, reload and retry", product.ID)
	}

	*product = next
	return nil
}

// Delete deletes a product by its ID from the database.
func (r *GORMProductRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.Product{}, "id = ?", id)
	if res.Error != nil {
		return apperror.Upstream(res.Error, "failed to delete product")
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("product with ID %s not found for deletion", id)
	}
	return nil
}

// CountAll counts every product, ignoring any listing filter.
func (r *GORMProductRepository) CountAll(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Product{}).Count(&n).Error; err != nil {
		return 0, apperror.Upstream(err, "failed to count products")
	}
	return n, nil
}

// Find lists the products selected by spec.
func (r *GORMProductRepository) Find(ctx context.Context, spec query.Spec) ([]models.Product, error) {
	b := &gormBuilder{tx: r.db.WithContext(ctx).Model(&models.Product{})}
	spec.Apply(b)

	products := make([]models.Product, 0, spec.Limit)
	if err := b.tx.Find(&products).Error; err != nil {
		return nil, apperror.Upstream(err, "failed to list products")
	}
	return products, nil
}

type statsRow struct {
	GroupKey *string
	Count    int64
	AvgPrice *float64
	MinPrice *float64
	MaxPrice *float64
}

// AggregateByField groups products by field. A field outside the schema groups everything under
// a single null key.
func (r *GORMProductRepository) AggregateByField(ctx context.Context, field string) ([]models.StatsBucket, error) {
	total, err := r.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	buckets := []models.StatsBucket{}
	if total == 0 {
		return buckets, nil
	}

	f, known := r.schema.Lookup(field)
	keyExpr := "NULL"
	if known {
		keyExpr = f.Column
	}

	tx := r.db.WithContext(ctx).Model(&models.Product{}).
		Select(keyExpr + " AS group_key, COUNT(*) AS count, AVG(price) AS avg_price, MIN(price) AS min_price, MAX(price) AS max_price")
	if known {
		tx = tx.Group(f.Column).Order("group_key")
	}

	var rows []statsRow
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, apperror.Upstream(err, "failed to aggregate products by %s", field)
	}

	for _, row := range rows {
		bucket := models.StatsBucket{
			Count:    row.Count,
			AvgPrice: deref(row.AvgPrice),
			MinPrice: deref(row.MinPrice),
			MaxPrice: deref(row.MaxPrice),
		}
		if row.GroupKey != nil {
			bucket.GroupKey = *row.GroupKey
			if f.Type == query.TypeNumber {
				bucket.GroupKey = cast.ToFloat64(*row.GroupKey)
			}
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// gormBuilder applies a query.Spec to a gorm statement. Columns come from the schema allow-list,
// values are always bound.
type gormBuilder struct {
	tx *gorm.DB
}

var sqlOps = map[query.Op]string{
	query.OpEq:  "=",
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

func (b *gormBuilder) Where(f query.Field, op query.Op, value any) {
	switch op {
	case query.OpIn:
		b.tx = b.tx.Where(f.Column+" IN ?", value)
	case query.OpMatch:
		b.tx = b.tx.Where(likeClause(f), likePattern(value))
	default:
		b.tx = b.tx.Where(f.Column+" "+sqlOps[op]+" ?", value)
	}
}

func (b *gormBuilder) Or(preds []query.Predicate) {
	clauses := make([]string, 0, len(preds))
	args := make([]any, 0, len(preds))
	for _, p := range preds {
		clauses = append(clauses, likeClause(p.Field))
		args = append(args, likePattern(p.Value))
	}
	b.tx = b.tx.Where("("+strings.Join(clauses, " OR ")+")", args...)
}

func (b *gormBuilder) Sort(f query.Field, dir query.Direction) {
	b.tx = b.tx.Order(f.Column + " " + dir.String())
}

func (b *gormBuilder) Skip(n int) { b.tx = b.tx.Offset(n) }

func (b *gormBuilder) Limit(n int) { b.tx = b.tx.Limit(n) }

func likeClause(f query.Field) string {
	if f.FoldedColumn != "" {
		return f.FoldedColumn + " LIKE ? ESCAPE '\\'"
	}
	return "LOWER(" + f.Column + ") LIKE ? ESCAPE '\\'"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(value any) string {
	return "%" + likeEscaper.Replace(strings.ToLower(cast.ToString(value))) + "%"
}
