package repositories

import (
	"context"
	"errors"
	"regexp"
	"time"

	"toko-catalog/internal/apperror"
	"toko-catalog/internal/models"
	"toko-catalog/internal/query"
	"toko-catalog/pkg/mongodb"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoProductRepository stores products as documents in the "products" collection.
type MongoProductRepository struct {
	collection *mongo.Collection
	schema     *query.Schema
}

// NewMongoProductRepository creates a repository over the products collection of db.
func NewMongoProductRepository(db *mongodb.DB) *MongoProductRepository {
	return &MongoProductRepository{
		collection: db.Database().Collection("products"),
		schema:     query.ProductSchema(),
	}
}

// GetByID retrieves a product by its ID.
func (r *MongoProductRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("product with ID %s not found", id)
		}
		return nil, apperror.Upstream(err, "failed to get product by ID %s", id)
	}
	return &product, nil
}

// Create inserts a new product at version 1.
func (r *MongoProductRepository) Create(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	product.Version = 1
	product.CreatedAt = now
	product.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, product); err != nil {
		return apperror.Upstream(err, "failed to create product")
	}
	return nil
}

// Update sets the mutable fields when the stored version still matches.
func (r *MongoProductRepository) Update(ctx context.Context, product *models.Product) error {
	next := *product
	next.Version = product.Version + 1
	next.UpdatedAt = time.Now().UTC()

	filter := bson.M{"_id": product.ID, "version": product.Version}
	update := bson.M{"$set": bson.M{
		"name":        next.Name,
		"description": next.Description,
		"price":       next.Price,
		"category":    next.Category,
		"stock":       next.Stock,
		"brand":       next.Brand,
		"for_whom":    next.ForWhom,
		"images":      next.Images,
		"version":     next.Version,
		"updated_at":  next.UpdatedAt,
	}}

	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return apperror.Upstream(err, "failed to update product")
	}
	if res.MatchedCount == 0 {
		n, err := r.collection.CountDocuments(ctx, bson.M{"_id": product.ID})
		if err != nil {
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

// Delete removes a product by its ID.
func (r *MongoProductRepository) Delete(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apperror.Upstream(err, "failed to delete product")
	}
	if res.DeletedCount == 0 {
		return apperror.NotFound("product with ID %s not found for deletion", id)
	}
	return nil
}

// CountAll counts every document in the collection.
func (r *MongoProductRepository) CountAll(ctx context.Context) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, apperror.Upstream(err, "failed to count products")
	}
	return n, nil
}

// Find runs spec as a filtered, sorted and paginated find.
func (r *MongoProductRepository) Find(ctx context.Context, spec query.Spec) ([]models.Product, error) {
	filter, opts := findArgs(spec)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperror.Upstream(err, "failed to list products")
	}
	defer cursor.Close(ctx)

	products := make([]models.Product, 0, spec.Limit)
	if err := cursor.All(ctx, &products); err != nil {
		return nil, apperror.Upstream(err, "failed to decode products")
	}
	return products, nil
}

// AggregateByField groups products by field with a $group pipeline.
func (r *MongoProductRepository) AggregateByField(ctx context.Context, field string) ([]models.StatsBucket, error) {
	cursor, err := r.collection.Aggregate(ctx, statsPipeline(r.schema, field))
	if err != nil {
		return nil, apperror.Upstream(err, "failed to aggregate products by %s", field)
	}
	defer cursor.Close(ctx)

	buckets := []models.StatsBucket{}
	if err := cursor.All(ctx, &buckets); err != nil {
		return nil, apperror.Upstream(err, "failed to decode product stats")
	}
	return buckets, nil
}

// statsPipeline groups on field. Unknown fields group on null, putting every product in one bucket.
func statsPipeline(schema *query.Schema, field string) mongo.Pipeline {
	var key any
	if f, ok := schema.Lookup(field); ok {
		key = "$" + documentKey(f.Column)
	}
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: key},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avg_price", Value: bson.D{{Key: "$avg", Value: "$price"}}},
			{Key: "min_price", Value: bson.D{{Key: "$min", Value: "$price"}}},
			{Key: "max_price", Value: bson.D{{Key: "$max", Value: "$price"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
}

// findArgs renders spec as a Find filter and options.
func findArgs(spec query.Spec) (bson.D, *options.FindOptions) {
	b := &bsonBuilder{opts: options.Find()}
	spec.Apply(b)
	if len(b.sort) > 0 {
		b.opts.SetSort(b.sort)
	}
	if len(b.conds) == 0 {
		return bson.D{}, b.opts
	}
	return bson.D{{Key: "$and", Value: b.conds}}, b.opts
}

type bsonBuilder struct {
	conds bson.A
	sort  bson.D
	opts  *options.FindOptions
}

func documentKey(column string) string {
	if column == "id" {
		return "_id"
	}
	return column
}

func condition(f query.Field, op query.Op, value any) bson.D {
	key := documentKey(f.Column)
	switch op {
	case query.OpEq:
		return bson.D{{Key: key, Value: value}}
	case query.OpMatch:
		return bson.D{{Key: key, Value: bson.D{
			{Key: "$regex", Value: regexp.QuoteMeta(cast.ToString(value))},
			{Key: "$options", Value: "i"},
		}}}
	default:
		return bson.D{{Key: key, Value: bson.D{{Key: "$" + string(op), Value: value}}}}
	}
}

func (b *bsonBuilder) Where(f query.Field, op query.Op, value any) {
	b.conds = append(b.conds, condition(f, op, value))
}

func (b *bsonBuilder) Or(preds []query.Predicate) {
	alts := make(bson.A, 0, len(preds))
	for _, p := range preds {
		alts = append(alts, condition(p.Field, p.Op, p.Value))
	}
	b.conds = append(b.conds, bson.D{{Key: "$or", Value: alts}})
}

func (b *bsonBuilder) Sort(f query.Field, dir query.Direction) {
	order := 1
	if dir == query.Desc {
		order = -1
	}
	b.sort = append(b.sort, bson.E{Key: documentKey(f.Column), Value: order})
}

func (b *bsonBuilder) Skip(n int) { b.opts.SetSkip(int64(n)) }

func (b *bsonBuilder) Limit(n int) { b.opts.SetLimit(int64(n)) }
