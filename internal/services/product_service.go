package services

import (
	"context"
	"errors"

	"toko-catalog/internal/apperror"
	"toko-catalog/internal/assets"
	"toko-catalog/internal/models"
	"toko-catalog/internal/query"
	"toko-catalog/internal/repositories"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ProductInput carries the descriptive fields of a new product.
type ProductInput struct {
	Name        string  `json:"name" form:"name" validate:"required,max=200"`
	Description string  `json:"description" form:"description" validate:"max=5000"`
	Price       float64 `json:"price" form:"price" validate:"gte=0"`
	Category    string  `json:"category" form:"category" validate:"max=100"`
	Stock       int     `json:"stock" form:"stock" validate:"gte=0"`
	Brand       string  `json:"brand" form:"brand" validate:"max=100"`
	ForWhom     string  `json:"for_whom" form:"for_whom" validate:"max=100"`
}

// ProductPatch changes only the fields that are set.
type ProductPatch struct {
	Name        *string  `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string  `json:"description" validate:"omitempty,max=5000"`
	Price       *float64 `json:"price" validate:"omitempty,gte=0"`
	Category    *string  `json:"category" validate:"omitempty,max=100"`
	Stock       *int     `json:"stock" validate:"omitempty,gte=0"`
	Brand       *string  `json:"brand" validate:"omitempty,max=100"`
	ForWhom     *string  `json:"for_whom" validate:"omitempty,max=100"`
}

func (p ProductPatch) apply(product *models.Product) {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.Price != nil {
		product.Price = *p.Price
	}
	if p.Category != nil {
		product.Category = *p.Category
	}
	if p.Stock != nil {
		product.Stock = *p.Stock
	}
	if p.Brand != nil {
		product.Brand = *p.Brand
	}
	if p.ForWhom != nil {
		product.ForWhom = *p.ForWhom
	}
}

// Listing is one page of products.
type Listing struct {
	Results  int              `json:"results"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
	Products []models.Product `json:"products"`
}

// ProductService handles business logic related to products.
type ProductService struct {
	repo     repositories.ProductRepository
	assets   *assets.Reconciler
	schema   *query.Schema
	opts     query.Options
	validate *validator.Validate
	log      *zap.Logger
}

// NewProductService creates a new ProductService.
func NewProductService(repo repositories.ProductRepository, reconciler *assets.Reconciler, opts query.Options, log *zap.Logger) *ProductService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProductService{
		repo:     repo,
		assets:   reconciler,
		schema:   query.ProductSchema(),
		opts:     opts,
		validate: validator.New(),
		log:      log.Named("products"),
	}
}

// ListProducts runs the listing pipeline over params. Total counts the whole catalog.
func (s *ProductService) ListProducts(ctx context.Context, params query.Params) (*Listing, error) {
	total, err := s.repo.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	spec, err := query.Build(s.schema, params, total, s.opts)
	if err != nil {
		return nil, err
	}

	listing := &Listing{Total: total, Page: spec.Page, Limit: spec.Limit, Products: []models.Product{}}
	if spec.OutOfRange() {
		return listing, nil
	}
	products, err := s.repo.Find(ctx, spec)
	if err != nil {
		return nil, err
	}
	listing.Products = products
	listing.Results = len(products)
	return listing, nil
}

// GetProductByID retrieves a single product by its ID.
func (s *ProductService) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	return s.repo.GetByID(ctx, id)
}

// CreateProduct uploads files and stores a product pointing at them. Nothing is persisted unless
// every upload succeeds; uploads made for a product that could not be stored are compensated.
func (s *ProductService) CreateProduct(ctx context.Context, input ProductInput, files []assets.File) (*models.Product, error) {
	if err := s.validateStruct(input); err != nil {
		return nil, err
	}

	images, err := s.assets.UploadAll(ctx, files)
	if err != nil {
		var uploadErr *assets.UploadError
		if errors.As(err, &uploadErr) {
			s.assets.Compensate(ctx, "", uploadErr.Completed, "create_upload_failed")
		}
		return nil, err
	}

	product := &models.Product{
		Name:        input.Name,
		Description: input.Description,
		Price:       input.Price,
		Category:    input.Category,
		Stock:       input.Stock,
		Brand:       input.Brand,
		ForWhom:     input.ForWhom,
		Images:      images,
	}
	if err := s.repo.Create(ctx, product); err != nil {
		s.assets.Compensate(ctx, "", images, "create_persist_failed")
		return nil, err
	}
	s.log.Info("product created", zap.String("product_id", product.ID), zap.Int("images", len(images)))
	return product, nil
}

// UpdateProductDetails applies patch to the descriptive fields. Images are left alone.
func (s *ProductService) UpdateProductDetails(ctx context.Context, id string, patch ProductPatch) (*models.Product, error) {
	if err := s.validateStruct(patch); err != nil {
		return nil, err
	}
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.apply(product)
	if err := s.repo.Update(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// ReplaceProductImages swaps the product's whole image list for freshly uploaded files.
func (s *ProductService) ReplaceProductImages(ctx context.Context, id string, files []assets.File) (*models.Product, error) {
	return s.assets.ReplaceImages(ctx, id, files)
}

// RemoveProductImage deletes one image of a product.
func (s *ProductService) RemoveProductImage(ctx context.Context, id, imageID string) (*models.Product, error) {
	return s.assets.RemoveImage(ctx, id, imageID)
}

// DeleteProduct deletes a product and releases its images.
func (s *ProductService) DeleteProduct(ctx context.Context, id string) (*assets.CascadeResult, error) {
	result, err := s.assets.DeleteProductCascade(ctx, id)
	if err != nil {
		return result, err
	}
	s.log.Info("product deleted", zap.String("product_id", id), zap.Int("orphaned_assets", len(result.Failed)))
	return result, nil
}

// ValidateFiles checks uploads before the handler spends time staging them.
func (s *ProductService) ValidateFiles(files []assets.File) error {
	return s.assets.Validate(files)
}

func (s *ProductService) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return apperror.Validation(err, "field '%s' failed on the '%s' tag", e.Field(), e.Tag())
	}
	return apperror.Validation(err, "invalid product input")
}
