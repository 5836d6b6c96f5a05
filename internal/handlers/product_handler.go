package handlers

import (
	"fmt"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"

	"toko-catalog/internal/apperror"
	"toko-catalog/internal/assets"
	"toko-catalog/internal/query"
	"toko-catalog/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// imagesField is the multipart field carrying product pictures.
const imagesField = "images"

// ProductHandler handles HTTP requests for products.
type ProductHandler struct {
	service *services.ProductService
	stats   *services.StatsService
	log     *zap.Logger
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(service *services.ProductService, stats *services.StatsService, log *zap.Logger) *ProductHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProductHandler{
		service: service,
		stats:   stats,
		log:     log.Named("http"),
	}
}

// RegisterRoutes registers the product routes. Reads are public; every write runs guard first.
func (h *ProductHandler) RegisterRoutes(router fiber.Router, guard fiber.Handler) {
	productRoutes := router.Group("/products")
	productRoutes.Get("/", h.HandleGetProducts)
	productRoutes.Get("/stats/:field", h.HandleGetStats)
	productRoutes.Get("/:id", h.HandleGetProductByID)

	productRoutes.Post("/", guard, h.HandleCreateProduct)
	productRoutes.Put("/:id", guard, h.HandleUpdateProduct)
	productRoutes.Put("/:id/images", guard, h.HandleReplaceImages)
	productRoutes.Delete("/:productId/images/:imageId", guard, h.HandleRemoveImage)
	productRoutes.Delete("/:id", guard, h.HandleDeleteProduct)
}

// HandleGetProducts lists products filtered, searched, sorted and paginated by the query string.
func (h *ProductHandler) HandleGetProducts(c *fiber.Ctx) error {
	listing, err := h.service.ListProducts(c.UserContext(), queryParams(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(listing)
}

// HandleGetProductByID retrieves a single product by its ID.
func (h *ProductHandler) HandleGetProductByID(c *fiber.Ctx) error {
	product, err := h.service.GetProductByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(fiber.Map{"product": product})
}

// HandleGetStats groups the catalog by the field named in the path.
func (h *ProductHandler) HandleGetStats(c *fiber.Ctx) error {
	buckets, err := h.stats.StatsByField(c.UserContext(), c.Params("field"))
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(fiber.Map{"buckets": buckets})
}

// HandleCreateProduct creates a product from multipart fields plus its images.
func (h *ProductHandler) HandleCreateProduct(c *fiber.Ctx) error {
	var input services.ProductInput
	if err := c.BodyParser(&input); err != nil {
		return fail(c, h.log, apperror.Validation(err, "invalid request body"))
	}

	files, cleanup, err := h.stageUploads(c)
	if err != nil {
		return fail(c, h.log, err)
	}
	defer cleanup()

	product, err := h.service.CreateProduct(c.UserContext(), input, files)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(product)
}

// HandleUpdateProduct applies a JSON patch to the descriptive fields of a product.
func (h *ProductHandler) HandleUpdateProduct(c *fiber.Ctx) error {
	var patch services.ProductPatch
	if err := c.BodyParser(&patch); err != nil {
		return fail(c, h.log, apperror.Validation(err, "invalid request body"))
	}

	product, err := h.service.UpdateProductDetails(c.UserContext(), c.Params("id"), patch)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(fiber.Map{"product": product})
}

// HandleReplaceImages replaces every image of a product with the uploaded ones. A missing product
// is reported before the uploads are looked at.
func (h *ProductHandler) HandleReplaceImages(c *fiber.Ctx) error {
	if _, err := h.service.GetProductByID(c.UserContext(), c.Params("id")); err != nil {
		return fail(c, h.log, err)
	}

	files, cleanup, err := h.stageUploads(c)
	if err != nil {
		return fail(c, h.log, err)
	}
	defer cleanup()

	product, err := h.service.ReplaceProductImages(c.UserContext(), c.Params("id"), files)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(fiber.Map{"product": product})
}

// HandleRemoveImage deletes one image of a product. External ids contain slashes, so clients send
// them path-escaped.
func (h *ProductHandler) HandleRemoveImage(c *fiber.Ctx) error {
	imageID, err := url.PathUnescape(c.Params("imageId"))
	if err != nil {
		return fail(c, h.log, apperror.Validation(err, "malformed image id"))
	}
	product, err := h.service.RemoveProductImage(c.UserContext(), c.Params("productId"), imageID)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(fiber.Map{"product": product})
}

// HandleDeleteProduct deletes a product and its images.
func (h *ProductHandler) HandleDeleteProduct(c *fiber.Ctx) error {
	productID := c.Params("id")
	result, err := h.service.DeleteProduct(c.UserContext(), productID)
	if err != nil {
		return fail(c, h.log, err)
	}
	orphaned := result.Failed
	if orphaned == nil {
		orphaned = []string{}
	}
	return c.JSON(fiber.Map{
		"message":         fmt.Sprintf("Product with ID %s deleted successfully", productID),
		"orphaned_assets": orphaned,
	})
}

// queryParams collects the query string, keeping repeated keys.
func queryParams(c *fiber.Ctx) query.Params {
	params := query.Params{}
	c.Context().QueryArgs().VisitAll(func(k, v []byte) {
		key := string(k)
		params[key] = append(params[key], string(v))
	})
	return params
}

// stageUploads validates the uploaded images and copies them to a private temp dir. A body that is
// not a multipart form carries no images. The returned cleanup removes the dir and must always be
// called when err is nil.
func (h *ProductHandler) stageUploads(c *fiber.Ctx) ([]assets.File, func(), error) {
	var headers []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil {
		headers = form.File[imagesField]
	}

	files := make([]assets.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, assets.File{Name: fh.Filename, Size: fh.Size})
	}
	if err := h.service.ValidateFiles(files); err != nil {
		return nil, nil, err
	}

	dir, err := os.MkdirTemp("", "toko-upload-*")
	if err != nil {
		return nil, nil, apperror.Upstream(err, "could not stage uploads")
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			h.log.Warn("could not remove staged uploads", zap.String("dir", dir), zap.Error(err))
		}
	}

	for i, fh := range headers {
		path := filepath.Join(dir, fmt.Sprintf("%d%s", i, filepath.Ext(fh.Filename)))
		if err := c.SaveFile(fh, path); err != nil {
			cleanup()
			return nil, nil, apperror.Upstream(err, "could not stage %s", fh.Filename)
		}
		files[i].Path = path
	}
	return files, cleanup, nil
}
