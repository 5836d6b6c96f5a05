package assets

import (
	"context"
	"errors"
	"fmt"

	"toko-catalog/internal/apperror"
	"toko-catalog/internal/models"
	"toko-catalog/pkg/rabbitmq"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UploadError is returned when a batch upload fails part way. Completed lists the images that
// did reach the store and now need compensation.
type UploadError struct {
	Err       error
	Completed []models.Image
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload batch failed after %d completed uploads: %v", len(e.Completed), e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// CascadeResult reports which remote assets a product deletion released.
type CascadeResult struct {
	Deleted []string `json:"deleted"`
	Failed  []string `json:"failed"`
}

// DefaultConcurrency caps in-flight store calls per operation when Options.Concurrency is unset.
const DefaultConcurrency = 8

// Options tune the reconciler.
type Options struct {
	// PurgeSuperseded deletes the previous remote images once a replacement is persisted.
	PurgeSuperseded bool
	// Concurrency is the most store calls one operation keeps in flight.
	Concurrency     int
}

// Reconciler keeps product image lists and the remote store in step.
type Reconciler struct {
	store     Store
	products  ProductStore
	validator Validator
	cleanup   CleanupPublisher
	opts      Options
	log       *zap.Logger
}

// NewReconciler wires a reconciler. cleanup may be nil, in which case leftovers are only logged.
func NewReconciler(store Store, products ProductStore, validator Validator, cleanup CleanupPublisher, opts Options, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Reconciler{
		store:     store,
		products:  products,
		validator: validator,
		cleanup:   cleanup,
		opts:      opts,
		log:       log.Named("assets"),
	}
}

// Validate checks files without touching the store.
func (r *Reconciler) Validate(files []File) error {
	return r.validator.Validate(files)
}

// UploadAll validates files and uploads them concurrently, returning images in input order.
// On failure the returned *UploadError carries the uploads that did complete; compensating them is
// the caller's job (see Compensate).
func (r *Reconciler) UploadAll(ctx context.Context, files []File) ([]models.Image, error) {
	if err := r.validator.Validate(files); err != nil {
		return nil, err
	}

	images := make([]models.Image, len(files))
	done := make([]bool, len(files))

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			img, err := r.store.Upload(ctx, f.Path)
			if err != nil {
				return apperror.Upstream(err, "could not upload %s", f.Name)
			}
			images[i] = img
			done[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		completed := make([]models.Image, 0, len(files))
		for i, ok := range done {
			if ok {
				completed = append(completed, images[i])
			}
		}
		return nil, &UploadError{Err: err, Completed: completed}
	}
	return images, nil
}

// ReplaceImages uploads files and makes them the product's whole image list.
func (r *Reconciler) ReplaceImages(ctx context.Context, productID string, files []File) (*models.Product, error) {
	if err := r.validator.Validate(files); err != nil {
		return nil, err
	}
	product, err := r.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	images, err := r.UploadAll(ctx, files)
	if err != nil {
		r.compensateUpload(ctx, productID, err)
		return nil, err
	}

	superseded := product.Images
	product.Images = images
	if err := r.products.Update(ctx, product); err != nil {
		r.Compensate(ctx, productID, images, "replace_images_persist_failed")
		return nil, err
	}

	if r.opts.PurgeSuperseded && len(superseded) > 0 {
		ids := lo.Map(superseded, func(img models.Image, _ int) string { return img.ExternalID })
		if failed := r.deleteAll(ctx, ids); len(failed) > 0 {
			r.queueOrphans(productID, failed, "superseded_purge_failed")
		}
	}
	return product, nil
}

// RemoveImage deletes one image from the store and from the product.
func (r *Reconciler) RemoveImage(ctx context.Context, productID, externalID string) (*models.Product, error) {
	product, err := r.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !lo.ContainsBy(product.Images, func(img models.Image) bool { return img.ExternalID == externalID }) {
		return nil, apperror.NotFound("image %s does not belong to product %s", externalID, productID)
	}

	if err := r.store.Delete(ctx, externalID); err != nil {
		return nil, apperror.Upstream(err, "could not delete image %s", externalID)
	}

	product.Images = lo.Filter(product.Images, func(img models.Image, _ int) bool {
		return img.ExternalID != externalID
	})
	if err := r.products.Update(ctx, product); err != nil {
		// The remote object is already gone; the record still points at it until a retry succeeds.
		r.log.Warn("image deleted remotely but product update failed",
			zap.String("product_id", productID), zap.String("external_id", externalID), zap.Error(err))
		return nil, err
	}
	return product, nil
}

// DeleteProductCascade releases every remote image of the product concurrently and then removes
// the record, whatever the individual deletions returned.
func (r *Reconciler) DeleteProductCascade(ctx context.Context, productID string) (*CascadeResult, error) {
	product, err := r.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	ids := product.ImageIDs()
	failed := r.deleteAll(ctx, ids)
	result := &CascadeResult{
		Deleted: lo.Without(ids, failed...),
		Failed:  failed,
	}
	if len(failed) > 0 {
		r.queueOrphans(productID, failed, "product_delete_failed")
	}

	if err := r.products.Delete(ctx, productID); err != nil {
		return result, err
	}
	return result, nil
}

// Compensate makes a best-effort attempt to delete images uploaded by a failed operation.
// Whatever cannot be deleted is queued for the cleanup worker.
func (r *Reconciler) Compensate(ctx context.Context, productID string, images []models.Image, reason string) {
	if len(images) == 0 {
		return
	}
	ids := lo.Map(images, func(img models.Image, _ int) string { return img.ExternalID })
	r.log.Info("compensating uploads", zap.String("reason", reason), zap.Strings("external_ids", ids))
	if failed := r.deleteAll(ctx, ids); len(failed) > 0 {
		r.queueOrphans(productID, failed, reason)
	}
}

func (r *Reconciler) compensateUpload(ctx context.Context, productID string, err error) {
	var uploadErr *UploadError
	if errors.As(err, &uploadErr) {
		r.Compensate(ctx, productID, uploadErr.Completed, "upload_batch_failed")
	}
}

// deleteAll fans deletions out and returns the ids that could not be deleted, in input order.
func (r *Reconciler) deleteAll(ctx context.Context, ids []string) []string {
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			errs[i] = r.store.Delete(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, err := range errs {
		if err != nil {
			r.log.Warn("remote asset delete failed", zap.String("external_id", ids[i]), zap.Error(err))
			failed = append(failed, ids[i])
		}
	}
	return failed
}

func (r *Reconciler) queueOrphans(productID string, ids []string, reason string) {
	if r.cleanup == nil {
		r.log.Error("orphaned remote assets left behind",
			zap.String("product_id", productID), zap.String("reason", reason), zap.Strings("external_ids", ids))
		return
	}
	msg := rabbitmq.AssetCleanupMessage{ExternalIDs: ids, Reason: reason, ProductID: productID}
	if err := r.cleanup.PublishAssetCleanup(msg); err != nil {
		r.log.Error("could not queue orphaned assets",
			zap.String("product_id", productID), zap.Strings("external_ids", ids), zap.Error(err))
	}
}
