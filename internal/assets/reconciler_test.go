package assets_test

import (
	"context"
	"errors"
	"testing"

	"toko-catalog/internal/apperror"
	"toko-catalog/internal/assets"
	"toko-catalog/internal/models"
	"toko-catalog/pkg/rabbitmq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upload(ctx context.Context, localPath string) (models.Image, error) {
	args := m.Called(ctx, localPath)
	return args.Get(0).(models.Image), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, externalID string) error {
	return m.Called(ctx, externalID).Error(0)
}

type mockProducts struct {
	mock.Mock
}

func (m *mockProducts) GetByID(ctx context.Context, id string) (*models.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *mockProducts) Update(ctx context.Context, product *models.Product) error {
	return m.Called(ctx, product).Error(0)
}

func (m *mockProducts) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishAssetCleanup(msg rabbitmq.AssetCleanupMessage) error {
	return m.Called(msg).Error(0)
}

func image(id string) models.Image {
	return models.Image{URL: "https://cdn.example.com/" + id, ExternalID: id}
}

func files(names ...string) []assets.File {
	out := make([]assets.File, 0, len(names))
	for _, n := range names {
		out = append(out, assets.File{Name: n, Size: 1024, Path: "/tmp/" + n})
	}
	return out
}

func newReconciler(store *mockStore, products *mockProducts, pub assets.CleanupPublisher, purge bool) *assets.Reconciler {
	return assets.NewReconciler(store, products, assets.NewValidator(0), pub, assets.Options{PurgeSuperseded: purge}, nil)
}

func TestUploadAll_PreservesOrder(t *testing.T) {
	store := new(mockStore)
	store.On("Upload", mock.Anything, "/tmp/a.png").Return(image("a"), nil).Once()
	store.On("Upload", mock.Anything, "/tmp/b.jpg").Return(image("b"), nil).Once()
	store.On("Upload", mock.Anything, "/tmp/c.jpeg").Return(image("c"), nil).Once()

	r := newReconciler(store, new(mockProducts), nil, false)
	images, err := r.UploadAll(context.Background(), files("a.png", "b.jpg", "c.jpeg"))

	require.NoError(t, err)
	assert.Equal(t, []models.Image{image("a"), image("b"), image("c")}, images)
	store.AssertExpectations(t)
}

func TestUploadAll_ValidatesBeforeUploading(t *testing.T) {
	store := new(mockStore)
	r := newReconciler(store, new(mockProducts), nil, false)

	_, err := r.UploadAll(context.Background(), nil)
	assert.True(t, apperror.HasCode(err, assets.CodeNoFilesProvided))

	_, err = r.UploadAll(context.Background(), files("a.png", "b.gif"))
	assert.True(t, apperror.HasCode(err, assets.CodeInvalidFormat))

	store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
}

func TestUploadAll_PartialFailureReportsCompleted(t *testing.T) {
	store := new(mockStore)
	store.On("Upload", mock.Anything, "/tmp/a.png").Return(image("a"), nil).Once()
	store.On("Upload", mock.Anything, "/tmp/b.png").Return(models.Image{}, errors.New("503 slow down")).Once()
	store.On("Upload", mock.Anything, "/tmp/c.png").Return(image("c"), nil).Once()

	r := newReconciler(store, new(mockProducts), nil, false)
	images, err := r.UploadAll(context.Background(), files("a.png", "b.png", "c.png"))

	assert.Nil(t, images)
	var uploadErr *assets.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, []models.Image{image("a"), image("c")}, uploadErr.Completed)
	assert.True(t, apperror.HasCode(err, apperror.CodeUpstream))
	store.AssertExpectations(t)
}

func TestReplaceImages_PurgesSupersededAssets(t *testing.T) {
	store := new(mockStore)
	products := new(mockProducts)
	product := &models.Product{ID: "p1", Images: []models.Image{image("old-1"), image("old-2")}}

	products.On("GetByID", mock.Anything, "p1").Return(product, nil).Once()
	store.On("Upload", mock.Anything, "/tmp/new.png").Return(image("new"), nil).Once()
	products.On("Update", mock.Anything, mock.MatchedBy(func(p *models.Product) bool {
		return len(p.Images) == 1 && p.Images[0].ExternalID == "new"
	})).Return(nil).Once()
	store.On("Delete", mock.Anything, "old-1").Return(nil).Once()
	store.On("Delete", mock.Anything, "old-2").Return(nil).Once()

	r := newReconciler(store, products, nil, true)
	updated, err := r.ReplaceImages(context.Background(), "p1", files("new.png"))

	require.NoError(t, err)
	assert.Equal(t, []models.Image{image("new")}, updated.Images)
	store.AssertExpectations(t)
	products.AssertExpectations(t)
}

func TestReplaceImages_KeepsSupersededAssetsWhenPurgeDisabled(t *testing.T) {
	store := new(mockStore)
	products := new(mockProducts)
	product := &models.Product{ID: "p1", Images: []models.Image{image("old-1")}}

	products.On("GetByID", mock.Anything, "p1").Return(product, nil).Once()
	store.On("Upload", mock.Anything, "/tmp/new.png").Return(image("new"), nil).Once()
	products.On("Update", mock.Anything, mock.Anything).Return(nil).Once()

	r := newReconciler(store, products, nil, false)
	_, err := r.ReplaceImages(context.Background(), "p1", files("new.png"))

	require.NoError(t, err)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestReplaceImages_UploadFailureCompensates(t *testing.T) {
	store := new(mockStore)
	products := new(mockProducts)
	pub := new(mockPublisher)
	product := &models.Product{ID: "p1", Images: []models.Image{image("old")}}

	products.On("GetByID", mock.Anything, "p1").Return(product, nil).Once()
	store.On("Upload", mock.Anything, "/tmp/a.png").Return(image("a"), nil).Once()
	store.On("Upload", mock.Anything, "/tmp/b.png").Return(models.Image{}, errors.New("timeout")).Once()
	store.On("Delete", mock.Anything, "a").Return(errors.New("still down")).Once()
	pub.On("PublishAssetCleanup", mock.MatchedBy(func(msg rabbitmq.AssetCleanupMessage) bool {
		return msg.ProductID == "p1" && len(msg.ExternalIDs) == 1 && msg.ExternalIDs[0] == "a"
	})).Return(nil).Once()

	r := newReconciler(store, products, pub, true)
	_, err := r.ReplaceImages(context.Background(), "p1", files("a.png", "b.png"))

	require.Error(t, err)
	assert.Equal(t, []models.Image{image("old")}, product.Images)
	products.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestReplaceImages_ConflictCompensatesNewUploads(t *testing.T) {
	store := new(mockStore)
	products := new(mockProducts)
	product := &models.Product{ID: "p1", Version: 3, Images: []models.Image{image("old")}}

	products.On("GetByID", mock.Anything, "p1").Return(product, nil).Once()
	store.On("Upload", mock.Anything, "/tmp/a.png").Return(image("a"), nil).Once()
	products.On("Update", mock.Anything, mock.Anything).Return(apperror.Conflict("product p1 was modified concurrently")).Once()
	store.On("Delete", mock.Anything, "a").Return(nil).Once()

	r := newReconciler(store, products, nil, true)
	_, err := r.ReplaceImages(context.Background(), "p1", files("a.png"))

	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Delete", mock.Anything, "old")
}

func TestReplaceImages_MissingProduct(t *testing.T) {
	store := new(mockStore)
	products := new(mockProducts)
	products.On("GetByID", mock.Anything, "nope").Return(nil, apperror.NotFound("product nope does not exist")).Once()

	r := newReconciler(store, products, nil, true)
	_, err := r.ReplaceImages(context.Background(), "nope", files("a.png"))

	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
	store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
}

func TestRemoveImage(t *testing.T) {
	t.Run("removes the image remotely and from the record", func(t *testing.T) {
		store := new(mockStore)
		products := new(mockProducts)
		product := &models.Product{ID: "p1", Images: []models.Image{image("a"), image("b"), image("c")}}

		products.On("GetByID", mock.Anything, "p1").Return(product, nil).Once()
		store.On("Delete", mock.Anything, "b").Return(nil).Once()
		products.On("Update", mock.Anything, product).Return(nil).Once()

		updated, err := newReconciler(store, products, nil, true).RemoveImage(context.Background(), "p1", "b")

		require.NoError(t, err)
		assert.Equal(t, []models.Image{image("a"), image("c")}, updated.Images)
		store.AssertExpectations(t)
		products.AssertExpectations(t)
	})

	t.Run("missing product", func(t *testing.T) {
		products := new(mockProducts)
		products.On("GetByID", mock.Anything, "p1").Return(nil, apperror.NotFound("product p1 does not exist")).Once()

		_, err := newReconciler(new(mockStore), products, nil, true).RemoveImage(context.Background(), "p1", "b")
		assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
	})

	t.Run("image owned by someone else", func(t *testing.T) {
		store := new(mockStore)
		products := new(mockProducts)
		products.On("GetByID", mock.Anything, "p1").Return(&models.Product{ID: "p1", Images: []models.Image{image("a")}}, nil).Once()

		_, err := newReconciler(store, products, nil, true).RemoveImage(context.Background(), "p1", "zzz")
		assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
		store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("remote delete failure leaves the record alone", func(t *testing.T) {
		store := new(mockStore)
		products := new(mockProducts)
		product := &models.Product{ID: "p1", Images: []models.Image{image("a")}}
		products.On("GetByID", mock.Anything, "p1").Return(product, nil).Once()
		store.On("Delete", mock.Anything, "a").Return(errors.New("access denied")).Once()

		_, err := newReconciler(store, products, nil, true).RemoveImage(context.Background(), "p1", "a")
		assert.True(t, apperror.HasCode(err, apperror.CodeUpstream))
		assert.Len(t, product.Images, 1)
		products.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}

func TestDeleteProductCascade(t *testing.T) {
	store := new(mockStore)
	products := new(mockProducts)
	pub := new(mockPublisher)
	product := &models.Product{ID: "p1", Images: []models.Image{image("a"), image("b"), image("c")}}

	products.On("GetByID", mock.Anything, "p1").Return(product, nil).Once()
	store.On("Delete", mock.Anything, "a").Return(nil).Once()
	store.On("Delete", mock.Anything, "b").Return(errors.New("network unreachable")).Once()
	store.On("Delete", mock.Anything, "c").Return(nil).Once()
	pub.On("PublishAssetCleanup", mock.MatchedBy(func(msg rabbitmq.AssetCleanupMessage) bool {
		return msg.Reason == "product_delete_failed" && len(msg.ExternalIDs) == 1 && msg.ExternalIDs[0] == "b"
	})).Return(nil).Once()
	products.On("Delete", mock.Anything, "p1").Return(nil).Once()

	result, err := newReconciler(store, products, pub, true).DeleteProductCascade(context.Background(), "p1")

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, result.Deleted)
	assert.Equal(t, []string{"b"}, result.Failed)
	store.AssertNumberOfCalls(t, "Delete", 3)
	products.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDeleteProductCascade_NoImages(t *testing.T) {
	store := new(mockStore)
	products := new(mockProducts)
	products.On("GetByID", mock.Anything, "p1").Return(&models.Product{ID: "p1"}, nil).Once()
	products.On("Delete", mock.Anything, "p1").Return(nil).Once()

	result, err := newReconciler(store, products, nil, true).DeleteProductCascade(context.Background(), "p1")

	require.NoError(t, err)
	assert.Empty(t, result.Deleted)
	assert.Empty(t, result.Failed)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
