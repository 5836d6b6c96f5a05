package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"

	"toko-catalog/internal/assets"
	"toko-catalog/internal/models"
	"toko-catalog/internal/query"
	"toko-catalog/internal/repositories"
	"toko-catalog/internal/server"
	"toko-catalog/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// memoryStore stands in for the object store. Uploads check that the staged file exists.
type memoryStore struct {
	mu         sync.Mutex
	objects    map[string]string
	failUpload string // uploads of paths with this suffix fail
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string]string)}
}

func (s *memoryStore) Upload(_ context.Context, localPath string) (models.Image, error) {
	if _, err := os.Stat(localPath); err != nil {
		return models.Image{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpload != "" && len(localPath) >= len(s.failUpload) && localPath[len(localPath)-len(s.failUpload):] == s.failUpload {
		return models.Image{}, errors.New("object store unavailable")
	}
	id := "products/" + uuid.NewString()
	s.objects[id] = localPath
	return models.Image{URL: "https://cdn.example.com/" + id, ExternalID: id}, nil
}

func (s *memoryStore) Delete(_ context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[externalID]; !ok {
		return fmt.Errorf("object %s does not exist", externalID)
	}
	delete(s.objects, externalID)
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type testEnv struct {
	app   *fiber.App
	repo  repositories.ProductRepository
	store *memoryStore
	auth  *services.AuthService
}

// setupApp sets up a Fiber app for testing with in-memory SQLite and all handlers/services.
func setupApp(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "failed to connect to in-memory database")
	require.NoError(t, db.AutoMigrate(&models.Product{}, &models.User{}))

	productRepo := repositories.NewGORMProductRepository(db)
	userRepo := repositories.NewGORMUserRepository(db)
	store := newMemoryStore()

	reconciler := assets.NewReconciler(store, productRepo, assets.NewValidator(0), nil, assets.Options{PurgeSuperseded: true}, nil)
	authService := services.NewAuthService(userRepo, "test_jwt_secret", nil)

	app := server.New(server.Deps{
		Products: services.NewProductService(productRepo, reconciler, query.DefaultOptions(), nil),
		Stats:    services.NewStatsService(productRepo),
		Auth:     authService,
	})
	return &testEnv{app: app, repo: productRepo, store: store, auth: authService}
}

func (e *testEnv) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return resp.StatusCode, body
}

func jsonRequest(method, target string, payload any, token string) *http.Request {
	jsonBody, _ := json.Marshal(payload)
	req := httptest.NewRequest(method, target, bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

type upload struct {
	name string
	size int
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, files []upload, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		part, err := w.CreateFormFile("images", f.name)
		require.NoError(t, err)
		_, err = part.Write(bytes.Repeat([]byte{0xAB}, f.size))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	status, _ := e.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": "admin",
		"email":    "admin@example.com",
		"password": "password123",
	}, ""))
	require.Equal(t, http.StatusCreated, status)

	status, body := e.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "admin",
		"password": "password123",
	}, ""))
	require.Equal(t, http.StatusOK, status)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func imageIDs(t *testing.T, product any) []string {
	t.Helper()
	p, ok := product.(map[string]any)
	require.True(t, ok, "product is %T", product)
	images, _ := p["images"].([]any)
	ids := make([]string, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.(map[string]any)["external_id"].(string))
	}
	return ids
}

func TestAuthRegisterAndLogin(t *testing.T) {
	env := setupApp(t)

	registration := map[string]string{
		"username": "testuser",
		"email":    "test@example.com",
		"password": "password123",
	}
	status, body := env.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/register", registration, ""))
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "User registered successfully", body["message"])
	assert.NotContains(t, body["user"], "password")

	status, body = env.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/register", registration, ""))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "fail", body["status"])

	status, _ = env.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "testuser",
		"password": "wrong",
	}, ""))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = env.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "testuser",
		"password": "password123",
	}, ""))
	require.Equal(t, http.StatusOK, status)

	claims, err := env.auth.ValidateToken(body["token"].(string))
	assert.NoError(t, err)
	assert.Equal(t, "testuser", claims["username"])
	assert.Contains(t, claims, "user_id")
}

func TestProductLifecycle(t *testing.T) {
	env := setupApp(t)
	token := env.login(t)

	// --- create ---
	status, created := env.do(t, multipartRequest(t, http.MethodPost, "/api/v1/products", map[string]string{
		"name":     "Trail Runner",
		"price":    "89.5",
		"stock":    "12",
		"category": "shoes",
		"brand":    "Fleet",
	}, []upload{{"side.jpg", 2048}, {"top.png", 1024}}, token))
	require.Equal(t, http.StatusCreated, status, created)
	productID := created["id"].(string)
	assert.Equal(t, "Trail Runner", created["name"])
	assert.Equal(t, 89.5, created["price"])
	assert.Len(t, imageIDs(t, created), 2)
	assert.Equal(t, 2, env.store.count())

	// --- list and fetch are public ---
	status, listing := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products?keyword=trail", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), listing["results"])
	assert.Equal(t, float64(1), listing["total"])

	status, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products/"+productID, nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, imageIDs(t, created), imageIDs(t, body["product"]))

	// --- patch details ---
	status, body = env.do(t, jsonRequest(http.MethodPut, "/api/v1/products/"+productID, map[string]any{
		"name":  "Trail Runner 2",
		"stock": 0,
	}, token))
	require.Equal(t, http.StatusOK, status, body)
	patched := body["product"].(map[string]any)
	assert.Equal(t, "Trail Runner 2", patched["name"])
	assert.Equal(t, float64(0), patched["stock"])
	assert.Equal(t, 89.5, patched["price"])
	assert.Equal(t, float64(2), patched["version"])

	// --- replace images; superseded ones are purged ---
	status, body = env.do(t, multipartRequest(t, http.MethodPut, "/api/v1/products/"+productID+"/images", nil,
		[]upload{{"new.jpeg", 512}}, token))
	require.Equal(t, http.StatusOK, status, body)
	replaced := imageIDs(t, body["product"])
	require.Len(t, replaced, 1)
	assert.Equal(t, 1, env.store.count())

	// --- remove an image that belongs to someone else ---
	status, body = env.do(t, jsonRequest(http.MethodDelete, "/api/v1/products/"+productID+"/images/not-mine", nil, token))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "fail", body["status"])

	// --- remove the image ---
	status, body = env.do(t, jsonRequest(http.MethodDelete, "/api/v1/products/"+productID+"/images/"+url.PathEscape(replaced[0]), nil, token))
	require.Equal(t, http.StatusOK, status, body)
	assert.Empty(t, imageIDs(t, body["product"]))
	assert.Zero(t, env.store.count())

	// --- delete ---
	status, body = env.do(t, jsonRequest(http.MethodDelete, "/api/v1/products/"+productID, nil, token))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["message"], "deleted successfully")
	assert.Equal(t, []any{}, body["orphaned_assets"])

	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products/"+productID, nil))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "fail", body["status"])
	assert.NotEmpty(t, body["message"])
}

func TestCreateProductRejectsBadImages(t *testing.T) {
	env := setupApp(t)
	token := env.login(t)
	fields := map[string]string{"name": "Poster", "price": "5"}

	tests := []struct {
		name  string
		files []upload
	}{
		{"no images", nil},
		{"gif", []upload{{"ok.png", 10}, {"anim.gif", 10}}},
		{"too large", []upload{{"huge.jpg", 3*1024*1024/2 + 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, multipartRequest(t, http.MethodPost, "/api/v1/products", fields, tt.files, token))
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "fail", body["status"])
			assert.NotEmpty(t, body["message"])
		})
	}

	assert.Zero(t, env.store.count())
	n, err := env.repo.CountAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateProductWithoutMultipartReportsNoImages(t *testing.T) {
	env := setupApp(t)
	token := env.login(t)

	status, body := env.do(t, jsonRequest(http.MethodPost, "/api/v1/products", map[string]any{"name": "Poster", "price": 5}, token))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "fail", body["status"])
	assert.Equal(t, "no images to upload", body["message"])
}

func TestReplaceImagesOfMissingProduct(t *testing.T) {
	env := setupApp(t)
	token := env.login(t)
	target := "/api/v1/products/" + uuid.NewString() + "/images"

	tests := []struct {
		name  string
		files []upload
	}{
		{"no images", nil},
		{"invalid image", []upload{{"anim.gif", 10}}},
		{"valid image", []upload{{"ok.png", 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, multipartRequest(t, http.MethodPut, target, nil, tt.files, token))
			assert.Equal(t, http.StatusNotFound, status)
			assert.Equal(t, "fail", body["status"])
		})
	}
	assert.Zero(t, env.store.count())
}

func TestCreateProductUploadFailureLeavesNoTrace(t *testing.T) {
	env := setupApp(t)
	token := env.login(t)
	env.store.failUpload = ".png"

	status, body := env.do(t, multipartRequest(t, http.MethodPost, "/api/v1/products",
		map[string]string{"name": "Mug", "price": "7"},
		[]upload{{"a.jpg", 10}, {"b.png", 10}, {"c.jpg", 10}}, token))

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "error", body["status"])
	assert.Zero(t, env.store.count(), "completed uploads are compensated")
	n, err := env.repo.CountAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListProductsQuery(t *testing.T) {
	env := setupApp(t)
	ctx := context.Background()
	for _, p := range []models.Product{
		{ID: "p1", Name: "Desk", Price: 120, Category: "furniture"},
		{ID: "p2", Name: "Chair", Price: 45, Category: "furniture"},
		{ID: "p3", Name: "Lamp", Price: 20, Category: "lighting"},
	} {
		require.NoError(t, env.repo.Create(ctx, &p))
	}

	ids := func(body map[string]any) []string {
		var out []string
		for _, p := range body["products"].([]any) {
			out = append(out, p.(map[string]any)["id"].(string))
		}
		return out
	}

	status, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products?price%5Bgte%5D=40&sort=-price", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"p1", "p2"}, ids(body))
	assert.Equal(t, float64(3), body["total"], "total counts the whole catalog")

	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products?category=furniture&category=lighting&sort=price&limit=2", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"p3", "p2"}, ids(body))
	assert.Equal(t, float64(2), body["limit"])

	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products?page=9", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["products"])
	assert.Equal(t, float64(0), body["results"])

	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "fail", body["status"])

	status, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products?price=cheap", nil))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStatsEndpoint(t *testing.T) {
	env := setupApp(t)
	ctx := context.Background()
	for _, p := range []models.Product{
		{Name: "a", Category: "A", Price: 10},
		{Name: "b", Category: "A", Price: 20},
		{Name: "c", Category: "B", Price: 30},
	} {
		require.NoError(t, env.repo.Create(ctx, &p))
	}

	status, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products/stats/category", nil))
	require.Equal(t, http.StatusOK, status)
	buckets := body["buckets"].([]any)
	require.Len(t, buckets, 2)
	first := buckets[0].(map[string]any)
	assert.Equal(t, "A", first["group_key"])
	assert.Equal(t, float64(2), first["count"])
	assert.Equal(t, float64(15), first["avg_price"])
}

func TestWriteEndpointsRequireAuth(t *testing.T) {
	env := setupApp(t)

	status, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))
	assert.Equal(t, http.StatusOK, status)

	status, body := env.do(t, multipartRequest(t, http.MethodPost, "/api/v1/products",
		map[string]string{"name": "Unauthorized Product"}, []upload{{"a.jpg", 10}}, ""))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "fail", body["status"])

	status, _ = env.do(t, jsonRequest(http.MethodDelete, "/api/v1/products/p1", nil, "not-a-token"))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Zero(t, env.store.count())
}

func TestHealth(t *testing.T) {
	env := setupApp(t)
	status, body := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}
