package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/applianceshop/core/internal/errors"
	"github.com/applianceshop/core/internal/service"
)

func TestGetCart_Success(t *testing.T) {
	env := setupEnv()

	env.carts.On("Get", mock.Anything, "user-456").Return(sampleCart(), nil)

	req := authedRequest(http.MethodGet, "/api/v1/cart", nil, "user-456", "")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "user-456", data["user_id"])
	assert.Len(t, data["items"], 1)

	env.carts.AssertExpectations(t)
}

func TestGetCart_MissingCartReturnsEmpty(t *testing.T) {
	env := setupEnv()

	env.carts.On("Get", mock.Anything, "user-456").
		Return(nil, apperrors.NotFound("cart", "user-456"))

	req := authedRequest(http.MethodGet, "/api/v1/cart", nil, "user-456", "")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "user-456", data["user_id"])
	assert.Empty(t, data["items"])
}

func TestGetCart_Unauthenticated(t *testing.T) {
	env := setupEnv()

	req := authedRequest(http.MethodGet, "/api/v1/cart", nil, "", "")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSetItem_Success(t *testing.T) {
	env := setupEnv()

	env.catalog.On("GetByID", mock.Anything, "550e8400-e29b-41d4-a716-446655440020").
		Return(sampleProduct(), nil)
	env.carts.On("Get", mock.Anything, "user-456").
		Return(nil, apperrors.NotFound("cart", "user-456"))
	env.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 0).
		Return(true, nil)

	body, _ := json.Marshal(service.SetItemInput{
		ProductID: "550e8400-e29b-41d4-a716-446655440020",
		Quantity:  3,
	})
	req := authedRequest(http.MethodPost, "/api/v1/cart/items", body, "user-456", "")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	items, ok := data["items"].([]interface{})
	require.True(t, ok)
	require.Len(t, items, 1)
	item := items[0].(map[string]interface{})
	assert.Equal(t, float64(3), item["quantity"])
	assert.Equal(t, "Front Load Washing Machine", item["name"])

	env.carts.AssertExpectations(t)
	env.catalog.AssertExpectations(t)
}

func TestSetItem_UnknownProduct(t *testing.T) {
	env := setupEnv()

	env.catalog.On("GetByID", mock.Anything, "550e8400-e29b-41d4-a716-446655440099").
		Return(nil, apperrors.NotFound("product", "550e8400-e29b-41d4-a716-446655440099"))

	body, _ := json.Marshal(service.SetItemInput{
		ProductID: "550e8400-e29b-41d4-a716-446655440099",
		Quantity:  1,
	})
	req := authedRequest(http.MethodPost, "/api/v1/cart/items", body, "user-456", "")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestSetItem_OutOfStock(t *testing.T) {
	env := setupEnv()

	product := sampleProduct()
	product.Stock = 1
	env.catalog.On("GetByID", mock.Anything, product.ID).Return(product, nil)

	body, _ := json.Marshal(service.SetItemInput{ProductID: product.ID, Quantity: 5})
	req := authedRequest(http.MethodPost, "/api/v1/cart/items", body, "user-456", "")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "OUT_OF_STOCK", resp.Error.Code)
}

func TestSetItem_ValidationError(t *testing.T) {
	env := setupEnv()

	body, _ := json.Marshal(map[string]any{"product_id": "", "quantity": 0})
	req := authedRequest(http.MethodPost, "/api/v1/cart/items", body, "user-456", "")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.NotNil(t, resp.Error.Fields)
}

func TestSetItem_InvalidJSON(t *testing.T) {
	env := setupEnv()

	req := authedRequest(http.MethodPost, "/api/v1/cart/items", []byte(`{bad json`), "user-456", "")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
}

func TestSetItem_ConcurrentModification(t *testing.T) {
	env := setupEnv()

	env.catalog.On("GetByID", mock.Anything, "550e8400-e29b-41d4-a716-446655440020").
		Return(sampleProduct(), nil)
	env.carts.On("Get", mock.Anything, "user-456").Return(sampleCart(), nil)
	env.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 1).
		Return(false, nil)

	body, _ := json.Marshal(service.SetItemInput{
		ProductID: "550e8400-e29b-41d4-a716-446655440020",
		Quantity:  1,
	})
	req := authedRequest(http.MethodPost, "/api/v1/cart/items", body, "user-456", "")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONFLICT", resp.Error.Code)
}

func TestRemoveItem_Success(t *testing.T) {
	env := setupEnv()

	env.carts.On("Get", mock.Anything, "user-456").Return(sampleCart(), nil)
	env.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 1).
		Return(true, nil)

	req := authedRequest(http.MethodDelete,
		"/api/v1/cart/items/550e8400-e29b-41d4-a716-446655440020", nil, "user-456", "")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, data["items"])

	env.carts.AssertExpectations(t)
}

func TestRemoveItem_AbsentProductIsIdempotent(t *testing.T) {
	env := setupEnv()

	env.carts.On("Get", mock.Anything, "user-456").Return(sampleCart(), nil)

	req := authedRequest(http.MethodDelete,
		"/api/v1/cart/items/550e8400-e29b-41d4-a716-446655440077", nil, "user-456", "")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env.carts.AssertNotCalled(t, "SaveIfVersion", mock.Anything, mock.Anything, mock.Anything)
}

func TestClearCart_Success(t *testing.T) {
	env := setupEnv()

	env.carts.On("Delete", mock.Anything, "user-456").Return(nil)

	req := authedRequest(http.MethodDelete, "/api/v1/cart", nil, "user-456", "")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	env.carts.AssertExpectations(t)
}

func TestContentTypeJSON_RejectsXML(t *testing.T) {
	env := setupEnv()

	req := authedRequest(http.MethodPost, "/api/v1/cart/items", []byte(`<xml/>`), "user-456", "")
	req.Header.Set("Content-Type", "application/xml")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}
