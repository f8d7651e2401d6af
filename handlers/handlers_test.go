package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pos_inventory/database"
	"pos_inventory/events"
	"pos_inventory/metrics"
	"pos_inventory/models"
	"pos_inventory/services"
)

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.Seed(context.Background(), db, models.WalkInEmail))

	m := metrics.New()
	r := NewRouter(Services{
		Catalog:   services.NewCatalogService(db),
		Discounts: services.NewDiscountService(db),
		Checkout:  services.NewCheckoutService(db, services.CheckoutOptions{}, events.Nop{}, m),
		Orders:    services.NewOrderService(db),
	}, m)
	return r, db
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(staffHeader, "1")
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func money(t *testing.T, v any) decimal.Decimal {
	t.Helper()
	s, ok := v.(string)
	require.True(t, ok, "expected decimal string, got %T", v)
	return decimal.RequireFromString(s)
}

func seedProduct(t *testing.T, db *gorm.DB, name, price string, quantity int) models.Product {
	t.Helper()
	p := models.Product{Name: name, Price: decimal.RequireFromString(price), Quantity: quantity, IsActive: true}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func orderBody(productID int64) gin.H {
	return gin.H{
		"items": []gin.H{
			{"product_id": productID, "quantity": 2, "price": 10.00, "discount_amount": 2.00},
		},
		"subtotal":          20.00,
		"product_discounts": 2.00,
		"general_discount":  0,
		"total_amount":      18.00,
	}
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(t, r, http.MethodGet, "/health", nil, map[string]string{staffHeader: ""})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = do(t, r, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "pos_http_requests_total"))
}

func TestRequireStaff(t *testing.T) {
	r, _ := setupRouter(t)

	for _, header := range []string{"", "abc", "-3"} {
		w := do(t, r, http.MethodGet, "/pos-products", nil, map[string]string{staffHeader: header})
		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
}

func TestCreateOrder(t *testing.T) {
	r, db := setupRouter(t)
	p := seedProduct(t, db, "Product A", "10.00", 5)

	w := do(t, r, http.MethodPost, "/pos-orders", orderBody(p.ID), map[string]string{idempotencyHeader: "abc-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	order := body["order"].(map[string]any)
	assert.True(t, decimal.RequireFromString("18").Equal(money(t, order["total"])))
	items := order["items"].([]any)
	require.Len(t, items, 1)
	assert.True(t, decimal.RequireFromString("18").Equal(money(t, items[0].(map[string]any)["total"])))

	replay := do(t, r, http.MethodPost, "/pos-orders", orderBody(p.ID), map[string]string{idempotencyHeader: "abc-1"})
	require.Equal(t, http.StatusOK, replay.Code, replay.Body.String())
	assert.Equal(t, order["id"], decode(t, replay)["order"].(map[string]any)["id"])

	changed := orderBody(p.ID)
	changed["notes"] = "second attempt"
	conflict := do(t, r, http.MethodPost, "/pos-orders", changed, map[string]string{idempotencyHeader: "abc-1"})
	assert.Equal(t, http.StatusConflict, conflict.Code, conflict.Body.String())

	id := int64(order["id"].(float64))
	got := do(t, r, http.MethodGet, "/pos-orders/"+jsonID(id), nil, nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, order["order_number"], decode(t, got)["order_number"])

	var stock models.Product
	require.NoError(t, db.First(&stock, p.ID).Error)
	assert.Equal(t, 3, stock.Quantity)
}

func TestCreateOrderFailures(t *testing.T) {
	r, db := setupRouter(t)
	p := seedProduct(t, db, "Product A", "10.00", 1)
	expired := models.Discount{
		Name: "Old", Code: "OLD", Type: models.Fixed, Value: decimal.NewFromInt(1),
		Scope: models.ScopeProduct, ApplyToAllProducts: true, IsActive: true,
		StartDate: time.Now().UTC().Add(-48 * time.Hour), EndDate: time.Now().UTC().Add(-24 * time.Hour),
	}
	require.NoError(t, db.Create(&expired).Error)

	t.Run("binding errors name the field", func(t *testing.T) {
		body := orderBody(p.ID)
		delete(body, "total_amount")
		body["items"] = []gin.H{{"product_id": p.ID, "price": 10.00}}
		w := do(t, r, http.MethodPost, "/pos-orders", body, nil)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
		errs := decode(t, w)["errors"].(map[string]any)
		assert.Contains(t, errs, "total_amount")
		assert.Contains(t, errs, "items.0.quantity")
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/pos-orders", strings.NewReader("{"))
		req.Header.Set(staffHeader, "1")
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("arithmetic mismatch", func(t *testing.T) {
		body := orderBody(p.ID)
		body["total_amount"] = 17.00
		w := do(t, r, http.MethodPost, "/pos-orders", body, nil)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, decode(t, w)["errors"], "total_amount")
	})

	t.Run("stock conflict", func(t *testing.T) {
		w := do(t, r, http.MethodPost, "/pos-orders", orderBody(p.ID), nil)
		require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, float64(1), body["available"])
	})

	t.Run("expired discount", func(t *testing.T) {
		body := gin.H{
			"items":             []gin.H{{"product_id": p.ID, "quantity": 1, "price": 10.00, "discount_amount": 1.00, "discount_id": expired.ID}},
			"subtotal":          10.00,
			"product_discounts": 1.00,
			"general_discount":  0,
			"total_amount":      9.00,
		}
		w := do(t, r, http.MethodPost, "/pos-orders", body, nil)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
		assert.Equal(t, "discount has expired", decode(t, w)["reason"])
	})
}

func TestUpdateOrderStatus(t *testing.T) {
	r, db := setupRouter(t)
	p := seedProduct(t, db, "Product A", "10.00", 5)
	w := do(t, r, http.MethodPost, "/pos-orders", orderBody(p.ID), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := int64(decode(t, w)["order"].(map[string]any)["id"].(float64))

	w = do(t, r, http.MethodPatch, "/pos-orders/"+jsonID(id)+"/status", gin.H{"status": "pending"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, r, http.MethodPatch, "/pos-orders/"+jsonID(id)+"/status", gin.H{"status": "refunded"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "refunded", decode(t, w)["status"])

	w = do(t, r, http.MethodGet, "/pos-orders/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, r, http.MethodGet, "/pos-orders/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateDiscount(t *testing.T) {
	r, db := setupRouter(t)
	p := seedProduct(t, db, "Coffee", "10.00", 5)
	d := models.Discount{
		Name: "Coffee", Code: "COFFEE20", Type: models.Percentage, Value: decimal.NewFromInt(20),
		Scope: models.ScopeProduct, IsActive: true,
		StartDate: time.Now().UTC().Add(-time.Hour), EndDate: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, db.Create(&d).Error)
	require.NoError(t, db.Create(&models.DiscountProduct{DiscountID: d.ID, ProductID: p.ID}).Error)

	w := do(t, r, http.MethodGet, "/pos-discounts/validate?code=COFFEE20&amount=100&quantity=1&product_id="+jsonID(p.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["valid"])
	assert.True(t, decimal.NewFromInt(20).Equal(money(t, body["discount_amount"])))
	assert.Equal(t, "product", body["scope"])

	w = do(t, r, http.MethodGet, "/pos-discounts/validate?code=COFFEE20&amount=100&quantity=1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["valid"])

	w = do(t, r, http.MethodGet, "/pos-discounts/validate?code=NOPE&amount=100&quantity=1", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Discount code not found", decode(t, w)["message"])

	w = do(t, r, http.MethodGet, "/pos-discounts/validate?code=COFFEE20&quantity=1", nil, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w)["errors"], "amount")
}

func TestCatalogRoutes(t *testing.T) {
	r, db := setupRouter(t)
	p := seedProduct(t, db, "Coffee", "10.00", 5)
	seedProduct(t, db, "Empty", "10.00", 0)

	w := do(t, r, http.MethodGet, "/pos-products", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var products []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &products))
	require.Len(t, products, 1)
	assert.Equal(t, "Coffee", products[0]["name"])

	w = do(t, r, http.MethodGet, "/pos-categories", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/pos-products/"+jsonID(p.ID)+"/discounts", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w), "discounts")

	w = do(t, r, http.MethodGet, "/pos-products/999/discounts", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiscountRoutes(t *testing.T) {
	r, db := setupRouter(t)
	p := seedProduct(t, db, "Coffee", "10.00", 5)
	start := time.Now().UTC().Add(-time.Hour)

	create := gin.H{
		"name":        "Morning",
		"code":        "MORNING",
		"type":        "percentage",
		"value":       15,
		"scope":       "product",
		"start_date":  start.Format(time.RFC3339),
		"end_date":    start.Add(48 * time.Hour).Format(time.RFC3339),
		"product_ids": []int64{p.ID},
	}
	w := do(t, r, http.MethodPost, "/discounts", create, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := int64(decode(t, w)["id"].(float64))

	w = do(t, r, http.MethodPost, "/discounts", create, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w)["errors"], "code")

	bad := gin.H{"name": "Bad", "code": "BAD", "type": "bogus", "value": 1, "scope": "general",
		"start_date": start.Format(time.RFC3339), "end_date": start.Add(time.Hour).Format(time.RFC3339)}
	w = do(t, r, http.MethodPost, "/discounts", bad, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w)["errors"], "type")

	w = do(t, r, http.MethodGet, "/discounts?page=1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = do(t, r, http.MethodGet, "/discounts/"+jsonID(id)+"/eligible-products", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var products []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &products))
	assert.Len(t, products, 1)

	create["scope"] = "general"
	w = do(t, r, http.MethodPut, "/discounts/"+jsonID(id), create, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "general", decode(t, w)["scope"])

	w = do(t, r, http.MethodDelete, "/discounts/"+jsonID(id), nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodGet, "/discounts/"+jsonID(id), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFieldPath(t *testing.T) {
	assert.Equal(t, "items.0.price", fieldPath("Cart.items[0].price"))
	assert.Equal(t, "total_amount", fieldPath("Cart.total_amount"))
	assert.Equal(t, "product_ids.12", fieldPath("DiscountInput.product_ids[12]"))
}

func jsonID(id int64) string {
	return strconv.FormatInt(id, 10)
}
