package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"pos_inventory/models"
	"pos_inventory/services"
)

const idempotencyHeader = "Idempotency-Key"

// POSHandler serves the terminal: catalog views, code validation and
// checkout.
type POSHandler struct {
	catalog   *services.CatalogService
	discounts *services.DiscountService
	checkout  *services.CheckoutService
	orders    *services.OrderService
}

func NewPOSHandler(catalog *services.CatalogService, discounts *services.DiscountService, checkout *services.CheckoutService, orders *services.OrderService) *POSHandler {
	return &POSHandler{catalog: catalog, discounts: discounts, checkout: checkout, orders: orders}
}

func (h *POSHandler) Products(c *gin.Context) {
	products, err := h.catalog.ListPOSProducts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *POSHandler) Categories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (h *POSHandler) ProductDiscounts(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	discounts, err := h.catalog.ProductDiscounts(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discounts": discounts})
}

type validateDiscountQuery struct {
	Code      string `form:"code" binding:"required"`
	Amount    string `form:"amount" binding:"required,numeric"`
	Quantity  *int   `form:"quantity" binding:"required,min=0"`
	ProductID *int64 `form:"product_id" binding:"omitempty,gt=0"`
}

func (h *POSHandler) ValidateDiscount(c *gin.Context) {
	var q validateDiscountQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}
	amount, err := decimal.NewFromString(q.Amount)
	if err != nil {
		bindError(c, err)
		return
	}

	res, err := h.discounts.ValidateCode(c.Request.Context(), services.ValidateQuery{
		Code:      q.Code,
		Amount:    amount,
		Quantity:  *q.Quantity,
		ProductID: q.ProductID,
	})
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"valid": false, "message": "Discount code not found"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *POSHandler) CreateOrder(c *gin.Context) {
	var cart services.Cart
	if err := c.ShouldBindJSON(&cart); err != nil {
		bindError(c, err)
		return
	}
	cart.IdempotencyKey = c.GetHeader(idempotencyHeader)

	receipt, err := h.checkout.SubmitOrder(c.Request.Context(), c.GetInt64(staffIDKey), cart)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"success": true,
		"message": "Order created successfully",
		"order":   receipt.Order,
	})
}

func (h *POSHandler) GetOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type statusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func (h *POSHandler) UpdateOrderStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
