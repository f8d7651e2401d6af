package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pos_inventory/services"
)

type DiscountHandler struct {
	discountService *services.DiscountService
}

func NewDiscountHandler(discountService *services.DiscountService) *DiscountHandler {
	return &DiscountHandler{discountService: discountService}
}

func (h *DiscountHandler) ListDiscounts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	discounts, err := h.discountService.ListDiscounts(c.Request.Context(), page)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, discounts)
}

func (h *DiscountHandler) CreateDiscount(c *gin.Context) {
	var in services.DiscountInput
	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, err)
		return
	}

	discount, err := h.discountService.CreateDiscount(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, discount)
}

func (h *DiscountHandler) GetDiscount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	discount, err := h.discountService.GetDiscount(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, discount)
}

func (h *DiscountHandler) UpdateDiscount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var in services.DiscountInput
	if err := c.ShouldBindJSON(&in); err != nil {
		bindError(c, err)
		return
	}

	discount, err := h.discountService.UpdateDiscount(c.Request.Context(), id, in)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, discount)
}

func (h *DiscountHandler) DeleteDiscount(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.discountService.DeleteDiscount(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *DiscountHandler) EligibleProducts(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	products, err := h.discountService.EligibleProducts(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, products)
}
