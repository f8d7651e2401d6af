package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pos_inventory/metrics"
	"pos_inventory/services"
)

type Services struct {
	Catalog   *services.CatalogService
	Discounts *services.DiscountService
	Checkout  *services.CheckoutService
	Orders    *services.OrderService
}

// NewRouter wires every route. m may be nil, which drops /metrics and
// request instrumentation.
func NewRouter(svc Services, m *metrics.ServerMetrics) *gin.Engine {
	useWireNames()

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if m != nil {
		r.Use(Instrument(m))
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	pos := NewPOSHandler(svc.Catalog, svc.Discounts, svc.Checkout, svc.Orders)
	discountHandler := NewDiscountHandler(svc.Discounts)

	api := r.Group("", RequireStaff())
	{
		api.GET("/pos-products", pos.Products)
		api.GET("/pos-categories", pos.Categories)
		api.GET("/pos-products/:id/discounts", pos.ProductDiscounts)
		api.GET("/pos-discounts/validate", pos.ValidateDiscount)
		api.POST("/pos-orders", pos.CreateOrder)
		api.GET("/pos-orders/:id", pos.GetOrder)
		api.PATCH("/pos-orders/:id/status", pos.UpdateOrderStatus)
	}

	discountRoutes := api.Group("/discounts")
	{
		discountRoutes.GET("", discountHandler.ListDiscounts)
		discountRoutes.POST("", discountHandler.CreateDiscount)
		discountRoutes.GET("/:id", discountHandler.GetDiscount)
		discountRoutes.PUT("/:id", discountHandler.UpdateDiscount)
		discountRoutes.DELETE("/:id", discountHandler.DeleteDiscount)
		discountRoutes.GET("/:id/eligible-products", discountHandler.EligibleProducts)
	}

	return r
}
