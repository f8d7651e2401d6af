package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCheckoutResult(t *testing.T) {
	m := New()
	m.CheckoutResult("completed")
	m.CheckoutResult("completed")
	m.CheckoutResult("stock")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Checkouts.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Checkouts.WithLabelValues("stock")))

	var nilMetrics *ServerMetrics
	assert.NotPanics(t, func() { nilMetrics.CheckoutResult("completed") })
}

func TestInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.CheckoutResult("completed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pos_checkout_orders_total{result="completed"} 1`)
}
