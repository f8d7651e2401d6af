package handlers

import (
	"log"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"

	"pos_inventory/services"
)

var registerOnce sync.Once

// useWireNames makes validator report json/form names instead of Go field
// names, so binding errors line up with the request body.
func useWireNames() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if name == "" {
				name = fld.Tag.Get("form")
			}
			name = strings.SplitN(name, ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// fieldPath turns "Cart.items[0].price" into "items.0.price".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		namespace = namespace[i+1:]
	}
	return indexPattern.ReplaceAllString(namespace, ".$1")
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "may not be greater than " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "numeric":
		return "must be a number"
	}
	return "is invalid"
}

// bindError answers a request whose body or query failed to bind.
func bindError(c *gin.Context, err error) {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) {
		fields := make(map[string]string, len(ves))
		for _, fe := range ves {
			fields[fieldPath(fe.Namespace())] = fieldMessage(fe)
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"message": "The given data was invalid.",
			"errors":  fields,
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request: " + err.Error()})
}

// writeError maps service errors to responses. Storage details are logged,
// never returned.
func writeError(c *gin.Context, err error) {
	var (
		ve *services.ValidationError
		de *services.DiscountInapplicableError
		se *services.StockConflictError
		pe *services.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"message": "The given data was invalid.",
			"errors":  ve.Fields,
		})
	case errors.As(err, &de):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success":     false,
			"message":     "A discount in this order is no longer applicable.",
			"reason":      de.Reason.Error(),
			"discount_id": de.DiscountID,
			"errors":      map[string]string{de.Field: de.Reason.Error()},
		})
	case errors.As(err, &se):
		c.JSON(http.StatusConflict, gin.H{
			"success":    false,
			"message":    "Insufficient stock.",
			"product_id": se.ProductID,
			"requested":  se.Requested,
			"available":  se.Available,
		})
	case errors.Is(err, services.ErrIdempotencyKeyReused):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Idempotency-Key was already used for a different order."})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Not found."})
	case errors.As(err, &pe):
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error creating order"})
	default:
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
	}
}
