package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pos_inventory/events"
	"pos_inventory/logging"
	"pos_inventory/metrics"
	"pos_inventory/models"
	"pos_inventory/pricing"
)

// ErrDiscountAmountExceeded is the reason given when a cart claims more than
// the referenced discount yields.
var ErrDiscountAmountExceeded = errors.New("discount amount exceeds what the discount allows")

// ErrIdempotencyKeyReused rejects a submission whose Idempotency-Key already
// belongs to an order built from a different cart.
var ErrIdempotencyKeyReused = errors.New("idempotency key was already used for a different cart")

// MaxLineQuantity bounds a single cart line.
const MaxLineQuantity = 1_000_000

type CartItem struct {
	ProductID      int64            `json:"product_id" binding:"required,gt=0"`
	Quantity       int              `json:"quantity" binding:"required,min=1,max=1000000"`
	Price          *decimal.Decimal `json:"price" binding:"required"`
	DiscountID     *int64           `json:"discount_id" binding:"omitempty,gt=0"`
	DiscountAmount *decimal.Decimal `json:"discount_amount"`
}

// Cart is a complete POS submission. Amounts are the client's figures; the
// server recomputes and rejects any that disagree.
type Cart struct {
	Items             []CartItem       `json:"items" binding:"required,min=1,dive"`
	Subtotal          *decimal.Decimal `json:"subtotal" binding:"required"`
	ProductDiscounts  *decimal.Decimal `json:"product_discounts" binding:"required"`
	GeneralDiscount   *decimal.Decimal `json:"general_discount" binding:"required"`
	GeneralDiscountID *int64           `json:"general_discount_id" binding:"omitempty,gt=0"`
	TaxAmount         *decimal.Decimal `json:"tax_amount"`
	TotalAmount       *decimal.Decimal `json:"total_amount" binding:"required"`
	CustomerID        *int64           `json:"customer_id" binding:"omitempty,gt=0"`
	PaymentMethod     string           `json:"payment_method" binding:"max=50"`
	AmountTendered    *decimal.Decimal `json:"amount_tendered"`
	ChangeDue         *decimal.Decimal `json:"change_due"`
	Notes             string           `json:"notes"`

	IdempotencyKey string `json:"-"`
}

// Receipt is the outcome of a successful submission. Replayed is set when
// the idempotency key matched an order committed earlier.
type Receipt struct {
	Order    *models.Order
	Replayed bool
}

type CheckoutOptions struct {
	// AllowNegativeStock disables the overselling guard: lines are accepted
	// regardless of stock on hand and quantities may go below zero.
	AllowNegativeStock bool
	WalkInEmail        string
}

type CheckoutService struct {
	db        *gorm.DB
	opts      CheckoutOptions
	publisher events.Publisher
	metrics   *metrics.ServerMetrics
	now       func() time.Time
}

func NewCheckoutService(db *gorm.DB, opts CheckoutOptions, publisher events.Publisher, m *metrics.ServerMetrics) *CheckoutService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if opts.WalkInEmail == "" {
		opts.WalkInEmail = models.WalkInEmail
	}
	return &CheckoutService{db: db, opts: opts, publisher: publisher, metrics: m, now: func() time.Time { return time.Now().UTC() }}
}

// line is a validated cart item with amounts rounded to cents.
type line struct {
	index          int
	productID      int64
	quantity       int
	unitPrice      decimal.Decimal
	amount         decimal.Decimal
	discountID     *int64
	discountAmount decimal.Decimal
}

// SubmitOrder validates cart, re-verifies every referenced discount and
// commits the order, its items, the stock decrements and the discount usage
// in one transaction. staffID is the user ringing up the sale.
func (s *CheckoutService) SubmitOrder(ctx context.Context, staffID int64, cart Cart) (*Receipt, error) {
	start := time.Now()

	if cart.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, cart.IdempotencyKey)
		if err == nil {
			return s.replay(staffID, existing, cart)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, s.fail(staffID, persistErr("idempotency lookup", err))
		}
	}

	lines, err := validateCart(cart)
	if err != nil {
		return nil, s.fail(staffID, err)
	}

	now := s.now()
	var (
		order   *models.Order
		applied []int64
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		order, applied, txErr = s.commit(tx, staffID, cart, lines, now)
		return txErr
	})
	if err != nil {
		if cart.IdempotencyKey != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
			if existing, lookupErr := s.findByIdempotencyKey(ctx, cart.IdempotencyKey); lookupErr == nil {
				return s.replay(staffID, existing, cart)
			}
		}
		if !isCheckoutError(err) {
			err = persistErr("commit", err)
		}
		return nil, s.fail(staffID, err)
	}

	s.metrics.CheckoutResult("completed")
	logging.Log(logging.Fields{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		StaffID:     staffID,
		Step:        "checkout",
		Status:      string(order.Status),
		DurationMS:  time.Since(start).Milliseconds(),
	})

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.PublishOrderCompleted(pubCtx, events.NewOrderCompleted(order, applied)); err != nil {
		logging.Log(logging.Fields{OrderID: order.ID, Step: "publish", Status: "error", Message: err.Error()})
	}

	reloaded, err := s.loadOrder(ctx, order.ID)
	if err != nil {
		// committed; fall back to what was written
		return &Receipt{Order: order}, nil
	}
	return &Receipt{Order: reloaded}, nil
}

// replay answers a repeated Idempotency-Key with the order it created, as
// long as the cart is the same one.
func (s *CheckoutService) replay(staffID int64, existing *models.Order, cart Cart) (*Receipt, error) {
	if existing.IdempotencyHash != cartFingerprint(cart) {
		return nil, s.fail(staffID, ErrIdempotencyKeyReused)
	}
	s.metrics.CheckoutResult("replayed")
	return &Receipt{Order: existing, Replayed: true}, nil
}

func (s *CheckoutService) commit(tx *gorm.DB, staffID int64, cart Cart, lines []line, now time.Time) (*models.Order, []int64, error) {
	if err := tx.Select("id").First(&models.User{}, staffID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fieldError("user_id", "staff user does not exist")
		}
		return nil, nil, persistErr("load staff user", err)
	}

	products, err := lockProducts(tx, lines)
	if err != nil {
		return nil, nil, err
	}
	discounts, err := lockDiscounts(tx, lines, cart.GeneralDiscountID)
	if err != nil {
		return nil, nil, err
	}

	applied, err := verifyDiscounts(cart, lines, products, discounts, now)
	if err != nil {
		return nil, nil, err
	}

	customerID, err := s.resolveCustomer(tx, cart.CustomerID)
	if err != nil {
		return nil, nil, err
	}

	demand := stockDemand(lines)
	if !s.opts.AllowNegativeStock {
		for _, id := range sortedKeys(demand) {
			if p := products[id]; demand[id] > p.Quantity {
				return nil, nil, &StockConflictError{ProductID: id, Requested: demand[id], Available: p.Quantity}
			}
		}
	}

	order := newOrder(staffID, customerID, cart, now)
	if err := tx.Omit(clause.Associations).Create(order).Error; err != nil {
		return nil, nil, persistErr("create order", err)
	}

	items := make([]models.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, models.OrderItem{
			OrderID:        order.ID,
			ProductID:      l.productID,
			Quantity:       l.quantity,
			UnitPrice:      l.unitPrice,
			DiscountID:     l.discountID,
			DiscountAmount: l.discountAmount,
			Total:          models.LineTotal(l.quantity, l.unitPrice, l.discountAmount),
		})
	}
	if err := tx.Omit(clause.Associations).Create(&items).Error; err != nil {
		return nil, nil, persistErr("create order items", err)
	}
	order.Items = items

	for _, id := range sortedKeys(demand) {
		if err := s.decrementStock(tx, id, demand[id], products[id].Quantity); err != nil {
			return nil, nil, err
		}
	}

	for _, id := range applied {
		res := tx.Model(&models.Discount{}).
			Where("id = ? AND (usage_limit IS NULL OR usage_count < usage_limit)", id).
			UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
		if res.Error != nil {
			return nil, nil, persistErr("increment discount usage", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, nil, &DiscountInapplicableError{DiscountID: id, Field: "usage_count", Reason: pricing.ErrUsageLimitReached}
		}
	}

	return order, applied, nil
}

func (s *CheckoutService) decrementStock(tx *gorm.DB, productID int64, qty, onHand int) error {
	q := tx.Model(&models.Product{}).Where("id = ?", productID)
	if !s.opts.AllowNegativeStock {
		q = q.Where("quantity >= ?", qty)
	}
	res := q.UpdateColumn("quantity", gorm.Expr("quantity - ?", qty))
	if res.Error != nil {
		return persistErr("decrement stock", res.Error)
	}
	if res.RowsAffected == 0 {
		return &StockConflictError{ProductID: productID, Requested: qty, Available: onHand}
	}
	return nil
}

func (s *CheckoutService) resolveCustomer(tx *gorm.DB, customerID *int64) (*int64, error) {
	if customerID != nil {
		if err := tx.Select("id").First(&models.Customer{}, *customerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fieldError("customer_id", "selected customer does not exist")
			}
			return nil, persistErr("load customer", err)
		}
		return customerID, nil
	}

	var walkIn []models.Customer
	if err := tx.Select("id").Where("email = ?", s.opts.WalkInEmail).Limit(1).Find(&walkIn).Error; err != nil {
		return nil, persistErr("load walk-in customer", err)
	}
	if len(walkIn) == 0 {
		return nil, nil
	}
	return &walkIn[0].ID, nil
}

func (s *CheckoutService) findByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items").Where("idempotency_key = ?", key).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *CheckoutService) loadOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Items").First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *CheckoutService) fail(staffID int64, err error) error {
	s.metrics.CheckoutResult(resultLabel(err))

	fields := logging.Fields{StaffID: staffID, Step: "checkout", Status: resultLabel(err), Message: err.Error()}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		fields.Step = pe.Step
	}
	logging.Log(fields)
	return err
}

func lockProducts(tx *gorm.DB, lines []line) (map[int64]models.Product, error) {
	ids := make([]int64, 0, len(lines))
	for id := range stockDemand(lines) {
		ids = append(ids, id)
	}

	var rows []models.Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, persistErr("lock products", err)
	}

	products := make(map[int64]models.Product, len(rows))
	for _, p := range rows {
		products[p.ID] = p
	}

	v := newValidationError()
	for _, l := range lines {
		p, ok := products[l.productID]
		switch {
		case !ok:
			v.Add(fmt.Sprintf("items.%d.product_id", l.index), "selected product does not exist")
		case !p.IsActive:
			v.Add(fmt.Sprintf("items.%d.product_id", l.index), "selected product is not available for sale")
		}
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	return products, nil
}

func lockDiscounts(tx *gorm.DB, lines []line, generalID *int64) (map[int64]*models.Discount, error) {
	idSet := map[int64]struct{}{}
	for _, l := range lines {
		if l.discountID != nil {
			idSet[*l.discountID] = struct{}{}
		}
	}
	if generalID != nil {
		idSet[*generalID] = struct{}{}
	}
	discounts := make(map[int64]*models.Discount, len(idSet))
	if len(idSet) == 0 {
		return discounts, nil
	}

	// Unscoped: deleted discounts fail pricing.Check with ErrDeleted.
	ids := sortedKeys(idSet)
	var rows []models.Discount
	err := tx.Unscoped().
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Products").
		Where("id IN ?", ids).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, persistErr("lock discounts", err)
	}
	for i := range rows {
		discounts[rows[i].ID] = &rows[i]
	}

	v := newValidationError()
	for _, l := range lines {
		if l.discountID != nil {
			if _, ok := discounts[*l.discountID]; !ok {
				v.Add(fmt.Sprintf("items.%d.discount_id", l.index), "selected discount does not exist")
			}
		}
	}
	if generalID != nil {
		if _, ok := discounts[*generalID]; !ok {
			v.Add("general_discount_id", "selected discount does not exist")
		}
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	return discounts, nil
}

// verifyDiscounts re-runs eligibility for every referenced discount and
// caps each claimed amount at what the discount yields. It returns the
// distinct ids whose usage must be counted, in ascending order.
func verifyDiscounts(cart Cart, lines []line, products map[int64]models.Product, discounts map[int64]*models.Discount, now time.Time) ([]int64, error) {
	applied := map[int64]struct{}{}

	for _, l := range lines {
		if l.discountID == nil {
			continue
		}
		d := discounts[*l.discountID]
		p := products[l.productID]
		field := fmt.Sprintf("items.%d.discount_id", l.index)

		if err := pricing.Check(d, l.amount, l.quantity, &p, now); err != nil {
			return nil, &DiscountInapplicableError{DiscountID: d.ID, Field: field, Reason: err}
		}
		if l.discountAmount.GreaterThan(pricing.CalculateDiscount(d, l.amount, l.quantity)) {
			return nil, &DiscountInapplicableError{DiscountID: d.ID, Field: field, Reason: ErrDiscountAmountExceeded}
		}
		if l.discountAmount.IsPositive() {
			applied[d.ID] = struct{}{}
		}
	}

	if cart.GeneralDiscountID != nil {
		d := discounts[*cart.GeneralDiscountID]
		cartAmount := money(cart.Subtotal).Sub(money(cart.ProductDiscounts))
		quantity := 0
		for _, l := range lines {
			quantity += l.quantity
		}

		if err := pricing.Check(d, cartAmount, quantity, nil, now); err != nil {
			return nil, &DiscountInapplicableError{DiscountID: d.ID, Field: "general_discount_id", Reason: err}
		}
		if money(cart.GeneralDiscount).GreaterThan(pricing.CalculateDiscount(d, cartAmount, quantity)) {
			return nil, &DiscountInapplicableError{DiscountID: d.ID, Field: "general_discount_id", Reason: ErrDiscountAmountExceeded}
		}
		if money(cart.GeneralDiscount).IsPositive() {
			applied[d.ID] = struct{}{}
		}
	}

	return sortedKeys(applied), nil
}

// validateCart performs every check that needs no storage: presence, signs
// and the arithmetic tying the client's totals to its lines.
func validateCart(cart Cart) ([]line, error) {
	v := newValidationError()
	if len(cart.Items) == 0 {
		v.Add("items", "at least one item is required")
	}

	lines := make([]line, 0, len(cart.Items))
	demand := make(map[int64]int, len(cart.Items))
	subtotal, productDiscounts := decimal.Zero, decimal.Zero
	for i, it := range cart.Items {
		f := fmt.Sprintf("items.%d.", i)
		ok := true
		if it.ProductID <= 0 {
			v.Add(f+"product_id", "is required")
			ok = false
		}
		switch {
		case it.Quantity < 1:
			v.Add(f+"quantity", "must be at least 1")
			ok = false
		case it.Quantity > MaxLineQuantity:
			v.Add(f+"quantity", "may not be greater than "+strconv.Itoa(MaxLineQuantity))
			ok = false
		case demand[it.ProductID] > math.MaxInt-it.Quantity:
			v.Add(f+"quantity", "total quantity for this product is too large")
			ok = false
		}
		if it.Price == nil {
			v.Add(f+"price", "is required")
			ok = false
		} else if it.Price.IsNegative() {
			v.Add(f+"price", "must be at least 0")
			ok = false
		}
		if it.DiscountID != nil && *it.DiscountID <= 0 {
			v.Add(f+"discount_id", "is invalid")
			ok = false
		}
		discountAmount := money(it.DiscountAmount)
		if discountAmount.IsNegative() {
			v.Add(f+"discount_amount", "must be at least 0")
			ok = false
		}
		if !ok {
			continue
		}

		unitPrice := it.Price.Round(2)
		amount := unitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		if discountAmount.GreaterThan(amount) {
			v.Add(f+"discount_amount", "may not exceed the line amount")
			continue
		}
		lines = append(lines, line{
			index:          i,
			productID:      it.ProductID,
			quantity:       it.Quantity,
			unitPrice:      unitPrice,
			amount:         amount,
			discountID:     it.DiscountID,
			discountAmount: discountAmount,
		})
		demand[it.ProductID] += it.Quantity
		subtotal = subtotal.Add(amount)
		productDiscounts = productDiscounts.Add(discountAmount)
	}

	requireMoney(v, "subtotal", cart.Subtotal)
	requireMoney(v, "product_discounts", cart.ProductDiscounts)
	requireMoney(v, "general_discount", cart.GeneralDiscount)
	requireMoney(v, "total_amount", cart.TotalAmount)
	optionalMoney(v, "tax_amount", cart.TaxAmount)
	optionalMoney(v, "amount_tendered", cart.AmountTendered)
	optionalMoney(v, "change_due", cart.ChangeDue)
	if cart.GeneralDiscountID != nil && *cart.GeneralDiscountID <= 0 {
		v.Add("general_discount_id", "is invalid")
	}
	if v.HasErrors() {
		return nil, v
	}

	if !money(cart.Subtotal).Equal(subtotal.Round(2)) {
		v.Add("subtotal", "does not match the line items ("+subtotal.StringFixed(2)+")")
	}
	if !money(cart.ProductDiscounts).Equal(productDiscounts.Round(2)) {
		v.Add("product_discounts", "does not match the line discounts ("+productDiscounts.StringFixed(2)+")")
	}
	net := subtotal.Sub(productDiscounts)
	if money(cart.GeneralDiscount).GreaterThan(net.Round(2)) {
		v.Add("general_discount", "may not exceed the discounted subtotal")
	}
	total := net.Sub(money(cart.GeneralDiscount)).Add(money(cart.TaxAmount)).Round(2)
	if !money(cart.TotalAmount).Equal(total) {
		v.Add("total_amount", "does not match subtotal - discounts + tax ("+total.StringFixed(2)+")")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	return lines, nil
}

func newOrder(staffID int64, customerID *int64, cart Cart, now time.Time) *models.Order {
	productDiscounts := money(cart.ProductDiscounts)
	generalDiscount := money(cart.GeneralDiscount)
	paymentMethod := strings.TrimSpace(cart.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = "cash"
	}

	order := &models.Order{
		OrderNumber:       newOrderNumber(now),
		CustomerID:        customerID,
		UserID:            staffID,
		Status:            models.OrderCompleted,
		Subtotal:          money(cart.Subtotal),
		TaxAmount:         money(cart.TaxAmount),
		ProductDiscounts:  productDiscounts,
		GeneralDiscount:   generalDiscount,
		TotalDiscount:     productDiscounts.Add(generalDiscount),
		GeneralDiscountID: cart.GeneralDiscountID,
		Total:             money(cart.TotalAmount),
		Notes:             cart.Notes,
		PaymentMethod:     paymentMethod,
		AmountTendered:    money(cart.AmountTendered),
		ChangeDue:         money(cart.ChangeDue),
	}
	if cart.IdempotencyKey != "" {
		key := cart.IdempotencyKey
		order.IdempotencyKey = &key
		order.IdempotencyHash = cartFingerprint(cart)
	}
	return order
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "ORD-" + now.Format("20060102") + "-" + strings.ToUpper(suffix)
}

// cartFingerprint hashes the cart's JSON form. Decimals marshal normalized,
// so 10 and 10.00 hash alike.
func cartFingerprint(cart Cart) string {
	data, err := json.Marshal(cart)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// stockDemand sums quantities per product. validateCart has already bounded
// the sums.
func stockDemand(lines []line) map[int64]int {
	demand := make(map[int64]int, len(lines))
	for _, l := range lines {
		demand[l.productID] += l.quantity
	}
	return demand
}

func requireMoney(v *ValidationError, field string, d *decimal.Decimal) {
	if d == nil {
		v.Add(field, "is required")
		return
	}
	optionalMoney(v, field, d)
}

func optionalMoney(v *ValidationError, field string, d *decimal.Decimal) {
	if d != nil && d.IsNegative() {
		v.Add(field, "must be at least 0")
	}
}

// money dereferences d rounded to cents; nil is zero.
func money(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return d.Round(2)
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func isCheckoutError(err error) bool {
	var (
		ve *ValidationError
		de *DiscountInapplicableError
		se *StockConflictError
		pe *PersistenceError
	)
	return errors.As(err, &ve) || errors.As(err, &de) || errors.As(err, &se) || errors.As(err, &pe)
}

func resultLabel(err error) string {
	var (
		ve *ValidationError
		de *DiscountInapplicableError
		se *StockConflictError
	)
	switch {
	case errors.Is(err, ErrIdempotencyKeyReused):
		return "idempotency"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &de):
		return "discount"
	case errors.As(err, &se):
		return "stock"
	default:
		return "persistence"
	}
}
