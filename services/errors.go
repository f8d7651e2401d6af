package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

var ErrNotFound = errors.New("record not found")

// ValidationError carries field-level detail for a rejected request. Nothing
// has been written when it is returned.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: map[string]string{}}
}

func (e *ValidationError) Add(field, msg string) {
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// OrNil returns e only when a field was added.
func (e *ValidationError) OrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func fieldError(field, msg string) *ValidationError {
	e := newValidationError()
	e.Add(field, msg)
	return e
}

// DiscountInapplicableError rejects a whole order because a referenced
// discount no longer applies at commit time.
type DiscountInapplicableError struct {
	DiscountID int64
	Field      string
	Reason     error
}

func (e *DiscountInapplicableError) Error() string {
	return fmt.Sprintf("discount %d is not applicable (%s): %v", e.DiscountID, e.Field, e.Reason)
}

func (e *DiscountInapplicableError) Unwrap() error {
	return e.Reason
}

// StockConflictError rejects an order whose demand exceeds stock on hand
// while the overselling guard is on.
type StockConflictError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// PersistenceError wraps a storage failure during the atomic commit. Step
// names the write that failed.
type PersistenceError struct {
	Step string
	Err  error
}

func (e *PersistenceError) Error() string {
	return "checkout failed at " + e.Step + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(step string, err error) error {
	return &PersistenceError{Step: step, Err: errors.Wrap(err, step)}
}
