package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidAdjustment = errors.New("invalid lot adjustment")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
)

// InsufficientStockError reports how much of a product could be allocated.
type InsufficientStockError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// AdjustmentError is returned when a delta would take a lot outside [0, quantity].
type AdjustmentError struct {
	LotID     int64
	Remaining int64
	Quantity  int64
	Delta     int64
}

func (e *AdjustmentError) Error() string {
	return fmt.Sprintf("lot %d: cannot apply %+d to remaining %d (quantity %d)", e.LotID, e.Delta, e.Remaining, e.Quantity)
}

func (e *AdjustmentError) Unwrap() error { return ErrInvalidAdjustment }

type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Conflictf builds a ConflictError from a format string.
func Conflictf(format string, args ...any) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// ValidationError collects messages keyed by field path, e.g. "items.2.quantity".
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add records msg for field, keeping the first message per field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// Err returns e when any field failed, nil otherwise.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Invalid is a one-field ValidationError.
func Invalid(field, msg string) error {
	v := &ValidationError{}
	v.Add(field, msg)
	return v
}

// LineError ties an error to the request field it was raised for.
type LineError struct {
	Field string
	Err   error
}

func (e *LineError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *LineError) Unwrap() error { return e.Err }

// AtField wraps err with a field path. Validation errors are re-keyed
// under the path instead of being wrapped.
func AtField(field string, err error) error {
	if err == nil {
		return nil
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		out := &ValidationError{}
		for k, msg := range verr.Fields {
			out.Add(field+"."+k, msg)
		}
		return out
	}
	return &LineError{Field: field, Err: err}
}
