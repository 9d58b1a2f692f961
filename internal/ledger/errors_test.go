package ledger

import (
	"errors"
	"testing"
)

func TestAtField(t *testing.T) {
	err := AtField("items.2", Invalid("quantity", "must be greater than zero"))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if msg := verr.Fields["items.2.quantity"]; msg != "must be greater than zero" {
		t.Errorf("Fields = %v", verr.Fields)
	}

	err = AtField("items.0.quantity", &InsufficientStockError{ProductID: 3, Requested: 5, Available: 3})
	var lineErr *LineError
	if !errors.As(err, &lineErr) || lineErr.Field != "items.0.quantity" {
		t.Fatalf("expected LineError for items.0.quantity, got %v", err)
	}
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Available != 3 {
		t.Errorf("LineError should unwrap to the stock error, got %v", err)
	}

	if AtField("x", nil) != nil {
		t.Error("AtField(nil) should be nil")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	v := &ValidationError{}
	if v.Err() != nil {
		t.Fatal("empty ValidationError should report no error")
	}
	v.Add("payments.0.amount", "must be at least 0.01")
	v.Add("items", "at least one item is required")
	v.Add("items", "ignored")
	want := "validation failed: items: at least one item is required; payments.0.amount: must be at least 0.01"
	if got := v.Err().Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
