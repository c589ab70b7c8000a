package shipping

import "fmt"

// DispatchError is a failed carrier call: transport error, non-2xx status, or a 2xx that created no order.
type DispatchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DispatchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("carrier dispatch failed: status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("carrier dispatch failed: status %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("carrier dispatch failed: %v", e.Err)
	}
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// RecordError means the carrier booked the shipment but the result could not be written to the order.
// The shipment exists; dispatching again would book a second one.
type RecordError struct {
	OrderID string
	Err     error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record dispatch for order %s: %v", e.OrderID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
