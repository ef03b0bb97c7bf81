package domain

import "fmt"

type VendorErrorKind string

const (
	VendorTimeout    VendorErrorKind = "timeout"
	VendorConnection VendorErrorKind = "connection"
	VendorStatus     VendorErrorKind = "status"
	VendorParse      VendorErrorKind = "parse_error"
	VendorRejected   VendorErrorKind = "api_error"
	VendorValidation VendorErrorKind = "validation"
)

// VendorError is the only error type returned by the vendor client.
type VendorError struct {
	Kind       VendorErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *VendorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vendor %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("vendor %s: %s", e.Kind, e.Message)
}

func (e *VendorError) Unwrap() error {
	return e.Err
}

// Unreachable reports whether the vendor could not be talked to at all.
func (e *VendorError) Unreachable() bool {
	return e.Kind == VendorTimeout || e.Kind == VendorConnection
}
