package domain

import "time"

type AllocationStatus string

const (
	StatusSuccess        AllocationStatus = "success"
	StatusPartialSuccess AllocationStatus = "partial_success"
	StatusFailure        AllocationStatus = "failure"
)

type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindValidation        ErrorKind = "validation"
	KindNoStock           ErrorKind = "no_stock"
	KindInsufficientStock ErrorKind = "insufficient_stock"
	KindNoStockNoAPI      ErrorKind = "no_stock_no_api"
	KindExternalAPIError  ErrorKind = "external_api_error"
	KindPartialStock      ErrorKind = "partial_stock"
	KindUnexpected        ErrorKind = "unexpected"
)

type AllocatedPin struct {
	Code   string    `json:"pin_code"`
	Source PinSource `json:"source"`
}

// Allocation is the outcome of one allocator call. Pins already taken are
// reported even when Status is partial_success; nothing is rolled back.
type Allocation struct {
	Status     AllocationStatus `json:"status"`
	Kind       ErrorKind        `json:"error_type,omitempty"`
	Message    string           `json:"message,omitempty"`
	PackageID  int              `json:"package_id"`
	Requested  int              `json:"requested"`
	LocalStock int              `json:"local_stock"`
	Pins       []AllocatedPin   `json:"pins"`
	Timestamp  time.Time        `json:"timestamp"`
}

func (a Allocation) Obtained() int {
	return len(a.Pins)
}

func (a Allocation) CountBySource(src PinSource) int {
	n := 0
	for _, p := range a.Pins {
		if p.Source == src {
			n++
		}
	}
	return n
}

func (a Allocation) Codes() []string {
	codes := make([]string, len(a.Pins))
	for i, p := range a.Pins {
		codes[i] = p.Code
	}
	return codes
}

type Availability struct {
	PackageID         int  `json:"package_id"`
	LocalStock        int  `json:"local_stock"`
	ExternalChecked   bool `json:"external_checked"`
	ExternalAvailable bool `json:"external_available"`
	Available         bool `json:"available"`
}
