package entsoe

import "fmt"

// NotAvailableError means the market operator has no data for the requested
// window yet. This is a normal, frequent outcome during the publication
// window, not a fault.
type NotAvailableError struct {
	Reason string
}

func (e *NotAvailableError) Error() string {
	return "data not available: " + e.Reason
}

// DocumentError means the publication document could not be understood at
// all: unknown resolution code, missing required fields, malformed XML.
type DocumentError struct {
	Detail string
}

func (e *DocumentError) Error() string {
	return "malformed publication document: " + e.Detail
}

// UpstreamError covers network failures and non-2xx responses other than the
// single retried rate-limit case.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
