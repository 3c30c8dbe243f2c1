// Package order submits subset/reformat orders against a granule set
// and tracks them to completion.
package order

import (
	"errors"
)

// Status is the lifecycle state of a submitted order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// ErrOrderFailed reports an order that reached the failed terminal
// status. It is reported per order and does not abort sibling orders.
var ErrOrderFailed = errors.New("order failed")

// Order is one fulfillment request covering a single page of granules.
type Order struct {
	ID         string
	Page       int
	GranuleIDs []string
	Status     Status
	Mode       Mode

	// FileURLs holds the downloadable payload URLs once the order
	// completes.
	FileURLs []string

	// NoData marks an order that completed with zero output files
	// because no granule actually overlapped the requested extent.
	NoData bool

	// Message carries the service's last status message, if any.
	Message string
}

// submitResponse is the order submission response body.
type submitResponse struct {
	OrderID  string   `json:"order_id"`
	Status   Status   `json:"status"`
	FileURLs []string `json:"file_urls,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// statusResponse is the order polling response body.
type statusResponse struct {
	OrderID  string   `json:"order_id"`
	Status   string   `json:"status"`
	FileURLs []string `json:"file_urls,omitempty"`
	Message  string   `json:"message,omitempty"`
}
