// Package stock turns upstream payloads into product statuses and
// classifies status changes against the last known state.
package stock

import "fmt"

// DefaultName is used when an entry has no usable name.
const DefaultName = "Unnamed Product"

// ProductStatus is one product's availability at fetch time.
type ProductStatus struct {
	ID      string
	Name    string
	InStock bool
	// Quantity is the raw inventory count when it was an integer.
	Quantity *int64
}

// Prior is the status recorded before a transition.
type Prior int

const (
	PriorUnknown Prior = iota
	PriorOutOfStock
)

func (p Prior) String() string {
	switch p {
	case PriorUnknown:
		return "unknown"
	case PriorOutOfStock:
		return "out_of_stock"
	default:
		return fmt.Sprintf("prior(%d)", int(p))
	}
}

// StockTransition is emitted when a product becomes available: either first
// seen in stock or flipped from out of stock. NewInStock is always true.
type StockTransition struct {
	ProductID  string
	Name       string
	Previous   Prior
	NewInStock bool
	Quantity   *int64
}

// Skip records an entry the parser could not use.
type Skip struct {
	Index  int
	Reason string
}

const (
	SkipNotObject   = "not an object"
	SkipMissingID   = "missing id"
	SkipMalformedID = "malformed id"
	SkipDuplicateID = "duplicate id"
)

// ParseResult holds usable products in payload order plus skipped entries.
type ParseResult struct {
	Products []ProductStatus
	Skipped  []Skip
	// ListMissing is set when the product list key was absent or not an array.
	ListMissing bool
}

// ParseError means the payload as a whole could not be read.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse payload: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }
