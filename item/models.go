// Package item defines the listed goods held in the item registry.
package item

import "github.com/xraph/market/types"

// Item is a purchasable listing. ID is chosen by the lister; Cost never
// changes except by re-listing the whole record.
type Item struct {
	types.Entity
	ID       int64       `json:"id"`
	Name     string      `json:"name"`
	Category string      `json:"category"`
	Image    string      `json:"image"`
	Cost     types.Money `json:"cost"`
	Rating   int         `json:"rating"`
	Stock    int64       `json:"stock"`
}

// Listed reports whether the record came from a listing rather than
// being the zero record returned for an unknown id.
func (i Item) Listed() bool { return i.ID != 0 }

// InStock reports whether at least one unit can be sold.
func (i Item) InStock() bool { return i.Stock > 0 }

// Snapshot returns a detached copy suitable for embedding in an order.
func (i Item) Snapshot() Item { return i }

// ListOpts filters ListItems. Results are ordered by id.
type ListOpts struct {
	Category string
	Limit    int
	Offset   int
}
