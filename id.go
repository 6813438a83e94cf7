package market

import "github.com/xraph/market/id"

// ID is the identifier type for orders, withdrawals and events.
type ID = id.ID

// Prefix identifies the record type encoded in a TypeID.
type Prefix = id.Prefix
