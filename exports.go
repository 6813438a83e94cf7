package market

import (
	"github.com/xraph/market/account"
	"github.com/xraph/market/types"
)

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Account is re-exported from account package.
type Account = account.Account

// Re-export Money constructors
var (
	USD        = types.USD
	EUR        = types.EUR
	ETH        = types.ETH
	Zero       = types.Zero
	Major      = types.Major
	ParseMoney = types.ParseMoney
)

// Re-export account helpers
var (
	ParseAccount     = account.Parse
	MustParseAccount = account.MustParse
)
