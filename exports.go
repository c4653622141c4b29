package credits

import "github.com/radiant/credits/types"

// Re-export common types for convenience so users don't have to import types package.

// Credits is re-exported from types package.
type Credits = types.Credits

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Credits constructors and units
const (
	MilliCredit = types.MilliCredit
	Credit      = types.Credit
)

var (
	Whole        = types.Whole
	Milli        = types.Milli
	ParseCredits = types.ParseCredits
)

// Re-export Money constructors
var (
	USD       = types.USD
	EUR       = types.EUR
	GBP       = types.GBP
	ZeroMoney = types.ZeroMoney
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
