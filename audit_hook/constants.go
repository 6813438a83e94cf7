package audithook

// Action constants for audit events.
const (
	// Item registry actions
	ActionItemListed = "item.listed"

	// Purchase actions
	ActionPurchaseSettled  = "purchase.settled"
	ActionPurchaseRejected = "purchase.rejected"

	// Treasury actions
	ActionTreasuryWithdrawn = "treasury.withdrawn"
	ActionWithdrawalFailed  = "treasury.withdrawal_failed"
)

// Resource constants for audit events.
const (
	ResourceItem       = "item"
	ResourceOrder      = "order"
	ResourceWithdrawal = "withdrawal"
)

// Category constants for audit events.
const (
	CategoryCatalog  = "catalog"
	CategorySales    = "sales"
	CategoryTreasury = "treasury"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
