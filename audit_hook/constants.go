package audithook

// Action constants for audit events.
const (
	// Reservation actions
	ActionReserved           = "reservation.created"
	ActionReservationDenied  = "reservation.denied"
	ActionSettled            = "reservation.settled"
	ActionShortfallAdjusted  = "reservation.shortfall_adjusted"
	ActionReleased           = "reservation.released"
	ActionReservationExpired = "reservation.expired"

	// Purchase actions
	ActionPurchaseCompleted     = "purchase.completed"
	ActionPurchaseFailed        = "purchase.failed"
	ActionAutoPurchaseTriggered = "purchase.auto_triggered"
	ActionRefunded              = "purchase.refunded"

	// Balance actions
	ActionGrantApplied = "grant.applied"
	ActionTransferred  = "transfer.completed"
)

// Resource constants for audit events.
const (
	ResourcePool        = "pool"
	ResourceReservation = "reservation"
	ResourcePurchase    = "purchase"
)

// Category constants for audit events.
const (
	CategoryConsumption = "consumption"
	CategoryPayment     = "payment"
	CategoryBalance     = "balance"
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
	OutcomePartial = "partial"
)
