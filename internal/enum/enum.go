package enum

// ── Group A: Cancel request lifecycle ──

const (
	CancelStatusPending  = "PENDING"
	CancelStatusApproved = "APPROVED"
	CancelStatusRejected = "REJECTED"
)

// Transient phases exist only while a backend action is in flight.
const (
	PhaseApproving = "APPROVING"
	PhaseRejecting = "REJECTING"
)

// ── Group B: Order snapshot values (lower-case, as the backend speaks them) ──

const (
	OrderStatusPending   = "pending"
	OrderStatusActive    = "active"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

const (
	OrderTypeDineIn   = "dine-in"
	OrderTypeTakeaway = "takeaway"
	OrderTypeDelivery = "delivery"
	OrderTypeCafe     = "cafe"
)

// ── Group C: Roles ──

const (
	UserRoleOwner   = "OWNER"
	UserRoleManager = "MANAGER"
	UserRoleCashier = "CASHIER"
)

// ── Group D: Cross-view events ──

const (
	EventOrderCancellationApproved = "orderCancellationApproved"
	EventOrderCancellationRejected = "orderCancellationRejected"
)
