package models

// orderStatuses is the set of statuses an order may hold.
var orderStatuses = map[string]bool{
	OrderStatusPending:    true,
	OrderStatusConfirmed:  true,
	OrderStatusProcessing: true,
	OrderStatusShipped:    true,
	OrderStatusDelivered:  true,
	OrderStatusCancelled:  true,
}

// terminalOrderStatuses admit no further transitions, not even by an admin.
var terminalOrderStatuses = map[string]bool{
	OrderStatusDelivered: true,
	OrderStatusCancelled: true,
}

// IsValidOrderStatus reports whether s names a known order status.
func IsValidOrderStatus(s string) bool {
	return orderStatuses[s]
}

// IsTerminalOrderStatus reports whether s is a terminal order status.
func IsTerminalOrderStatus(s string) bool {
	return terminalOrderStatuses[s]
}

// CanAdminTransition reports whether an admin may move an order from one
// status to another. Any move between non-terminal statuses is allowed so
// operators can skip or revert pipeline steps; terminal statuses are locked.
func CanAdminTransition(from, to string) bool {
	if !orderStatuses[from] || !orderStatuses[to] {
		return false
	}
	return !terminalOrderStatuses[from]
}
