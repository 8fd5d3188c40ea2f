package domain

// transitions — разрешённые рёбра жизненного цикла по ролям.
var transitions = map[Role]map[OrderStatus][]OrderStatus{
	RoleAdmin: {
		OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
		OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
		OrderStatusShipped:    {OrderStatusDelivered},
	},
	RoleUser: {
		OrderStatusPending: {OrderStatusCancelled},
		OrderStatusShipped: {OrderStatusDelivered},
	},
}

// CanTransition сообщает, может ли роль перевести заказ из from в to.
// Переход в текущий статус всегда разрешён. Неизвестная роль получает права покупателя.
func CanTransition(role Role, from, to OrderStatus) bool {
	if from == to {
		return true
	}
	table, ok := transitions[role]
	if !ok {
		table = transitions[RoleUser]
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses возвращает статусы, доступные роли из текущего.
func NextStatuses(role Role, from OrderStatus) []OrderStatus {
	table, ok := transitions[role]
	if !ok {
		table = transitions[RoleUser]
	}
	out := make([]OrderStatus, len(table[from]))
	copy(out, table[from])
	return out
}
