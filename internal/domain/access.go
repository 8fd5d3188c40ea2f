package domain

// CanAccess — проверка доступа к конкретному заказу: администратор или владелец.
func CanAccess(actor Actor, order Order) bool {
	return actor.IsAdmin() || (actor.UserID != "" && actor.UserID == order.UserID)
}

// CanAccessLine — то же правило для строки корзины.
func CanAccessLine(actor Actor, line CartLine) bool {
	return actor.IsAdmin() || (actor.UserID != "" && actor.UserID == line.UserID)
}
