package domain

import "time"

// CartLine — строка корзины. На тройку (пользователь, товар, цвет) приходится не больше одной строки.
type CartLine struct {
	ID        string
	UserID    string
	ProductID string
	Quantity  int
	// Price — снимок цены товара на момент последней записи строки.
	Price      int64
	TotalMoney int64
	// Color различает варианты товара; пустая строка означает "без варианта".
	Color     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartKey — ключ уникальности строки корзины.
type CartKey struct {
	UserID    string
	ProductID string
	Color     string
}

// Key возвращает ключ уникальности строки.
func (l CartLine) Key() CartKey {
	return CartKey{UserID: l.UserID, ProductID: l.ProductID, Color: l.Color}
}

// Reprice снимает актуальную цену и пересчитывает итог строки.
func (l *CartLine) Reprice(price int64) {
	l.Price = price
	l.TotalMoney = price * int64(l.Quantity)
}

// SetQuantity меняет количество и пересчитывает итог по текущему снимку цены.
func (l *CartLine) SetQuantity(q int) {
	l.Quantity = q
	l.TotalMoney = l.Price * int64(q)
}

// Page задаёт страницу выборки. Size == 0 означает "без ограничения".
type Page struct {
	Page int
	Size int
}

// DefaultPageSize используется, если размер страницы не задан вызывающей стороной.
const DefaultPageSize = 20

// MaxPageSize ограничивает размер страницы сверху.
const MaxPageSize = 200

// Normalize приводит страницу к допустимым значениям.
func (p Page) Normalize() Page {
	if p.Page < 0 {
		p.Page = 0
	}
	switch {
	case p.Size <= 0:
		p.Size = DefaultPageSize
	case p.Size > MaxPageSize:
		p.Size = MaxPageSize
	}
	return p
}

// Offset возвращает смещение первой записи страницы.
func (p Page) Offset() int {
	return p.Page * p.Size
}

// Slice вырезает страницу из уже отсортированного списка.
func Slice[T any](items []T, p Page) []T {
	if p.Size <= 0 {
		return items
	}
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
