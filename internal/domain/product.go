package domain

import (
	"strings"
	"time"
)

// Product — запись каталога, владеющая складским остатком.
type Product struct {
	ID   string
	Name string
	// Price — цена за единицу в минимальных денежных единицах.
	Price int64
	// Quantity — доступный остаток, никогда не бывает отрицательным.
	Quantity  int
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет данные товара перед сохранением в каталог.
func (p Product) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return ErrInvalidProductData
	case p.Price < 0:
		return ErrInvalidProductData
	case p.Quantity < 0:
		return ErrInvalidProductData
	}
	return nil
}

// HasStock сообщает, хватает ли остатка на n единиц.
func (p Product) HasStock(n int) bool {
	return n <= p.Quantity
}
