package domain

import "context"

// UserRepository — доступ к записям сервиса идентификации.
type UserRepository interface {
	// Get возвращает пользователя или ErrUserNotFound.
	Get(ctx context.Context, id string) (User, error)
	// Save создаёт или перезаписывает пользователя.
	Save(ctx context.Context, user User) error
}

// ProductRepository — доступ к каталогу и складскому остатку.
type ProductRepository interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	// GetForUpdate блокирует строки товаров до конца транзакции в порядке возрастания ID.
	// Отсутствующий ID даёт ErrProductNotFound.
	GetForUpdate(ctx context.Context, ids []string) (map[string]Product, error)
	// Save создаёт или перезаписывает товар.
	Save(ctx context.Context, product Product) error
	// DebitStock условно списывает n единиц. Если остатка уже не хватает, возвращает ErrStockConflict.
	DebitStock(ctx context.Context, id string, n int) error
	// CreditStock возвращает n единиц на склад.
	CreditStock(ctx context.Context, id string, n int) error
}

// CartRepository — хранилище строк корзины.
type CartRepository interface {
	// Get возвращает строку или ErrCartLineNotFound.
	Get(ctx context.Context, id string) (CartLine, error)
	// FindByKey ищет строку по (пользователь, товар, цвет) или возвращает ErrCartLineNotFound.
	FindByKey(ctx context.Context, key CartKey) (CartLine, error)
	// ListByUser возвращает строки пользователя, свежие изменения первыми. Page.Size == 0 отдаёт все.
	ListByUser(ctx context.Context, userID string, page Page) ([]CartLine, error)
	// LockByProduct возвращает строки всех пользователей с этим товаром в порядке ID
	// и блокирует их до конца транзакции.
	LockByProduct(ctx context.Context, productID string) ([]CartLine, error)
	Create(ctx context.Context, line CartLine) error
	Update(ctx context.Context, line CartLine) error
	// Delete удаляет строку; отсутствие строки не ошибка.
	Delete(ctx context.Context, id string) error
	// DeleteByUser удаляет все строки пользователя и возвращает их число.
	DeleteByUser(ctx context.Context, userID string) (int, error)
	// LockByUser возвращает все строки пользователя и блокирует их до конца
	// транзакции. Строки, удалённые конкурентом, в результат не попадают.
	LockByUser(ctx context.Context, userID string) ([]CartLine, error)
	// DeleteLines удаляет строки по ID и возвращает число удалённых.
	DeleteLines(ctx context.Context, ids []string) (int, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ с позициями или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate как Get, но блокирует заказ до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя без позиций, новые первыми.
	ListByUser(ctx context.Context, userID string, page Page) ([]Order, error)
	// List возвращает все заказы без позиций, новые первыми.
	List(ctx context.Context, page Page) ([]Order, error)
	// ListDetails возвращает позиции заказа.
	ListDetails(ctx context.Context, orderID string) ([]OrderDetail, error)
	// Save применяет изменения заголовка заказа с учётом optimistic locking.
	// Позиции не перезаписываются.
	Save(ctx context.Context, order Order) error
}

// Tx — набор репозиториев, привязанных к одной транзакции.
type Tx interface {
	Users() UserRepository
	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Outbox() OutboxRepository
	Timeline() TimelineRepository
}

// UnitOfWork задаёт границу транзакции.
type UnitOfWork interface {
	// Do выполняет fn в транзакции на запись. Ошибка fn откатывает все изменения.
	Do(ctx context.Context, fn func(tx Tx) error) error
	// View выполняет fn в транзакции только на чтение.
	View(ctx context.Context, fn func(tx Tx) error) error
}
