package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

var (
	// errReadOnly возвращается при попытке записи внутри View.
	errReadOnly = errors.New("memory store: write in read-only transaction")
	// errDuplicateID возвращается при повторной вставке записи с тем же ID.
	errDuplicateID = errors.New("memory store: duplicate id")
)

// state — всё содержимое хранилища. Транзакция на запись работает с копией
// и подменяет ею текущее состояние только при успешном завершении.
type state struct {
	users    map[string]domain.User
	products map[string]domain.Product
	carts    map[string]domain.CartLine
	orders   map[string]domain.Order
	outbox   map[string]outboxRecord
	timeline map[string][]domain.TimelineEvent
}

func newState() *state {
	return &state{
		users:    make(map[string]domain.User),
		products: make(map[string]domain.Product),
		carts:    make(map[string]domain.CartLine),
		orders:   make(map[string]domain.Order),
		outbox:   make(map[string]outboxRecord),
		timeline: make(map[string][]domain.TimelineEvent),
	}
}

func (s *state) clone() *state {
	cp := &state{
		users:    make(map[string]domain.User, len(s.users)),
		products: make(map[string]domain.Product, len(s.products)),
		carts:    make(map[string]domain.CartLine, len(s.carts)),
		orders:   make(map[string]domain.Order, len(s.orders)),
		outbox:   make(map[string]outboxRecord, len(s.outbox)),
		timeline: make(map[string][]domain.TimelineEvent, len(s.timeline)),
	}
	for k, v := range s.users {
		cp.users[k] = v
	}
	for k, v := range s.products {
		cp.products[k] = v
	}
	for k, v := range s.carts {
		cp.carts[k] = v
	}
	// Позиции заказа неизменяемы, но срез всё равно копируем: вызывающий код мог его поменять.
	for k, v := range s.orders {
		cp.orders[k] = v.Clone()
	}
	for k, v := range s.outbox {
		v.msg.Payload = append([]byte(nil), v.msg.Payload...)
		cp.outbox[k] = v
	}
	for k, v := range s.timeline {
		cp.timeline[k] = append([]domain.TimelineEvent(nil), v...)
	}
	return cp
}

// Store — in-memory реализация UnitOfWork для локальной разработки и тестов.
// Одна транзакция на запись в момент времени: блокировка держится до конца Do.
type Store struct {
	mu sync.RWMutex
	st *state

	idempotency *idempotencyStore
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		st:          newState(),
		idempotency: newIdempotencyStore(func() time.Time { return time.Now().UTC() }),
	}
}

// Do выполняет fn над копией состояния и фиксирует её, если fn вернула nil.
func (s *Store) Do(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{st: work, writable: true}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

// View выполняет fn над текущим состоянием без права записи.
func (s *Store) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&memTx{st: s.st})
}

// Outbox возвращает репозиторий outbox вне пользовательских транзакций (для relay-воркера).
func (s *Store) Outbox() domain.OutboxRepository {
	return &storeOutbox{store: s}
}

// Idempotency возвращает репозиторий ключей идемпотентности.
func (s *Store) Idempotency() domain.IdempotencyRepository {
	return s.idempotency
}

// Ping всегда успешен: хранилище живёт в памяти процесса.
func (s *Store) Ping(context.Context) error {
	return nil
}

type memTx struct {
	st       *state
	writable bool
}

func (t *memTx) checkWritable() error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

func (t *memTx) Users() domain.UserRepository       { return userRepository{tx: t} }
func (t *memTx) Products() domain.ProductRepository { return productRepository{tx: t} }
func (t *memTx) Carts() domain.CartRepository       { return cartRepository{tx: t} }
func (t *memTx) Orders() domain.OrderRepository     { return orderRepository{tx: t} }
func (t *memTx) Outbox() domain.OutboxRepository    { return outboxRepository{tx: t} }
func (t *memTx) Timeline() domain.TimelineRepository {
	return timelineRepository{tx: t}
}

var (
	_ domain.UnitOfWork = (*Store)(nil)
	_ domain.Tx         = (*memTx)(nil)
)
