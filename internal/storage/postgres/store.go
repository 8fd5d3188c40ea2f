// Package postgres реализует хранилище магазина поверх PostgreSQL
// (драйвер pgx через database/sql).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	opTimeout = 5 * time.Second
	txTimeout = 10 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolConfig — параметры пула database/sql.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

func (p PoolConfig) apply(db *sql.DB) {
	db.SetMaxOpenConns(p.MaxOpenConns)
	db.SetMaxIdleConns(p.MaxIdleConns)
	db.SetConnMaxLifetime(p.ConnMaxLifetime)
	db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
}

// querier — то, что умеют и *sql.DB, и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store реализует domain.UnitOfWork на PostgreSQL.
type Store struct {
	db   *sql.DB
	pool PoolConfig
}

// Open подключается с пулом по умолчанию.
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenWithPool(ctx, dsn, DefaultPoolConfig())
}

// OpenWithPool подключается к базе и проверяет её доступность.
func OpenWithPool(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	pool.apply(db)

	s := &Store{db: db, pool: pool}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

// DB отдаёт пул для служебных запросов.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	if s.pool.PingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pool.PingTimeout)
		defer cancel()
	}
	return s.db.PingContext(ctx)
}

// EnsureSchema накатывает все недостающие миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Do выполняет fn в транзакции READ COMMITTED. Списания остатка
// сериализуются блокировками строк (SELECT ... FOR UPDATE).
func (s *Store) Do(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.inTx(ctx, nil, fn)
}

func (s *Store) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.inTx(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *Store) inTx(ctx context.Context, opts *sql.TxOptions, fn func(tx domain.Tx) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{q: tx}); err != nil {
		_ = tx.Rollback()
		return translateConflict(err)
	}
	if err := tx.Commit(); err != nil {
		return translateConflict(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// Outbox работает вне пользовательских транзакций (relay, метрики).
func (s *Store) Outbox() domain.OutboxRepository {
	return &outboxRepository{q: s.db}
}

func (s *Store) Idempotency() domain.IdempotencyRepository {
	return &idempotencyRepository{db: s.db}
}

type pgTx struct {
	q querier
}

func (t *pgTx) Users() domain.UserRepository        { return &userRepository{q: t.q} }
func (t *pgTx) Products() domain.ProductRepository  { return &productRepository{q: t.q} }
func (t *pgTx) Carts() domain.CartRepository        { return &cartRepository{q: t.q} }
func (t *pgTx) Orders() domain.OrderRepository      { return &orderRepository{q: t.q} }
func (t *pgTx) Outbox() domain.OutboxRepository     { return &outboxRepository{q: t.q} }
func (t *pgTx) Timeline() domain.TimelineRepository { return &timelineRepository{q: t.q} }

// SQLSTATE, которые различает хранилище.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return sqlState(err) == pgUniqueViolation
}

// isRetryable: транзакцию прервал сервер, повтор может пройти.
func isRetryable(err error) bool {
	switch sqlState(err) {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return true
	}
	return false
}

// translateConflict сводит серверные конфликты к domain.ErrTxConflict,
// который понимает retry-цикл оформления заказа.
func translateConflict(err error) error {
	if err == nil || domain.IsRetryableConflict(err) || !isRetryable(err) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTxConflict, err)
}

var (
	_ domain.UnitOfWork = (*Store)(nil)
	_ domain.Tx         = (*pgTx)(nil)
)
