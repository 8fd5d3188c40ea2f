package order

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

// racingCartStore имитирует конкурента, который успел удалить одну строку
// корзины между чтением и очисткой.
type racingCartStore struct{ *memory.Store }

func (s racingCartStore) Do(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.Store.Do(ctx, func(tx domain.Tx) error { return fn(racingCartTx{tx}) })
}

type racingCartTx struct{ domain.Tx }

func (t racingCartTx) Carts() domain.CartRepository { return racingCarts{t.Tx.Carts()} }

type racingCarts struct{ domain.CartRepository }

func (c racingCarts) DeleteLines(ctx context.Context, ids []string) (int, error) {
	return c.CartRepository.DeleteLines(ctx, ids[1:])
}

func (s *OrderServiceSuite) TestCreateOrder_RaceForLastUnit() {
	s.addToCart(customer, "last", 1, "")
	s.addToCart(stranger, "last", 1, "")

	results := make([]error, 2)
	var g errgroup.Group
	for i, actor := range []domain.Actor{customer, stranger} {
		g.Go(func() error {
			_, err := s.svc.CreateOrder(s.ctx, actor, domain.ShippingInfo{})
			results[i] = err
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	var succeeded, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrCapacityExceeded):
			rejected++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, succeeded)
	s.Equal(1, rejected)
	s.Equal(0, s.stock("last"))
}

func (s *OrderServiceSuite) TestCreateOrder_ManyBuyersNeverOversell() {
	const buyers = 8
	actors := make([]domain.Actor, 0, buyers)
	s.Require().NoError(s.store.Do(s.ctx, func(tx domain.Tx) error {
		if err := tx.Products().Save(s.ctx, domain.Product{ID: "hot", Name: "Hot", Price: 5, Quantity: 3, IsActive: true}); err != nil {
			return err
		}
		for i := 0; i < buyers; i++ {
			u := domain.User{
				ID:       "buyer-" + string(rune('a'+i)),
				FullName: "Buyer",
				Email:    "buyer@shop.test",
				Address:  "Somewhere",
				Role:     domain.RoleUser,
				IsActive: true,
			}
			if err := tx.Users().Save(s.ctx, u); err != nil {
				return err
			}
			actors = append(actors, domain.ActorFor(u))
		}
		return nil
	}))
	for _, a := range actors {
		s.addToCart(a, "hot", 1, "")
	}

	var g errgroup.Group
	g.SetLimit(4)
	outcomes := make([]error, buyers)
	for i, a := range actors {
		g.Go(func() error {
			_, outcomes[i] = s.svc.CreateOrder(s.ctx, a, domain.ShippingInfo{})
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	var ok int
	for _, err := range outcomes {
		if err == nil {
			ok++
			continue
		}
		s.ErrorIs(err, domain.ErrCapacityExceeded)
	}
	s.Equal(3, ok)
	s.Equal(0, s.stock("hot"))
}

func (s *OrderServiceSuite) TestCreateOrder_SameBuyerTwiceSpendsCartOnce() {
	s.addToCart(customer, "pen", 2, "")
	s.addToCart(customer, "lamp", 1, "")

	results := make([]error, 2)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			_, results[i] = s.svc.CreateOrder(s.ctx, customer, domain.ShippingInfo{})
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	var placed int
	for _, err := range results {
		if err == nil {
			placed++
			continue
		}
		s.ErrorIs(err, domain.ErrEmptyCart)
	}
	s.Equal(1, placed)
	s.Equal(10000-2, s.stock("pen"))
	s.Equal(100-1, s.stock("lamp"))

	orders, err := s.svc.ListMyOrders(s.ctx, customer, domain.Page{})
	s.Require().NoError(err)
	s.Len(orders, 1)
}

func (s *OrderServiceSuite) TestCreateOrder_CartChangedUnderCheckoutRollsBack() {
	s.addToCart(customer, "pen", 2, "")
	s.addToCart(customer, "lamp", 1, "")

	svc := NewService(racingCartStore{s.store}, WithClock(s.now))
	_, err := svc.CreateOrder(s.ctx, customer, domain.ShippingInfo{})
	s.ErrorIs(err, domain.ErrContention)

	s.Equal(10000, s.stock("pen"))
	s.Equal(100, s.stock("lamp"))
	lines, err := s.carts.ListForUser(s.ctx, customer, domain.Page{})
	s.Require().NoError(err)
	s.Len(lines, 2)
}
