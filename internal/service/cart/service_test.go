package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

type cacheMock struct {
	mock.Mock
}

func (m *cacheMock) Get(ctx context.Context, userID string, page domain.Page) ([]domain.CartLine, bool, error) {
	args := m.Called(ctx, userID, page)
	lines, _ := args.Get(0).([]domain.CartLine)
	return lines, args.Bool(1), args.Error(2)
}

func (m *cacheMock) Generation(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *cacheMock) Set(ctx context.Context, userID string, gen int64, page domain.Page, lines []domain.CartLine) error {
	return m.Called(ctx, userID, gen, page, lines).Error(0)
}

func (m *cacheMock) Invalidate(ctx context.Context, userIDs ...string) error {
	args := []any{ctx}
	for _, id := range userIDs {
		args = append(args, id)
	}
	return m.Called(args...).Error(0)
}

type CartServiceSuite struct {
	suite.Suite

	ctx   context.Context
	store *memory.Store
	svc   *Service
	clock time.Time
	ann   domain.Actor
	bob   domain.Actor
}

func TestCartServiceSuite(t *testing.T) {
	suite.Run(t, new(CartServiceSuite))
}

func (s *CartServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.svc = NewService(s.store, WithClock(s.tick))
	s.ann = domain.Actor{UserID: "ann", Role: domain.RoleUser}
	s.bob = domain.Actor{UserID: "bob", Role: domain.RoleUser}

	s.Require().NoError(s.store.Do(s.ctx, func(tx domain.Tx) error {
		for _, u := range []domain.User{
			{ID: "ann", FullName: "Ann", Email: "ann@example.com", Role: domain.RoleUser, IsActive: true},
			{ID: "bob", FullName: "Bob", Email: "bob@example.com", Role: domain.RoleUser, IsActive: true},
			{ID: "ghost", Role: domain.RoleUser, IsActive: false},
		} {
			if err := tx.Users().Save(s.ctx, u); err != nil {
				return err
			}
		}
		for _, p := range []domain.Product{
			{ID: "mug", Name: "Mug", Price: 100, Quantity: 5, IsActive: true},
			{ID: "retired", Name: "Old", Price: 10, Quantity: 10, IsActive: false},
		} {
			if err := tx.Products().Save(s.ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *CartServiceSuite) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *CartServiceSuite) TestAddCreatesLineWithPriceSnapshot() {
	line, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 2, Color: "red"})
	s.Require().NoError(err)
	s.NotEmpty(line.ID)
	s.Equal(int64(100), line.Price)
	s.Equal(int64(200), line.TotalMoney)
	s.Equal("ann", line.UserID)
}

func (s *CartServiceSuite) TestAddMergesSameProductAndColor() {
	first, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 2})
	s.Require().NoError(err)

	merged, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 3})
	s.Require().NoError(err)
	s.Equal(first.ID, merged.ID)
	s.Equal(5, merged.Quantity)
	s.Equal(int64(500), merged.TotalMoney)

	lines, err := s.svc.ListForUser(s.ctx, s.ann, domain.Page{})
	s.Require().NoError(err)
	s.Len(lines, 1)
}

func (s *CartServiceSuite) TestAddDifferentColorsAreSeparateLines() {
	_, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 1, Color: "red"})
	s.Require().NoError(err)
	_, err = s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 1, Color: "blue"})
	s.Require().NoError(err)

	lines, err := s.svc.ListForUser(s.ctx, s.ann, domain.Page{})
	s.Require().NoError(err)
	s.Len(lines, 2)
	s.Equal("blue", lines[0].Color, "most recently updated first")
}

func (s *CartServiceSuite) TestAddRejections() {
	cases := []struct {
		name  string
		actor domain.Actor
		req   AddRequest
		want  error
	}{
		{"zero quantity", s.ann, AddRequest{ProductID: "mug", Quantity: 0}, domain.ErrInvalidQuantity},
		{"unknown product", s.ann, AddRequest{ProductID: "nope", Quantity: 1}, domain.ErrNotFound},
		{"inactive product", s.ann, AddRequest{ProductID: "retired", Quantity: 1}, domain.ErrInvalidProduct},
		{"over stock", s.ann, AddRequest{ProductID: "mug", Quantity: 6}, domain.ErrCapacityExceeded},
		{"deactivated user", domain.Actor{UserID: "ghost"}, AddRequest{ProductID: "mug", Quantity: 1}, domain.ErrForbidden},
		{"unknown user", domain.Actor{UserID: "nobody"}, AddRequest{ProductID: "mug", Quantity: 1}, domain.ErrUserNotFound},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.svc.Add(s.ctx, tc.actor, tc.req)
			s.ErrorIs(err, tc.want)
		})
	}
}

func (s *CartServiceSuite) TestAddExactlyStockSucceeds() {
	line, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 5})
	s.Require().NoError(err)
	s.Equal(5, line.Quantity)

	_, err = s.svc.Add(s.ctx, s.bob, AddRequest{ProductID: "mug", Quantity: 6})
	s.ErrorIs(err, domain.ErrCapacityExceeded)
}

func (s *CartServiceSuite) TestAddMergedQuantityBoundedByStock() {
	_, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 3})
	s.Require().NoError(err)

	_, err = s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 3})
	s.ErrorIs(err, domain.ErrCapacityExceeded)

	lines, err := s.svc.ListForUser(s.ctx, s.ann, domain.Page{})
	s.Require().NoError(err)
	s.Equal(3, lines[0].Quantity, "rejected add leaves line untouched")
}

func (s *CartServiceSuite) TestUpdateInPlace() {
	line, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 1})
	s.Require().NoError(err)

	updated, err := s.svc.Update(s.ctx, s.ann, line.ID, UpdateRequest{Quantity: 4})
	s.Require().NoError(err)
	s.Equal(line.ID, updated.ID)
	s.Equal(4, updated.Quantity)
	s.Equal(int64(400), updated.TotalMoney)
}

func (s *CartServiceSuite) TestUpdateColorMergesIntoExistingLine() {
	red, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 1, Color: "red"})
	s.Require().NoError(err)
	blue, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 2, Color: "blue"})
	s.Require().NoError(err)

	color := "blue"
	merged, err := s.svc.Update(s.ctx, s.ann, red.ID, UpdateRequest{Quantity: 3, Color: &color})
	s.Require().NoError(err)
	s.Equal(blue.ID, merged.ID)
	s.Equal(5, merged.Quantity)

	_, err = s.svc.Get(s.ctx, s.ann, red.ID)
	s.ErrorIs(err, domain.ErrCartLineNotFound)
}

func (s *CartServiceSuite) TestUpdateColorMergeBoundedByStock() {
	red, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 1, Color: "red"})
	s.Require().NoError(err)
	_, err = s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 3, Color: "blue"})
	s.Require().NoError(err)

	color := "blue"
	_, err = s.svc.Update(s.ctx, s.ann, red.ID, UpdateRequest{Quantity: 3, Color: &color})
	s.ErrorIs(err, domain.ErrCapacityExceeded)

	got, err := s.svc.Get(s.ctx, s.ann, red.ID)
	s.Require().NoError(err)
	s.Equal("red", got.Color)
}

func (s *CartServiceSuite) TestUpdateRejections() {
	line, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 1})
	s.Require().NoError(err)

	_, err = s.svc.Update(s.ctx, s.bob, line.ID, UpdateRequest{Quantity: 2})
	s.ErrorIs(err, domain.ErrForbidden)

	_, err = s.svc.Update(s.ctx, s.ann, "missing", UpdateRequest{Quantity: 2})
	s.ErrorIs(err, domain.ErrNotFound)

	_, err = s.svc.Update(s.ctx, s.ann, line.ID, UpdateRequest{Quantity: 0})
	s.ErrorIs(err, domain.ErrInvalidQuantity)

	_, err = s.svc.Update(s.ctx, s.ann, line.ID, UpdateRequest{Quantity: 9})
	s.ErrorIs(err, domain.ErrCapacityExceeded)

	s.Require().NoError(s.store.Do(s.ctx, func(tx domain.Tx) error {
		p, err := tx.Products().Get(s.ctx, "mug")
		if err != nil {
			return err
		}
		p.IsActive = false
		return tx.Products().Save(s.ctx, p)
	}))
	_, err = s.svc.Update(s.ctx, s.ann, line.ID, UpdateRequest{Quantity: 2})
	s.ErrorIs(err, domain.ErrInvalidProduct)
}

func (s *CartServiceSuite) TestDeleteIsIdempotentAndOwnerOnly() {
	line, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 1})
	s.Require().NoError(err)

	s.ErrorIs(s.svc.Delete(s.ctx, s.bob, line.ID), domain.ErrForbidden)
	s.NoError(s.svc.Delete(s.ctx, s.ann, line.ID))
	s.NoError(s.svc.Delete(s.ctx, s.ann, line.ID))
}

func (s *CartServiceSuite) TestClearForUserTouchesOnlyCaller() {
	_, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 1})
	s.Require().NoError(err)
	_, err = s.svc.Add(s.ctx, s.bob, AddRequest{ProductID: "mug", Quantity: 1})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.ClearForUser(s.ctx, s.ann))
	s.Require().NoError(s.svc.ClearForUser(s.ctx, s.ann))

	annLines, err := s.svc.ListForUser(s.ctx, s.ann, domain.Page{})
	s.Require().NoError(err)
	s.Empty(annLines)
	bobLines, err := s.svc.ListForUser(s.ctx, s.bob, domain.Page{})
	s.Require().NoError(err)
	s.Len(bobLines, 1)
}

func (s *CartServiceSuite) TestGetAllowsOwnerAndAdmin() {
	line, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 1})
	s.Require().NoError(err)

	_, err = s.svc.Get(s.ctx, s.bob, line.ID)
	s.ErrorIs(err, domain.ErrForbidden)

	got, err := s.svc.Get(s.ctx, domain.Actor{UserID: "root", Role: domain.RoleAdmin}, line.ID)
	s.Require().NoError(err)
	s.Equal(line.ID, got.ID)
}

func (s *CartServiceSuite) TestResnapshotPrices() {
	_, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 2})
	s.Require().NoError(err)
	_, err = s.svc.Add(s.ctx, s.bob, AddRequest{ProductID: "mug", Quantity: 1, Color: "red"})
	s.Require().NoError(err)

	s.setPrice("mug", 150)
	n, price, err := s.svc.ResnapshotPrices(s.ctx, "mug")
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(int64(150), price)

	lines, err := s.svc.ListForUser(s.ctx, s.ann, domain.Page{})
	s.Require().NoError(err)
	s.Equal(int64(150), lines[0].Price)
	s.Equal(int64(300), lines[0].TotalMoney)

	n, _, err = s.svc.ResnapshotPrices(s.ctx, "mug")
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *CartServiceSuite) TestResnapshotPrices_UnknownProduct() {
	_, _, err := s.svc.ResnapshotPrices(s.ctx, "nope")
	s.ErrorIs(err, domain.ErrProductNotFound)
}

func (s *CartServiceSuite) setPrice(productID string, price int64) {
	s.Require().NoError(s.store.Do(s.ctx, func(tx domain.Tx) error {
		p, err := tx.Products().Get(s.ctx, productID)
		if err != nil {
			return err
		}
		p.Price = price
		return tx.Products().Save(s.ctx, p)
	}))
}

func (s *CartServiceSuite) TestListPaging() {
	for _, color := range []string{"a", "b", "c"} {
		_, err := s.svc.Add(s.ctx, s.ann, AddRequest{ProductID: "mug", Quantity: 1, Color: color})
		s.Require().NoError(err)
	}

	page, err := s.svc.ListForUser(s.ctx, s.ann, domain.Page{Page: 1, Size: 2})
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("a", page[0].Color)
}

func TestListForUser_ServesFromCache(t *testing.T) {
	store := memory.NewStore()
	cache := &cacheMock{}
	svc := NewService(store, WithCache(cache))
	actor := domain.Actor{UserID: "ann"}
	page := domain.Page{Size: 10}
	cached := []domain.CartLine{{ID: "l-1", UserID: "ann"}}

	cache.On("Get", mock.Anything, "ann", page).Return(cached, true, nil).Once()

	lines, err := svc.ListForUser(context.Background(), actor, page)
	require.NoError(t, err)
	require.Equal(t, cached, lines)
	cache.AssertExpectations(t)
	cache.AssertNotCalled(t, "Generation", mock.Anything, mock.Anything)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListForUser_FillsCacheOnMissAndSurvivesCacheErrors(t *testing.T) {
	store := memory.NewStore()
	cache := &cacheMock{}
	svc := NewService(store, WithCache(cache))
	actor := domain.Actor{UserID: "ann"}
	page := domain.Page{}

	cache.On("Get", mock.Anything, "ann", page).Return(nil, false, errors.New("redis down")).Once()
	cache.On("Generation", mock.Anything, "ann").Return(int64(4), nil).Once()
	cache.On("Set", mock.Anything, "ann", int64(4), page, mock.Anything).Return(errors.New("redis down")).Once()

	lines, err := svc.ListForUser(context.Background(), actor, page)
	require.NoError(t, err)
	require.Empty(t, lines)
	cache.AssertExpectations(t)
}

func TestListForUser_SkipsFillWithoutGeneration(t *testing.T) {
	store := memory.NewStore()
	cache := &cacheMock{}
	svc := NewService(store, WithCache(cache))
	actor := domain.Actor{UserID: "ann"}
	page := domain.Page{}

	cache.On("Get", mock.Anything, "ann", page).Return(nil, false, nil).Once()
	cache.On("Generation", mock.Anything, "ann").Return(int64(0), errors.New("redis down")).Once()

	lines, err := svc.ListForUser(context.Background(), actor, page)
	require.NoError(t, err)
	require.Empty(t, lines)
	cache.AssertExpectations(t)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWrites_InvalidateCacheOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Do(ctx, func(tx domain.Tx) error {
		if err := tx.Users().Save(ctx, domain.User{ID: "ann", IsActive: true}); err != nil {
			return err
		}
		return tx.Products().Save(ctx, domain.Product{ID: "mug", Price: 5, Quantity: 1, IsActive: true})
	}))

	cache := &cacheMock{}
	svc := NewService(store, WithCache(cache))
	actor := domain.Actor{UserID: "ann"}

	cache.On("Invalidate", mock.Anything, "ann").Return(nil).Once()

	_, err := svc.Add(ctx, actor, AddRequest{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.Add(ctx, actor, AddRequest{ProductID: "mug", Quantity: 1})
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	cache.AssertExpectations(t)
	cache.AssertNumberOfCalls(t, "Invalidate", 1)
}
