package domain_test

import (
	"testing"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func TestCanAccess(t *testing.T) {
	order := domain.Order{ID: "o-1", UserID: "u-1"}

	tests := []struct {
		name  string
		actor domain.Actor
		want  bool
	}{
		{name: "owner", actor: domain.Actor{UserID: "u-1", Role: domain.RoleUser}, want: true},
		{name: "admin", actor: domain.Actor{UserID: "admin", Role: domain.RoleAdmin}, want: true},
		{name: "stranger", actor: domain.Actor{UserID: "u-2", Role: domain.RoleUser}, want: false},
		{name: "anonymous", actor: domain.Actor{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domain.CanAccess(tt.actor, order); got != tt.want {
				t.Fatalf("CanAccess() = %v, want %v", got, tt.want)
			}
		})
	}

	if domain.CanAccess(domain.Actor{}, domain.Order{}) {
		t.Fatal("empty actor must not access order without owner")
	}
}

func TestCartLineArithmetic(t *testing.T) {
	line := domain.CartLine{Quantity: 2}
	line.Reprice(150)
	if line.TotalMoney != 300 {
		t.Fatalf("expected 300, got %d", line.TotalMoney)
	}
	line.SetQuantity(5)
	if line.TotalMoney != 750 {
		t.Fatalf("expected 750, got %d", line.TotalMoney)
	}
}

func TestPageSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	if got := domain.Slice(items, domain.Page{Page: 1, Size: 2}); len(got) != 2 || got[0] != 3 {
		t.Fatalf("unexpected page: %v", got)
	}
	if got := domain.Slice(items, domain.Page{Page: 5, Size: 2}); len(got) != 0 {
		t.Fatalf("expected empty page, got %v", got)
	}
	if got := domain.Slice(items, domain.Page{}); len(got) != 5 {
		t.Fatalf("zero size must return everything, got %v", got)
	}

	p := domain.Page{Page: -1, Size: 1000}.Normalize()
	if p.Page != 0 || p.Size != domain.MaxPageSize {
		t.Fatalf("unexpected normalized page: %+v", p)
	}
}
