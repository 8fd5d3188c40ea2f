package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/identity"
)

// adminHandler загружает пользователей и товары внешних систем.
type adminHandler struct {
	identity *identity.Service
	catalog  *catalog.Service
}

func (h *adminHandler) upsertUser(w http.ResponseWriter, r *http.Request) {
	var req upsertUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, decodeError(err))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	user, err := h.identity.UpsertUser(r.Context(), actorFrom(r.Context()), domain.User{
		ID:          chi.URLParam(r, "id"),
		Email:       req.Email,
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
		Address:     req.Address,
		Role:        domain.Role(req.Role),
		IsActive:    active,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserDTO(user))
}

func (h *adminHandler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req upsertProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, decodeError(err))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	product, err := h.catalog.UpsertProduct(r.Context(), actorFrom(r.Context()), domain.Product{
		ID:       chi.URLParam(r, "id"),
		Name:     req.Name,
		Price:    req.Price,
		Quantity: req.Quantity,
		IsActive: active,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductDTO(product))
}
