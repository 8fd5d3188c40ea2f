package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/shop/internal/service/cart"
)

type cartHandler struct {
	carts *cart.Service
}

func (h *cartHandler) add(w http.ResponseWriter, r *http.Request) {
	var req addCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, decodeError(err))
		return
	}

	line, err := h.carts.Add(r.Context(), actorFrom(r.Context()), cart.AddRequest{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Color:     req.Color,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCartLineDTO(line))
}

func (h *cartHandler) list(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	lines, err := h.carts.ListForUser(r.Context(), actorFrom(r.Context()), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartLineDTOs(lines))
}

func (h *cartHandler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.ClearForUser(r.Context(), actorFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *cartHandler) get(w http.ResponseWriter, r *http.Request) {
	line, err := h.carts.Get(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartLineDTO(line))
}

func (h *cartHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, decodeError(err))
		return
	}

	line, err := h.carts.Update(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), cart.UpdateRequest{
		Quantity: req.Quantity,
		Color:    req.Color,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartLineDTO(line))
}

func (h *cartHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Delete(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
