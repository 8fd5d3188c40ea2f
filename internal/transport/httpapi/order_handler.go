package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/shop/internal/service/order"
)

type orderHandler struct {
	orders *order.Service
}

func (h *orderHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	// пустое тело допустимо: контакты берутся из профиля
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, decodeError(err))
		return
	}

	created, err := h.orders.CreateOrder(r.Context(), actorFrom(r.Context()), req.toShippingInfo())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderDTO(created))
}

func (h *orderHandler) listMine(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	orders, err := h.orders.ListMyOrders(r.Context(), actorFrom(r.Context()), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTOs(orders))
}

func (h *orderHandler) listAll(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	orders, err := h.orders.ListOrders(r.Context(), actorFrom(r.Context()), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTOs(orders))
}

func (h *orderHandler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(o))
}

func (h *orderHandler) details(w http.ResponseWriter, r *http.Request) {
	details, err := h.orders.ListDetails(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDetailDTOs(details))
}

func (h *orderHandler) timeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.orders.Timeline(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTimelineDTOs(events))
}

func (h *orderHandler) updateLogistics(w http.ResponseWriter, r *http.Request) {
	var req logisticsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, decodeError(err))
		return
	}
	upd, err := req.toUpdate()
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.UpdateLogisticsFields(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(o))
}

func (h *orderHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, decodeError(err))
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(o))
}

func (h *orderHandler) toggleActive(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.ToggleActive(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(o))
}
