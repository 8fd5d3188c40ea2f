package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/transport/httpapi"
)

// shopAPI — вызовы HTTP API, которые делает сценарий. Возвращают HTTP-статус,
// 0 при ошибке транспорта.
type shopAPI interface {
	UpsertProduct(ctx context.Context, adminID string, product productPayload, productID string) (int, error)
	UpsertUser(ctx context.Context, adminID string, user userPayload, userID string) (int, error)
	AddToCart(ctx context.Context, userID, productID string, quantity int) (int, error)
	CreateOrder(ctx context.Context, userID, idempotencyKey string) (string, int, error)
	CancelOrder(ctx context.Context, userID, orderID string) (int, error)
}

type productPayload struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type userPayload struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Address  string `json:"address"`
	Role     string `json:"role"`
}

// apiError — ответ API с кодом ошибки магазина.
type apiError struct {
	Status int
	Code   int
	Msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("http %d: code %d: %s", e.Status, e.Code, e.Msg)
}

func isSoldOut(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Code == httpapi.CodeCapacityExceeded
}

type shopClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

func newShopClient(base string, timeout time.Duration) *shopClient {
	return &shopClient{
		base:    base,
		http:    &http.Client{},
		timeout: timeout,
	}
}

func (c *shopClient) UpsertProduct(ctx context.Context, adminID string, product productPayload, productID string) (int, error) {
	return c.do(ctx, http.MethodPut, "/api/v1/admin/products/"+url.PathEscape(productID), adminID, "", product, nil)
}

func (c *shopClient) UpsertUser(ctx context.Context, adminID string, user userPayload, userID string) (int, error) {
	return c.do(ctx, http.MethodPut, "/api/v1/admin/users/"+url.PathEscape(userID), adminID, "", user, nil)
}

func (c *shopClient) AddToCart(ctx context.Context, userID, productID string, quantity int) (int, error) {
	body := map[string]any{"product_id": productID, "quantity": quantity}
	return c.do(ctx, http.MethodPost, "/api/v1/cart", userID, "", body, nil)
}

func (c *shopClient) CreateOrder(ctx context.Context, userID, idempotencyKey string) (string, int, error) {
	var created struct {
		ID string `json:"id"`
	}
	status, err := c.do(ctx, http.MethodPost, "/api/v1/orders", userID, idempotencyKey, struct{}{}, &created)
	return created.ID, status, err
}

func (c *shopClient) CancelOrder(ctx context.Context, userID, orderID string) (int, error) {
	body := map[string]string{"status": "CANCELLED"}
	return c.do(ctx, http.MethodPatch, "/api/v1/orders/"+url.PathEscape(orderID)+"/status", userID, "", body, nil)
}

func (c *shopClient) do(ctx context.Context, method, path, userID, idempotencyKey string, in, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpapi.HeaderUserID, userID)
	if idempotencyKey != "" {
		req.Header.Set(httpapi.HeaderIdempotencyKey, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errResp httpapi.ErrorResponse
		_ = json.Unmarshal(data, &errResp)
		return resp.StatusCode, &apiError{Status: resp.StatusCode, Code: errResp.Code, Msg: errResp.Message}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
