package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiwari-pos/canceldesk/internal/config"
	"go.uber.org/zap"
)

const maxResponseBytes = 8 << 20

// ErrEnvelope is returned when a 2xx response does not carry
// {"success": true, "data": ...}.
var ErrEnvelope = errors.New("backend response envelope rejected")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend status %d", e.Status)
	}
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Message)
}

// Client talks to the POS REST backend. It does not retry; every retry is
// user-initiated or the desk's scheduled refetch.
type Client struct {
	baseURL    string
	token      string
	pageSize   int
	maxPages   int
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(cfg config.BackendConfig, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		pageSize: pageSize,
		maxPages: maxPages,
		log:      log.Named("backend"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// ListCancellations fetches one page of GET /cancelled-orders.
func (c *Client) ListCancellations(ctx context.Context, page, limit int) (*CancellationPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	env, err := c.do(ctx, http.MethodGet, "/cancelled-orders", q, nil)
	if err != nil {
		return nil, fmt.Errorf("list cancellations page %d: %w", page, err)
	}

	raws, err := listElements(env.Data)
	if err != nil {
		return nil, fmt.Errorf("list cancellations page %d: %w", page, err)
	}
	rows, dropped := decodeEach[RawCancellation](raws)
	if dropped > 0 {
		c.log.Warn("dropped undecodable cancellation rows", zap.Int("page", page), zap.Int("dropped", dropped))
	}

	return &CancellationPage{Rows: rows, Received: len(raws), Pagination: env.Pagination}, nil
}

// ListAllCancellations walks pages until a short or empty page, the
// advertised total_pages, or the configured page cap.
func (c *Client) ListAllCancellations(ctx context.Context) ([]RawCancellation, error) {
	var all []RawCancellation
	for page := 1; page <= c.maxPages; page++ {
		p, err := c.ListCancellations(ctx, page, c.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Rows...)

		if p.Received == 0 {
			break
		}
		if p.Pagination != nil && p.Pagination.TotalPages > 0 {
			if page >= int(p.Pagination.TotalPages) {
				break
			}
			continue
		}
		if p.Received < c.pageSize {
			break
		}
		if page == c.maxPages {
			c.log.Warn("cancellation listing hit page cap", zap.Int("max_pages", c.maxPages))
		}
	}
	return all, nil
}

// GetOrder fetches GET /orders/{id}.
func (c *Client) GetOrder(ctx context.Context, id string) (*RawOrder, error) {
	env, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	var order RawOrder
	if err := json.Unmarshal(env.Data, &order); err != nil {
		return nil, fmt.Errorf("get order %s: decode data: %w", id, err)
	}
	return &order, nil
}

// ListOrderItems fetches GET /order-items/order/{id}.
func (c *Client) ListOrderItems(ctx context.Context, orderID string) ([]RawOrderItem, error) {
	env, err := c.do(ctx, http.MethodGet, "/order-items/order/"+url.PathEscape(orderID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list order items %s: %w", orderID, err)
	}
	raws, err := listElements(env.Data)
	if err != nil {
		return nil, fmt.Errorf("list order items %s: %w", orderID, err)
	}
	items, dropped := decodeEach[RawOrderItem](raws)
	if dropped > 0 {
		c.log.Warn("dropped undecodable order items", zap.String("order_id", orderID), zap.Int("dropped", dropped))
	}
	return items, nil
}

// ListOrders fetches one page of GET /orders, used by the cashier board.
func (c *Client) ListOrders(ctx context.Context, page, limit int) ([]RawOrder, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	env, err := c.do(ctx, http.MethodGet, "/orders", q, nil)
	if err != nil {
		return nil, fmt.Errorf("list orders page %d: %w", page, err)
	}
	raws, err := listElements(env.Data)
	if err != nil {
		return nil, fmt.Errorf("list orders page %d: %w", page, err)
	}
	orders, _ := decodeEach[RawOrder](raws)
	return orders, nil
}

// PageSize is the page size ListAllCancellations requests.
func (c *Client) PageSize() int { return c.pageSize }

// ApproveCancellation calls POST /cancelled-orders/{id}/approve.
func (c *Client) ApproveCancellation(ctx context.Context, id, approverID string) error {
	path := "/cancelled-orders/" + url.PathEscape(id) + "/approve"
	if _, err := c.do(ctx, http.MethodPost, path, nil, approveRequest{ApprovedBy: approverID}); err != nil {
		return fmt.Errorf("approve cancellation %s: %w", id, err)
	}
	return nil
}

// RejectCancellation calls POST /cancelled-orders/{id}/reject.
func (c *Client) RejectCancellation(ctx context.Context, id, rejecterID, reason string) error {
	path := "/cancelled-orders/" + url.PathEscape(id) + "/reject"
	body := rejectRequest{RejectedBy: rejecterID, RejectionReason: reason}
	if _, err := c.do(ctx, http.MethodPost, path, nil, body); err != nil {
		return fmt.Errorf("reject cancellation %s: %w", id, err)
	}
	return nil
}

// do sends one request and unwraps the {success, data} envelope.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (*envelope, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call backend: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
			if len(msg) > 200 {
				msg = msg[:200]
			}
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if env.Success == nil || !*env.Success {
		if env.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrEnvelope, env.Message)
		}
		return nil, fmt.Errorf("%w: success flag missing or false", ErrEnvelope)
	}
	if len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), jsonNull) {
		return nil, fmt.Errorf("%w: data missing", ErrEnvelope)
	}
	return &env, nil
}

// listElements accepts either a bare array or an object wrapping the array
// under "items" or "rows".
func listElements(data json.RawMessage) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var out []json.RawMessage
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode data list: %w", err)
		}
		return out, nil
	}

	var wrapped struct {
		Items []json.RawMessage `json:"items"`
		Rows  []json.RawMessage `json:"rows"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode data list: %w", err)
	}
	if wrapped.Items != nil {
		return wrapped.Items, nil
	}
	if wrapped.Rows != nil {
		return wrapped.Rows, nil
	}
	return nil, fmt.Errorf("%w: data is not a list", ErrEnvelope)
}

func decodeEach[T any](raws []json.RawMessage) ([]T, int) {
	out := make([]T, 0, len(raws))
	dropped := 0
	for _, r := range raws {
		if bytes.Equal(bytes.TrimSpace(r), jsonNull) {
			dropped++
			continue
		}
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			dropped++
			continue
		}
		out = append(out, v)
	}
	return out, dropped
}
