package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/storekit/storesync/pkg/api"
)

// ClientAPI is the server surface the sync engine depends on.
type ClientAPI interface {
	CreateRecord(ctx context.Context, entity string, payload json.RawMessage, idemKey string) (*api.Record, error)
	UpdateRecord(ctx context.Context, entity, serverID string, req api.UpdateRequest, resolution string) (*api.Record, error)
	DeleteRecord(ctx context.Context, entity, serverID string) error
	GetRecord(ctx context.Context, entity, serverID string) (*api.Record, error)
	ListRecords(ctx context.Context, entity string, query url.Values) (*api.ListResponse, error)
	PatchStock(ctx context.Context, productID string, req api.StockPatchRequest, idemKey string) (*api.StockResponse, error)
	VoidSale(ctx context.Context, serverID string) (*api.Record, error)
	Transfer(ctx context.Context, req api.TransferRequest) (*api.TransferResponse, error)
	Bulk(ctx context.Context, entity string, req api.BulkRequest) (*api.BulkResponse, error)
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient создает новый API клиент. token - tenant-scoped access token,
// который привязывает все запросы к магазину.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func resourcePath(entity string) (string, error) {
	resource, ok := api.ResourceForEntity(entity)
	if !ok {
		return "", fmt.Errorf("unknown entity %q", entity)
	}
	return "/api/v1/" + resource, nil
}

// CreateRecord promotes a record: POST /{resource} with the payload as the
// body. idemKey lets the server suppress the duplicate row a retried
// create would otherwise produce.
func (c *Client) CreateRecord(ctx context.Context, entity string, payload json.RawMessage, idemKey string) (*api.Record, error) {
	path, err := resourcePath(entity)
	if err != nil {
		return nil, err
	}

	var resp api.Record
	headers := map[string]string{}
	if idemKey != "" {
		headers[api.IdempotencyKeyHeader] = idemKey
	}
	if err := c.doRequest(ctx, http.MethodPost, path, headers, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateRecord sends PUT /{resource}/{serverId} carrying the base
// sync_version. A non-empty resolution selects a conflict strategy on a
// retry after a 409.
func (c *Client) UpdateRecord(ctx context.Context, entity, serverID string, req api.UpdateRequest, resolution string) (*api.Record, error) {
	path, err := resourcePath(entity)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	if resolution != "" {
		headers[api.ConflictResolutionHeader] = resolution
	}

	var resp api.Record
	if err := c.doRequest(ctx, http.MethodPut, path+"/"+serverID, headers, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteRecord sends DELETE /{resource}/{serverId}. Whether the delete is
// hard or soft is the server's per-entity policy.
func (c *Client) DeleteRecord(ctx context.Context, entity, serverID string) error {
	path, err := resourcePath(entity)
	if err != nil {
		return err
	}
	return c.doRequest(ctx, http.MethodDelete, path+"/"+serverID, nil, nil, nil)
}

// GetRecord fetches one record by server id.
func (c *Client) GetRecord(ctx context.Context, entity, serverID string) (*api.Record, error) {
	path, err := resourcePath(entity)
	if err != nil {
		return nil, err
	}

	var resp api.Record
	if err := c.doRequest(ctx, http.MethodGet, path+"/"+serverID, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRecords fetches a filtered record list.
func (c *Client) ListRecords(ctx context.Context, entity string, query url.Values) (*api.ListResponse, error) {
	path, err := resourcePath(entity)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp api.ListResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PatchStock submits a signed stock delta: PATCH /products/{id}/stock.
func (c *Client) PatchStock(ctx context.Context, productID string, req api.StockPatchRequest, idemKey string) (*api.StockResponse, error) {
	headers := map[string]string{}
	if idemKey != "" {
		headers[api.IdempotencyKeyHeader] = idemKey
	}

	var resp api.StockResponse
	path := "/api/v1/products/" + productID + "/stock"
	if err := c.doRequest(ctx, http.MethodPatch, path, headers, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VoidSale voids a completed sale and restores its stock.
func (c *Client) VoidSale(ctx context.Context, serverID string) (*api.Record, error) {
	var resp api.Record
	path := "/api/v1/sales/" + serverID + "/void"
	if err := c.doRequest(ctx, http.MethodPost, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Transfer moves stock between two stores in one paired operation.
func (c *Client) Transfer(ctx context.Context, req api.TransferRequest) (*api.TransferResponse, error) {
	var resp api.TransferResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/transfer", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Bulk sends a create/update vector; per-item outcomes come back in order.
func (c *Client) Bulk(ctx context.Context, entity string, req api.BulkRequest) (*api.BulkResponse, error) {
	path, err := resourcePath(entity)
	if err != nil {
		return nil, err
	}

	var resp api.BulkResponse
	if err := c.doRequest(ctx, http.MethodPost, path+"/bulk", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос и классифицирует ошибки по таксономии
func (c *Client) doRequest(ctx context.Context, method, path string, headers map[string]string, body, result any) error {
	fullURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Сетевая ошибка или таймаут - транспортный уровень
		return &Error{Kind: KindTransport, Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransport, Message: fmt.Sprintf("failed to read response body: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyResponse(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &Error{Kind: KindTransport, Message: fmt.Sprintf("failed to decode response: %v", err), StatusCode: resp.StatusCode}
		}
	}

	return nil
}

// classifyResponse строит типизированную ошибку из тела ответа
func classifyResponse(statusCode int, body []byte) *Error {
	kind := kindFromStatus(statusCode)

	apiErr := &Error{
		Kind:       kind,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("request failed with status %d", statusCode),
	}

	if kind == KindConflict {
		var conflict api.ConflictResponse
		if err := json.Unmarshal(body, &conflict); err == nil && conflict.Conflict {
			apiErr.Conflict = &conflict
			apiErr.Message = conflict.Message
		}
		return apiErr
	}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		apiErr.Message = errResp.Error
		apiErr.Fields = errResp.Errors
		if errResp.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(errResp.RetryAfter) * time.Second
		}
	}

	return apiErr
}
