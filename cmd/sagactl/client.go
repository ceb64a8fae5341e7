package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fortressi/sagaorch"
	"github.com/fortressi/sagaorch/httpapi"
	"github.com/fortressi/sagaorch/internal/response"
	"github.com/fortressi/sagaorch/orderflow"
)

// apiClient talks to the orchestrator HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, client *http.Client) *apiClient {
	if client == nil {
		client = &http.Client{}
	}
	return &apiClient{base: strings.TrimRight(base, "/"), http: client}
}

func (c *apiClient) StartOrder(ctx context.Context, req *orderflow.OrderRequest) (*sagaorch.Instance, error) {
	var inst sagaorch.Instance
	if err := c.do(ctx, http.MethodPost, "/v1/sagas/"+orderflow.SagaType, req, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (c *apiClient) Status(ctx context.Context, txID string) (*sagaorch.Instance, error) {
	var inst sagaorch.Instance
	if err := c.do(ctx, http.MethodGet, "/v1/sagas/"+url.PathEscape(txID), nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (c *apiClient) List(ctx context.Context, after string, limit int) (*httpapi.ListResponse, error) {
	q := url.Values{}
	if after != "" {
		q.Set("after", after)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/sagas"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page httpapi.ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *apiClient) Compensate(ctx context.Context, txID string) (*sagaorch.Instance, error) {
	var inst sagaorch.Instance
	if err := c.do(ctx, http.MethodPost, "/v1/compensations/"+url.PathEscape(txID), nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var env response.ErrorEnvelope
		if json.Unmarshal(data, &env) == nil && env.Error.Message != "" {
			return fmt.Errorf("%s %s: %d %s: %s", method, path, resp.StatusCode, env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
