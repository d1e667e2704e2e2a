package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"flipbook/pkg/domain"
	"flipbook/pkg/queue"
)

// apiClient talks to the flipbook admin API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type statusView struct {
	ID           string                `json:"id"`
	Status       domain.DocumentStatus `json:"status"`
	Progress     int                   `json:"progress"`
	TotalPages   int                   `json:"total_pages"`
	ErrorMessage *string               `json:"error_message"`
}

type listResult struct {
	Documents []domain.Document `json:"documents"`
	Total     int64             `json:"total"`
}

type apiError struct {
	Status  int
	Message string `json:"error"`
	Code    string `json:"code"`
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

func (c *apiClient) list(ctx context.Context, status string, limit int) (listResult, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/flipbooks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out listResult
	err := c.do(ctx, http.MethodGet, path, &out)
	return out, err
}

func (c *apiClient) status(ctx context.Context, id string) (statusView, error) {
	var out statusView
	err := c.do(ctx, http.MethodGet, "/api/flipbooks/"+url.PathEscape(id)+"/status", &out)
	return out, err
}

func (c *apiClient) reprocess(ctx context.Context, id string) (queue.JobStatus, error) {
	var out queue.JobStatus
	err := c.do(ctx, http.MethodPost, "/api/flipbooks/"+url.PathEscape(id)+"/process", &out)
	return out, err
}

func (c *apiClient) extractText(ctx context.Context, id string) (queue.JobStatus, error) {
	var out queue.JobStatus
	err := c.do(ctx, http.MethodPost, "/api/flipbooks/"+url.PathEscape(id)+"/extract-text", &out)
	return out, err
}

func (c *apiClient) delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/flipbooks/"+url.PathEscape(id), nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
