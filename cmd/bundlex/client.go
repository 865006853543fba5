package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"bundlex/internal/api"
	"bundlex/internal/bundle"
)

// apiClient talks to a running bundlexd over its HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// apiError carries the daemon's error message together with the HTTP status
// and any retry hint it supplied.
type apiError struct {
	StatusCode int
	Message    string
	RetryAfter int
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned status %d", e.StatusCode)
}

type uploadRequest struct {
	BundlePath     string
	CompanionPaths []string
	AllowStorage   bool
	SendLog        bool
}

func (c *apiClient) Upload(ctx context.Context, req uploadRequest) (*api.UploadResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	attach := func(path string) error {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer file.Close()
		part, err := writer.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			return err
		}
		_, err = io.Copy(part, file)
		return err
	}
	if err := attach(req.BundlePath); err != nil {
		return nil, err
	}
	for _, path := range req.CompanionPaths {
		if err := attach(path); err != nil {
			return nil, err
		}
	}
	if err := writer.WriteField("allow_storage", strconv.FormatBool(req.AllowStorage)); err != nil {
		return nil, err
	}
	if err := writer.WriteField("send_log", strconv.FormatBool(req.SendLog)); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var resp api.UploadResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Status(ctx context.Context, sessionID string) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.get(ctx, "/api/status/"+url.PathEscape(sessionID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Extract(ctx context.Context, sessionID string, selection bundle.Selection) (*api.ExtractResponse, error) {
	payload := struct {
		SessionID string `json:"session_id"`
		bundle.Selection
	}{SessionID: sessionID, Selection: selection}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/extract", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp api.ExtractResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Cancel(ctx context.Context, sessionID string) (*api.CancelResponse, error) {
	payload, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/queue/cancel", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp api.CancelResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Queue(ctx context.Context, statuses []string) (*api.QueueResponse, error) {
	path := "/api/queue"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var resp api.QueueResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.get(ctx, "/api/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Download streams the session archive into destPath and returns the number
// of bytes written.
func (c *apiClient) Download(ctx context.Context, sessionID, destPath string) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/download/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, wrapTransportError(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeAPIError(resp)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", destPath, err)
	}
	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(destPath)
		return 0, fmt.Errorf("write archive: %w", err)
	}
	return written, nil
}

func (c *apiClient) get(ctx context.Context, path string, into any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, into)
}

func (c *apiClient) do(req *http.Request, into any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return wrapTransportError(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode daemon response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &apiError{StatusCode: resp.StatusCode}
	if retry := resp.Header.Get("Retry-After"); retry != "" {
		if seconds, err := strconv.Atoi(retry); err == nil {
			apiErr.RetryAfter = seconds
		}
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}

func wrapTransportError(err error, baseURL string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start the daemon with `bundlexd`", baseURL)
	}
	return fmt.Errorf("connect to daemon at %s: %w", baseURL, err)
}
