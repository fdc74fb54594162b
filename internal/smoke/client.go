package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/okian/mjolnir/internal/domain/throw"
)

// httpClient wraps http.Client with the service base URL.
type httpClient struct {
	client  *http.Client
	baseURL string
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(baseURL string, timeout time.Duration) *httpClient {
	return &httpClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// get performs a GET request and returns the status and body.
func (c *httpClient) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

// getJSON performs a GET request and decodes a 200 body into v.
func (c *httpClient) getJSON(ctx context.Context, path string, v any) (int, error) {
	status, body, err := c.get(ctx, path)
	if err != nil || status != http.StatusOK {
		return status, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return status, fmt.Errorf("decode %s: %w", path, err)
	}
	return status, nil
}

// submit posts sub as a multipart form and returns the status, the
// acknowledgement and the request size.
func (c *httpClient) submit(ctx context.Context, sub throw.Submission) (int, ackResponse, int64, error) {
	body, contentType, err := encodeSubmission(sub)
	if err != nil {
		return 0, ackResponse{}, 0, err
	}
	size := int64(body.Len())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/throws", body)
	if err != nil {
		return 0, ackResponse{}, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	status, data, err := c.do(req)
	if err != nil {
		return 0, ackResponse{}, size, err
	}
	var ack ackResponse
	if status == http.StatusOK || status == http.StatusAccepted {
		if err := json.Unmarshal(data, &ack); err != nil {
			return status, ackResponse{}, size, fmt.Errorf("decode ack: %w", err)
		}
	}
	return status, ack, size, nil
}

func (c *httpClient) do(req *http.Request) (int, []byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, data, nil
}

// encodeSubmission builds the multipart body POST /api/throws expects.
func encodeSubmission(sub throw.Submission) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	raw, err := json.Marshal(sub.Result)
	if err != nil {
		return nil, "", fmt.Errorf("encode result: %w", err)
	}
	if err := mw.WriteField("result", string(raw)); err != nil {
		return nil, "", err
	}
	for name, data := range sub.Frames {
		fw, err := mw.CreateFormFile(name, name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
