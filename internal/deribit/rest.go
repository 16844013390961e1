package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// APIError represents an error response from the venue's REST channel.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deribit api error %d (%d): %s", e.StatusCode, e.Code, e.Message)
}

// restClient performs the REST-style calls: credential exchange and
// bearer-token order operations. Retry policy lives in the session
// manager, so each call here is a single shot.
type restClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	viaProxy   bool
}

func newRESTClient(baseURL, proxyURL string, timeout time.Duration, logger *slog.Logger) (*restClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &restClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger:   logger,
		viaProxy: proxyURL != "",
	}, nil
}

// errorBody is the venue's error envelope.
type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// resultBody wraps successful payloads.
type resultBody struct {
	Result json.RawMessage `json:"result"`
}

// get performs a GET request and decodes the result envelope into out.
// A non-empty token is sent as a bearer header. Transport failures are
// classified into NetworkError kinds; HTTP errors become APIError.
func (c *restClient) get(ctx context.Context, path string, query url.Values, token string, out any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyNetError(path, err, c.viaProxy)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyNetError(path, err, false)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
			apiErr.Code = eb.Error.Code
			apiErr.Message = eb.Error.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}

	var rb resultBody
	if err := json.Unmarshal(body, &rb); err == nil && len(rb.Result) > 0 {
		body = rb.Result
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
