package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vinc-payment-service/internal/models"
)

// DefaultHTTPTimeout bounds every outbound provider call. A timed-out
// intent creation marks the transaction failed instead of leaving it
// pending forever.
const DefaultHTTPTimeout = 30 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// doJSON issues a JSON request and decodes the JSON response. Non-2xx
// responses come back as a retryable-classified GatewayError.
func doJSON(ctx context.Context, client *http.Client, provider models.Provider, method, url string, headers map[string]string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return NewGatewayError(provider, CodeProviderAPIError, err.Error(), true)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewGatewayError(provider, CodeProviderAPIError, err.Error(), true)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewGatewayError(provider, CodeProviderAPIError,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(respBody, 512)),
			resp.StatusCode >= 500 || resp.StatusCode == 429)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return NewGatewayError(provider, CodeMalformedPayload,
				fmt.Sprintf("decode response: %v", err), false)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
