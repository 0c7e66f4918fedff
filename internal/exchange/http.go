package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const restTimeout = 30 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: restTimeout}
}

// getJSON performs a GET and decodes the body into v, mapping HTTP
// failures onto the adapter error taxonomy. The returned header is the
// response header (pagination cursors live there for some exchanges).
func getJSON(ctx context.Context, client *http.Client, op, url string, v interface{}) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newError(KindInvalidRequest, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, newError(KindTransient, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e := &ClientError{Kind: KindRateLimited, Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, e
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, newError(KindAuthRequired, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, newError(KindTransient, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, newError(KindInvalidRequest, op, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindTransient, op, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, newError(KindSchemaMismatch, op, err)
	}
	return resp.Header, nil
}
