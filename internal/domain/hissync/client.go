package hissync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/breaker"
)

// maxResponseBytes bounds one discharge response.
const maxResponseBytes = 32 << 20

// Client calls the HIS discharge endpoint through a circuit breaker.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *breaker.Breaker
}

func NewClient(baseURL string, timeout time.Duration, b *breaker.Breaker) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: b,
	}
}

// pathPart escapes one path segment; blank parts become "_".
func pathPart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return url.PathEscape(s)
}

// DischargeURL builds /PatientsDischarge/{hn}/{an}/{since}/{end}.
func (c *Client) DischargeURL(q Query) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s", c.baseURL, EndpointDischarge,
		pathPart(q.HN), pathPart(q.AN), pathPart(q.DCSince), pathPart(q.DCEnd))
}

// FetchDischarges returns the raw response body of one discharge query.
func (c *Client) FetchDischarges(ctx context.Context, q Query) ([]byte, error) {
	if c.baseURL == "" {
		return nil, apperr.Validation("HIS_BASE_URL is not set")
	}
	var body []byte
	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DischargeURL(q), nil)
		if err != nil {
			return fmt.Errorf("build HIS request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("call HIS: %w", err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read HIS response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet := string(b)
			if len(snippet) > 512 {
				snippet = snippet[:512]
			}
			return fmt.Errorf("HIS error %d: %s", resp.StatusCode, snippet)
		}
		body = b
		return nil
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}
