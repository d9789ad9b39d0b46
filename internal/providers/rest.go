package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const userAgent = "fdp/1.0"

// restClient is the HTTP helper shared by the REST adapters: bounded body
// reads, JSON decoding, and typed transient-vs-payload errors so the
// failover selector can tell them apart from data-quality problems.
type restClient struct {
	provider string
	client   *http.Client
}

const defaultFetchTimeout = 30 * time.Second

func newRESTClient(provider string, timeout time.Duration) *restClient {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &restClient{
		provider: provider,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// getJSON fetches url and decodes the JSON body into out. The caller's
// context carries the per-call deadline.
func (c *restClient) getJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.provider, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request: %w", c.provider, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("provider", c.provider).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("provider request")

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &HTTPError{Provider: c.provider, Status: resp.StatusCode}
	}

	body := io.LimitReader(resp.Body, 8<<20)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return &PayloadError{Provider: c.provider, Reason: err.Error()}
	}
	return nil
}
