package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPFetcher downloads resolved media over plain HTTP into memory.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates a fetcher. maxBytes caps the in-memory payload size;
// zero applies a 256 MiB default.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	if maxBytes == 0 {
		maxBytes = 256 * 1024 * 1024
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch materializes the descriptor's bytes, forwarding any extractor-supplied
// headers (sites often require the same headers that resolved the URL).
func (f *HTTPFetcher) Fetch(ctx context.Context, desc *Descriptor) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return nil, PermanentError(fmt.Errorf("build request: %w", err))
	}
	for k, v := range desc.HTTPHeaders {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, TransientError(fmt.Errorf("fetch media: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("fetch media: status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, PermanentError(err)
		}
		return nil, TransientError(err)
	}

	limited := io.LimitReader(resp.Body, f.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, TransientError(fmt.Errorf("read media: %w", err))
	}
	if int64(len(body)) > f.maxBytes {
		return nil, PermanentError(fmt.Errorf("media too large (>%d bytes)", f.maxBytes))
	}
	if len(body) == 0 {
		return nil, TransientError(fmt.Errorf("fetch media: empty body"))
	}
	return body, nil
}
