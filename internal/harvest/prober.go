package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrManifestUnreachable is returned by a prober when the playback manifest
// cannot be fetched.
var ErrManifestUnreachable = errors.New("packaging manifest unreachable")

// ManifestProber checks that a packaging playback URL serves a manifest.
type ManifestProber interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber issues a GET against the playback URL.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober whose requests give up after timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("no playback url: %w", ErrManifestUnreachable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrManifestUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrManifestUnreachable, resp.StatusCode)
	}
	return nil
}
