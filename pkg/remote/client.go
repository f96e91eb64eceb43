// Package remote implements the Remote Client described in SPEC_FULL.md
// §4.1: fetching VersionInfo and chunk payloads from the upstream DRL
// service over plain HTTP/JSON (SPEC_FULL.md §6), with no retry logic of
// its own. The Sync Engine does not retry its errors either; they propagate
// to the caller.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/italia/drl-sync/pkg/drl"
)

// Client fetches VersionInfo and chunk payloads from the upstream DRL service.
type Client interface {
	// GetStatus returns the server's current published version descriptor.
	// knownVersion is an optional hint of the client's current version (0 if none).
	GetStatus(ctx context.Context, knownVersion int64) (drl.VersionInfo, error)

	// GetChunk requests a specific 1-based chunk of the transition from fromVersion.
	GetChunk(ctx context.Context, fromVersion int64, chunkIndex int) (drl.ChunkData, error)
}

// HTTPClient is the production Client, talking to a configured origin over
// net/http — the ambient choice here, mirrored on how the teacher's own
// control plane speaks JSON over a plain net.Conn (pkg/control/api.go)
// rather than its peer-to-peer QUIC/Noise transport, which has no bearing
// on a single configured REST origin.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
}

// NewHTTPClient builds an HTTPClient against baseURL (e.g. "https://drl.example.org").
// A nil httpClient falls back to http.DefaultClient's timeout-free behavior
// replaced with a sane 30s default, since the upstream has no SLA guarantee.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{baseURL: baseURL, hc: httpClient}
}

// GetStatus implements Client.
func (c *HTTPClient) GetStatus(ctx context.Context, knownVersion int64) (drl.VersionInfo, error) {
	q := url.Values{}
	if knownVersion > 0 {
		q.Set("version", strconv.FormatInt(knownVersion, 10))
	}
	var info drl.VersionInfo
	if err := c.getJSON(ctx, "/status", q, &info); err != nil {
		return drl.VersionInfo{}, err
	}
	return info, nil
}

// GetChunk implements Client.
func (c *HTTPClient) GetChunk(ctx context.Context, fromVersion int64, chunkIndex int) (drl.ChunkData, error) {
	q := url.Values{}
	q.Set("version", strconv.FormatInt(fromVersion, 10))
	q.Set("chunk", strconv.Itoa(chunkIndex))

	var chunk drl.ChunkData
	if err := c.getJSON(ctx, "/chunk", q, &chunk); err != nil {
		return drl.ChunkData{}, err
	}
	return chunk, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return drl.NewNetworkError("failed to build request", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return drl.NewCancelledError(ctx.Err())
		}
		return drl.NewNetworkError(fmt.Sprintf("request to %s failed", path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return drl.NewUpstreamError(fmt.Sprintf("%s returned status %d", path, resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return drl.NewDecodeError(fmt.Sprintf("failed to decode %s response", path), err)
	}
	return nil
}
