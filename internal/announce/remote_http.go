package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/onem2m-cse/cse/internal/resource"
)

// EndpointResolver maps a cse-id to the base URL of its registered <CSR>
// point of access, per spec.md §9's decision to reuse the HTTP transport
// adapter for cross-CSE traffic. cmd/cseserver implements it over the
// configured cse-id to URL map (cseconfig.AnnounceConfig.RemoteEndpoints).
type EndpointResolver interface {
	ResolveCSEEndpoint(cseID string) (string, error)
}

// HTTPRemoteClient implements RemoteClient over plain HTTP, mirroring the
// oneM2M primitive shape (create/update/delete by URI) with a bounded-
// timeout client in the teacher's CopyHTTPClientWithTimeout idiom.
type HTTPRemoteClient struct {
	Client    *http.Client
	Endpoints EndpointResolver
}

// NewHTTPRemoteClient builds a client bounded by timeout.
func NewHTTPRemoteClient(endpoints EndpointResolver, timeout time.Duration) *HTTPRemoteClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRemoteClient{Client: &http.Client{Timeout: timeout}, Endpoints: endpoints}
}

func (c *HTTPRemoteClient) CreateAnnounced(ctx context.Context, cseID, parentURI string, ty resource.Type, attrs map[string]interface{}) (string, error) {
	base, err := c.Endpoints.ResolveCSEEndpoint(cseID)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]interface{}{"ty": int(ty), "pc": attrs})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+parentURI, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("announce create at %s: status %d", cseID, resp.StatusCode)
	}
	var created struct {
		RI string `json:"ri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode announce create response: %w", err)
	}
	return created.RI, nil
}

func (c *HTTPRemoteClient) UpdateAnnounced(ctx context.Context, cseID, remoteRI string, attrs map[string]interface{}) error {
	base, err := c.Endpoints.ResolveCSEEndpoint(cseID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]interface{}{"pc": attrs})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, base+"/"+remoteRI, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("announce update at %s/%s: status %d", cseID, remoteRI, resp.StatusCode)
	}
	return nil
}

func (c *HTTPRemoteClient) DeleteAnnounced(ctx context.Context, cseID, remoteRI string) error {
	base, err := c.Endpoints.ResolveCSEEndpoint(cseID)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, base+"/"+remoteRI, nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("announce delete at %s/%s: status %d", cseID, remoteRI, resp.StatusCode)
	}
	return nil
}

func (c *HTTPRemoteClient) RetrieveOriginal(ctx context.Context, cseID, lnk string) (*resource.Resource, error) {
	base, err := c.Endpoints.ResolveCSEEndpoint(cseID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+lnk, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("forward retrieve at %s%s: status %d", cseID, lnk, resp.StatusCode)
	}
	var r resource.Resource
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode forwarded resource: %w", err)
	}
	return &r, nil
}

var _ RemoteClient = (*HTTPRemoteClient)(nil)
