package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Sender delivers a notification envelope to a target URI and reports
// whether the target acknowledged it with a 2xx response, per spec.md
// §4.3's verification/blocking handshakes ("a non-2xx response... fails").
type Sender interface {
	Send(ctx context.Context, targetURI string, envelope map[string]interface{}) (ok bool, err error)
}

// HTTPSender posts the notification envelope as a JSON body, the default
// transport for http(s):// target URIs. Grounded on the teacher's
// httputil.CopyHTTPClientWithTimeout idiom: a bounded-timeout client
// distinct from the shared default client.
type HTTPSender struct {
	Client *http.Client
}

// NewHTTPSender builds a sender whose requests are bounded by timeout.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{Client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSender) Send(ctx context.Context, targetURI string, envelope map[string]interface{}) (bool, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return false, fmt.Errorf("marshal notification envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURI, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-M2M-Origin", "CAdmin")

	resp, err := s.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
