package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Report is one external provider's view of an IP.
type Report struct {
	Proxy      bool     `json:"proxy"`
	VPN        bool     `json:"vpn"`
	Tor        bool     `json:"tor"`
	FraudScore int      `json:"fraud_score"`
	Country    string   `json:"country_code"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Provider is an external reputation source. Implementations must be safe
// for concurrent use; the aggregator bounds each call with a timeout and
// treats any error as "no signal".
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (*Report, error)
}

// HTTPProvider queries a JSON reputation API of the common
// GET <base>/<ip>?key=<apiKey> shape.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPProvider(name, baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (*Report, error) {
	u := fmt.Sprintf("%s/%s", p.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		q := req.URL.Query()
		q.Set("key", p.apiKey)
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s: unexpected status %d", p.name, resp.StatusCode)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("provider %s: decode: %w", p.name, err)
	}
	return &report, nil
}
