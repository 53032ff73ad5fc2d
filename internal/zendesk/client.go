// Package zendesk implements the help-center HTTP collaborator: endpoint
// construction, basic authentication, and payload decoding.
package zendesk

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultTimeout = 15 * time.Second

// ClientConfig carries the per-installation settings supplied at startup.
type ClientConfig struct {
	BaseURL  string
	Language string
	Email    string
	Password string
	Timeout  time.Duration
}

// Client fetches help-center pages over HTTP using a Colly collector.
type Client struct {
	cfg           ClientConfig
	auth          string
	baseCollector *colly.Collector
}

// NewClient builds a Client. Credentials are folded into a basic-auth
// header once; the collector is cloned per request so concurrent fetches do
// not share callback state.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	token := base64.StdEncoding.EncodeToString([]byte(cfg.Email + ":" + cfg.Password))
	return &Client{
		cfg:           cfg,
		auth:          "Basic " + token,
		baseCollector: c,
	}
}

// Fetch retrieves one page of the category listing. The url argument is
// either a path relative to the help-center API root or an absolute
// pagination cursor; both forms appear in the wild because next_page
// cursors come back fully qualified.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	endpoint := c.endpoint(url)

	var (
		body     []byte
		fetchErr error
	)
	collector := c.baseCollector.Clone()
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Authorization", c.auth)
		r.Headers.Set("Accept", "application/json")
	})
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(endpoint)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s canceled: %w", endpoint, ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", endpoint, fetchErr)
		}
	}
	return body, nil
}

func (c *Client) endpoint(url string) string {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	return fmt.Sprintf(
		"%s/api/v2/help_center/%s/%s",
		strings.TrimSuffix(c.cfg.BaseURL, "/"),
		c.cfg.Language,
		strings.TrimPrefix(url, "/"),
	)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
