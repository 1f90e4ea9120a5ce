package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/corpix/uarand"

	"openweb_proxy/proxypool/model"
)

// Scraper 接口定义了带自定义解析逻辑的代理源。
type Scraper interface {
	// Scrape fetches and parses the source for protocol. It does no validation.
	Scrape(ctx context.Context, protocol model.Protocol) (*model.ProxySet, error)

	// Name is used for logging and in benchmark reports.
	Name() string
}

// Source is one registry entry: either a StaticURL or a Dynamic scraper.
type Source interface {
	Name() string
	isSource()
}

// StaticURL is a source whose body is scanned with Extract.
type StaticURL struct {
	URL string
}

func (s StaticURL) Name() string { return s.URL }
func (StaticURL) isSource()      {}

// Dynamic wraps a Scraper with its own parsing rules.
type Dynamic struct {
	Scraper Scraper
}

func (d Dynamic) Name() string { return d.Scraper.Name() }
func (Dynamic) isSource()      {}

// fetch GETs url with a random desktop User-Agent and returns the body.
func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", uarand.GetRandom())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code (%d) from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body from %s: %w", url, err)
	}
	return body, nil
}

// NewHTTPClient returns the client used for source fetches.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}
