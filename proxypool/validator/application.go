package validator

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/corpix/uarand"
	"golang.org/x/net/idna"

	"openweb_proxy/proxypool/model"
)

// maxCheckBody 限制读取的响应体大小，足以触发解码错误即可。
const maxCheckBody = 64 << 10

// ApplicationChecker GETs a fixed URL through the proxy. 2xx and 3xx count
// as success; redirects are not followed.
type ApplicationChecker struct {
	checkURL string
	timeout  time.Duration
}

// NewApplicationChecker normalizes the host of checkURL to its ASCII form.
func NewApplicationChecker(checkURL string, timeout time.Duration) (*ApplicationChecker, error) {
	u, err := url.Parse(checkURL)
	if err != nil {
		return nil, fmt.Errorf("invalid check url %q: %w", checkURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid check url %q: scheme must be http or https", checkURL)
	}
	host, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		return nil, fmt.Errorf("invalid check url host %q: %w", u.Hostname(), err)
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}
	return &ApplicationChecker{checkURL: u.String(), timeout: timeout}, nil
}

// proxyURL maps an endpoint onto the URL understood by http.Transport.
// HTTPS proxies are plain-HTTP proxies that support CONNECT.
func proxyURL(e model.Endpoint) *url.URL {
	scheme := "http"
	if e.Protocol == model.ProtocolSOCKS5 {
		scheme = "socks5"
	}
	return &url.URL{Scheme: scheme, Host: e.Address()}
}

func (a *ApplicationChecker) client(e model.Endpoint) *http.Client {
	dialer := &net.Dialer{Timeout: a.timeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyURL(proxyURL(e)),
		DialContext:           dialer.DialContext,
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   a.timeout,
		ResponseHeaderTimeout: a.timeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   a.timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (a *ApplicationChecker) Check(ctx context.Context, e model.Endpoint) error {
	client := a.client(e)
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.checkURL, nil)
	if err != nil {
		return newCheckError("application", e, err)
	}
	req.Header.Set("User-Agent", uarand.GetRandom())

	resp, err := client.Do(req)
	if err != nil {
		return newCheckError("application", e, err)
	}
	defer resp.Body.Close()

	// Reading the body surfaces broken content encodings from the upstream.
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxCheckBody)); err != nil {
		return newCheckError("application", e, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return &CheckError{
			Kind:     FailureStatus,
			Stage:    "application",
			Endpoint: e,
			Err:      fmt.Errorf("received non-successful status code: %d", resp.StatusCode),
		}
	}
	return nil
}
