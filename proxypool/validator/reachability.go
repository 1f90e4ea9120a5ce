package validator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/corpix/uarand"
	"golang.org/x/net/proxy"

	"openweb_proxy/proxypool/model"
)

// ReachabilityChecker opens a raw connection to a fixed target through the
// proxy. Each call builds its own dialer; nothing process-wide is touched.
type ReachabilityChecker struct {
	target  string
	timeout time.Duration
}

func NewReachabilityChecker(target string, timeout time.Duration) *ReachabilityChecker {
	return &ReachabilityChecker{target: target, timeout: timeout}
}

func (r *ReachabilityChecker) Check(ctx context.Context, e model.Endpoint) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var err error
	switch e.Protocol {
	case model.ProtocolSOCKS5:
		err = r.checkSocks5(ctx, e)
	case model.ProtocolHTTPS:
		err = r.checkConnect(ctx, e)
	default:
		err = fmt.Errorf("unsupported protocol %q", e.Protocol)
	}
	if err != nil {
		var ce *CheckError
		if errors.As(err, &ce) {
			return ce
		}
		return newCheckError("reachability", e, err)
	}
	return nil
}

// checkSocks5 performs a SOCKS5 handshake and CONNECT to the target.
func (r *ReachabilityChecker) checkSocks5(ctx context.Context, e model.Endpoint) error {
	dialer, err := proxy.SOCKS5("tcp", e.Address(), nil, &net.Dialer{Timeout: r.timeout})
	if err != nil {
		return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return fmt.Errorf("SOCKS5 dialer does not support contexts")
	}
	conn, err := cd.DialContext(ctx, "tcp", r.target)
	if err != nil {
		return err
	}
	return conn.Close()
}

// checkConnect 通过 HTTP CONNECT 隧道连接目标。
func (r *ReachabilityChecker) checkConnect(ctx context.Context, e model.Endpoint) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", e.Address())
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock the handshake if ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: r.target},
		Host:   r.target,
		Header: http.Header{"User-Agent": []string{uarand.GetRandom()}},
	}
	if err := req.Write(conn); err != nil {
		return fmt.Errorf("failed to write CONNECT request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		var netErr net.Error
		if ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
			return err
		}
		return &CheckError{Kind: FailureProxy, Stage: "reachability", Endpoint: e, Err: fmt.Errorf("malformed CONNECT response: %w", err)}
	}
	// The body of a CONNECT reply is the tunnel itself; closing conn releases it.
	if resp.StatusCode != http.StatusOK {
		return &CheckError{Kind: FailureProxy, Stage: "reachability", Endpoint: e, Err: fmt.Errorf("CONNECT refused: %s", resp.Status)}
	}
	return nil
}
