package validator

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"openweb_proxy/proxypool/model"
)

const testTarget = "1.1.1.1:80"

// serveTCP accepts connections on a loopback listener and hands each to handle.
func serveTCP(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				handle(c)
			}()
		}
	}()
	return ln.Addr().String()
}

func connectProxy(status string) func(net.Conn) {
	return func(c net.Conn) {
		req, err := http.ReadRequest(bufio.NewReader(c))
		if err != nil || req.Method != http.MethodConnect || req.Host != testTarget {
			_, _ = io.WriteString(c, "HTTP/1.1 400 Bad Request\r\n\r\n")
			return
		}
		_, _ = io.WriteString(c, "HTTP/1.1 "+status+"\r\n\r\n")
		// Hold the tunnel open until the client hangs up.
		_, _ = io.Copy(io.Discard, c)
	}
}

// socks5Proxy 实现了一个只支持无认证 CONNECT 的最小 SOCKS5 服务端。
func socks5Proxy(reply byte) func(net.Conn) {
	return func(c net.Conn) {
		buf := make([]byte, 262)
		if _, err := io.ReadFull(c, buf[:2]); err != nil || buf[0] != 5 {
			return
		}
		if _, err := io.ReadFull(c, buf[:buf[1]]); err != nil {
			return
		}
		if _, err := c.Write([]byte{5, 0}); err != nil {
			return
		}

		if _, err := io.ReadFull(c, buf[:4]); err != nil {
			return
		}
		var addrLen int
		switch buf[3] {
		case 1:
			addrLen = 4
		case 4:
			addrLen = 16
		case 3:
			if _, err := io.ReadFull(c, buf[:1]); err != nil {
				return
			}
			addrLen = int(buf[0])
		default:
			return
		}
		if _, err := io.ReadFull(c, buf[:addrLen+2]); err != nil {
			return
		}
		_, _ = c.Write([]byte{5, reply, 0, 1, 0, 0, 0, 0, 0, 0})
		_, _ = io.Copy(io.Discard, c)
	}
}

func endpointAt(t *testing.T, protocol model.Protocol, addr string) model.Endpoint {
	t.Helper()
	e, err := model.NewEndpoint(protocol, addr)
	if err != nil {
		t.Fatalf("NewEndpoint(%q) returned an error: %v", addr, err)
	}
	return e
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestReachability_Connect(t *testing.T) {
	checker := NewReachabilityChecker(testTarget, 2*time.Second)

	ok := endpointAt(t, model.ProtocolHTTPS, serveTCP(t, connectProxy("200 Connection established")))
	if err := checker.Check(context.Background(), ok); err != nil {
		t.Errorf("Expected CONNECT proxy to pass, got %v", err)
	}

	refused := endpointAt(t, model.ProtocolHTTPS, serveTCP(t, connectProxy("403 Forbidden")))
	err := checker.Check(context.Background(), refused)
	if KindOf(err) != FailureProxy {
		t.Errorf("Expected a %q failure, got %v", FailureProxy, err)
	}

	garbage := endpointAt(t, model.ProtocolHTTPS, serveTCP(t, func(c net.Conn) {
		_, _ = bufio.NewReader(c).ReadString('\n')
		_, _ = io.WriteString(c, "SSH-2.0-OpenSSH_9.0\r\n")
	}))
	if err := checker.Check(context.Background(), garbage); KindOf(err) != FailureProxy {
		t.Errorf("Expected a %q failure for a malformed reply, got %v", FailureProxy, err)
	}
}

func TestReachability_Socks5(t *testing.T) {
	checker := NewReachabilityChecker(testTarget, 2*time.Second)

	ok := endpointAt(t, model.ProtocolSOCKS5, serveTCP(t, socks5Proxy(0)))
	if err := checker.Check(context.Background(), ok); err != nil {
		t.Errorf("Expected SOCKS5 proxy to pass, got %v", err)
	}

	// 0x05: connection refused by the destination.
	refused := endpointAt(t, model.ProtocolSOCKS5, serveTCP(t, socks5Proxy(5)))
	if err := checker.Check(context.Background(), refused); err == nil {
		t.Error("Expected refused SOCKS5 CONNECT to fail")
	}
}

func TestReachability_ClosedPort(t *testing.T) {
	checker := NewReachabilityChecker(testTarget, time.Second)
	for _, protocol := range model.Protocols {
		e := endpointAt(t, protocol, closedAddr(t))
		if err := checker.Check(context.Background(), e); err == nil {
			t.Errorf("%s: expected a closed port to fail", protocol)
		}
	}
}

func TestReachability_Timeout(t *testing.T) {
	silent := endpointAt(t, model.ProtocolHTTPS, serveTCP(t, func(c net.Conn) {
		_, _ = io.Copy(io.Discard, c)
	}))
	checker := NewReachabilityChecker(testTarget, 200*time.Millisecond)

	start := time.Now()
	err := checker.Check(context.Background(), silent)
	if KindOf(err) != FailureTimeout {
		t.Errorf("Expected a %q failure, got %v", FailureTimeout, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected the check to give up near its timeout, took %v", elapsed)
	}
}

// forwardProxy 模拟一个 HTTP 正向代理，直接应答绝对 URI 请求。
func forwardProxy(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) model.Endpoint {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.URL.IsAbs() || r.URL.Host != "check.example" {
			t.Errorf("Expected an absolute request for check.example, got %s", r.URL)
		}
		handle(w, r)
	}))
	t.Cleanup(srv.Close)
	return endpointAt(t, model.ProtocolHTTPS, srv.Listener.Addr().String())
}

func TestApplication(t *testing.T) {
	checker, err := NewApplicationChecker("http://check.example/", 2*time.Second)
	if err != nil {
		t.Fatalf("NewApplicationChecker() returned an error: %v", err)
	}

	tests := []struct {
		name    string
		handle  func(w http.ResponseWriter, r *http.Request)
		want    FailureKind
		wantErr bool
	}{
		{
			name: "ok",
			handle: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "<html>hello</html>")
			},
		},
		{
			name: "redirect counts as success",
			handle: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "http://elsewhere.example/", http.StatusFound)
			},
		},
		{
			name: "bad gateway",
			handle: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream down", http.StatusBadGateway)
			},
			want:    FailureStatus,
			wantErr: true,
		},
		{
			name: "broken gzip",
			handle: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", "gzip")
				_, _ = io.WriteString(w, "definitely not gzip")
			},
			want:    FailureEncoding,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := forwardProxy(t, tt.handle)
			err := checker.Check(context.Background(), e)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && KindOf(err) != tt.want {
				t.Errorf("Expected kind %q, got %q (%v)", tt.want, KindOf(err), err)
			}
		})
	}
}

func TestNewApplicationChecker(t *testing.T) {
	checker, err := NewApplicationChecker("https://Bücher.example:8443/path", time.Second)
	if err != nil {
		t.Fatalf("NewApplicationChecker() returned an error: %v", err)
	}
	if checker.checkURL != "https://xn--bcher-kva.example:8443/path" {
		t.Errorf("Expected punycode host, got %s", checker.checkURL)
	}

	for _, bad := range []string{"ftp://example.com", "://nope"} {
		if _, err := NewApplicationChecker(bad, time.Second); err == nil {
			t.Errorf("NewApplicationChecker(%q): expected an error", bad)
		}
	}
}

func TestLoadBanned_FromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/banned.txt" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "# header\n192.0.2.1\n192.0.2.2\n")
	}))
	defer srv.Close()

	list := LoadBanned(context.Background(), srv.Client(), srv.URL+"/banned.txt")
	if list.Len() != 2 || !list.Contains("192.0.2.1") || list.Contains("# header") {
		t.Errorf("Unexpected banned list: %v", list)
	}

	if missing := LoadBanned(context.Background(), srv.Client(), srv.URL+"/missing"); missing.Len() != 0 {
		t.Errorf("Expected an empty list on HTTP 404, got %v", missing)
	}
}

func TestParseBanned(t *testing.T) {
	list, err := ParseBanned(strings.NewReader("a\n  b  \n#c\n\nd # e\n"))
	if err != nil {
		t.Fatal(err)
	}
	for _, host := range []string{"a", "b", "d"} {
		if !list.Contains(host) {
			t.Errorf("Expected %q to be banned", host)
		}
	}
	if list.Len() != 3 {
		t.Errorf("Expected 3 entries, got %d", list.Len())
	}
}
