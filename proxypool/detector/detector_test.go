package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"openweb_proxy/internal/shared/types"
	"openweb_proxy/proxypool/model"
)

type eventLog struct {
	mu    sync.Mutex
	items []string
}

func (e *eventLog) add(s string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append(e.items, s)
}

func (e *eventLog) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.items, ",")
}

// fakeService 模拟 ip-api.com 的 batch 接口。
type fakeService struct {
	mu      sync.Mutex
	proxies map[string]bool // host -> flagged
	fail    map[string]bool // host -> status "fail"
	rl      string
	ttl     string
	batches [][]string
	events  *eventLog
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Method != http.MethodPost {
		http.Error(w, "method", http.StatusMethodNotAllowed)
		return
	}
	var hosts []string
	if err := json.NewDecoder(r.Body).Decode(&hosts); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	f.batches = append(f.batches, hosts)
	f.events.add(fmt.Sprintf("post:%d", len(f.batches)))

	out := make([]map[string]any, 0, len(hosts))
	for _, h := range hosts {
		status := "success"
		if f.fail[h] {
			status = "fail"
		}
		out = append(out, map[string]any{"query": h, "status": status, "proxy": f.proxies[h]})
	}
	if f.rl != "" {
		w.Header().Set("X-Rl", f.rl)
	}
	if f.ttl != "" {
		w.Header().Set("X-Ttl", f.ttl)
	}
	_ = json.NewEncoder(w).Encode(out)
}

type fakeSleeper struct {
	calls  []time.Duration
	events *eventLog
}

func (s *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	s.events.add("sleep:" + d.String())
	return nil
}

func newVerifier(t *testing.T, url string, batchSize int, margin time.Duration, opts ...Option) *Verifier {
	t.Helper()
	cfg := types.DetectorConf{URL: url, SingleURL: url + "/json/{ip}", BatchSize: batchSize, SafetyMargin: margin}
	return New(cfg, 2*time.Second, opts...)
}

func setOf(t *testing.T, canonical ...string) *model.ProxySet {
	t.Helper()
	set := model.NewProxySet()
	for _, s := range canonical {
		e, err := model.ParseEndpoint(s)
		if err != nil {
			t.Fatal(err)
		}
		set.Add(e)
	}
	return set
}

func TestVerify_KeepsUndetectedHosts(t *testing.T) {
	svc := &fakeService{proxies: map[string]bool{"2.2.2.2": true}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	v := newVerifier(t, srv.URL, 100, 0)
	got, err := v.Verify(context.Background(), setOf(t, "socks5://1.1.1.1:1080", "socks5://2.2.2.2:1080"))
	if err != nil {
		t.Fatalf("Verify() returned an error: %v", err)
	}
	if strings.Join(got.Strings(), ",") != "socks5://1.1.1.1:1080" {
		t.Errorf("Expected only 1.1.1.1 to be kept, got %v", got.Strings())
	}
}

func TestVerify_FailedLookupIsDropped(t *testing.T) {
	svc := &fakeService{fail: map[string]bool{"10.0.0.1": true}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	v := newVerifier(t, srv.URL, 100, 0)
	got, err := v.Verify(context.Background(), setOf(t, "https://10.0.0.1:8080", "https://10.0.0.2:8080"))
	if err != nil {
		t.Fatalf("Verify() returned an error: %v", err)
	}
	if strings.Join(got.Strings(), ",") != "https://10.0.0.2:8080" {
		t.Errorf("Expected status=fail host to be dropped, got %v", got.Strings())
	}
}

func TestVerify_HostCollisionKeepsAllPorts(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	v := newVerifier(t, srv.URL, 100, 0)
	got, err := v.Verify(context.Background(), setOf(t, "socks5://1.1.1.1:1080", "socks5://1.1.1.1:1081", "socks5://3.3.3.3:9050"))
	if err != nil {
		t.Fatalf("Verify() returned an error: %v", err)
	}
	if got.Len() != 3 {
		t.Errorf("Expected every port of the host to be kept, got %v", got.Strings())
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.batches) != 1 || len(svc.batches[0]) != 2 {
		t.Errorf("Expected one batch of 2 unique hosts, got %v", svc.batches)
	}
}

func TestVerify_BackoffBetweenChunks(t *testing.T) {
	events := &eventLog{}
	svc := &fakeService{rl: "0", ttl: "2", events: events}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	sleeper := &fakeSleeper{events: events}
	v := newVerifier(t, srv.URL, 2, 5*time.Second, WithSleeper(sleeper.Sleep))

	candidates := setOf(t,
		"socks5://10.0.0.1:1080", "socks5://10.0.0.2:1080",
		"socks5://10.0.0.3:1080", "socks5://10.0.0.4:1080",
		"socks5://10.0.0.5:1080",
	)
	got, err := v.Verify(context.Background(), candidates)
	if err != nil {
		t.Fatalf("Verify() returned an error: %v", err)
	}
	if got.Len() != 5 {
		t.Errorf("Expected all 5 to be kept, got %v", got.Strings())
	}

	// Three chunks, a sleep between each pair, none after the last.
	want := []string{"post:1", "sleep:7s", "post:2", "sleep:7s", "post:3"}
	if got := events.String(); got != strings.Join(want, ",") {
		t.Errorf("Expected events %v, got %s", want, got)
	}
}

func TestVerify_NoSleepWhenBudgetRemains(t *testing.T) {
	svc := &fakeService{rl: "14", ttl: "60"}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	sleeper := &fakeSleeper{}
	v := newVerifier(t, srv.URL, 1, time.Second, WithSleeper(sleeper.Sleep))
	if _, err := v.Verify(context.Background(), setOf(t, "https://10.0.0.1:1", "https://10.0.0.2:1")); err != nil {
		t.Fatalf("Verify() returned an error: %v", err)
	}
	if len(sleeper.calls) != 0 {
		t.Errorf("Expected no sleeps, got %v", sleeper.calls)
	}
}

func TestVerify_ErrorsAbort(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}},
		{"body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>not json</html>"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			v := newVerifier(t, srv.URL, 100, 0)
			got, err := v.Verify(context.Background(), setOf(t, "socks5://1.1.1.1:1080"))
			if !errors.Is(err, ErrDetectionFailed) {
				t.Errorf("Expected ErrDetectionFailed, got %v", err)
			}
			if got != nil {
				t.Errorf("Expected no partial result, got %v", got.Strings())
			}
		})
	}
}

func TestVerify_TransportErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	v := newVerifier(t, url, 100, 0)
	if _, err := v.Verify(context.Background(), setOf(t, "socks5://1.1.1.1:1080")); !errors.Is(err, ErrDetectionFailed) {
		t.Errorf("Expected ErrDetectionFailed, got %v", err)
	}
}

func TestVerify_SecondChunkFailureDiscardsFirst(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"query":"10.0.0.1","status":"success","proxy":false}]`))
	}))
	defer srv.Close()

	v := newVerifier(t, srv.URL, 1, 0)
	got, err := v.Verify(context.Background(), setOf(t, "https://10.0.0.1:80", "https://10.0.0.2:80"))
	if !errors.Is(err, ErrDetectionFailed) || got != nil {
		t.Errorf("Expected (nil, ErrDetectionFailed), got (%v, %v)", got, err)
	}
}

func TestVerify_Empty(t *testing.T) {
	v := newVerifier(t, "http://127.0.0.1:1", 100, 0)
	got, err := v.Verify(context.Background(), model.NewProxySet())
	if err != nil || got.Len() != 0 {
		t.Errorf("Expected (empty, nil), got (%v, %v)", got.Strings(), err)
	}
}

func TestVerify_RateLimiterPaces(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	// 600/min -> one token every 100ms.
	v := newVerifier(t, srv.URL, 1, 0, WithRequestsPerMinute(600))
	start := time.Now()
	if _, err := v.Verify(context.Background(), setOf(t, "https://10.0.0.1:1", "https://10.0.0.2:1", "https://10.0.0.3:1")); err != nil {
		t.Fatalf("Verify() returned an error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("Expected posts to be paced, finished in %v", elapsed)
	}
}

func TestBackoff(t *testing.T) {
	h := http.Header{}
	if rl, _ := backoff(h); rl != -1 {
		t.Errorf("Expected -1 for a missing X-Rl, got %d", rl)
	}
	h.Set("X-Rl", "0")
	if rl, wait := backoff(h); rl != 0 || wait != defaultWindow {
		t.Errorf("Expected (0, %v), got (%d, %v)", defaultWindow, rl, wait)
	}
	h.Set("X-Ttl", "42")
	if _, wait := backoff(h); wait != 42*time.Second {
		t.Errorf("Expected 42s, got %v", wait)
	}
}

func TestIsProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/1.1.1.1":
			_, _ = w.Write([]byte(`{"status":"success","proxy":false}`))
		case "/json/2.2.2.2":
			_, _ = w.Write([]byte(`{"status":"success","proxy":true}`))
		case "/json/10.0.0.1":
			_, _ = w.Write([]byte(`{"status":"fail"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	v := newVerifier(t, srv.URL, 100, 0)

	tests := []struct {
		host        string
		wantFlagged bool
		wantOK      bool
		wantErr     bool
	}{
		{"1.1.1.1", false, true, false},
		{"2.2.2.2", true, true, false},
		{"10.0.0.1", false, false, false},
		{"9.9.9.9", false, false, true},
	}
	for _, tt := range tests {
		flagged, ok, err := v.IsProxy(context.Background(), tt.host)
		if (err != nil) != tt.wantErr || flagged != tt.wantFlagged || ok != tt.wantOK {
			t.Errorf("IsProxy(%s) = (%v, %v, %v), want (%v, %v, err=%v)", tt.host, flagged, ok, err, tt.wantFlagged, tt.wantOK, tt.wantErr)
		}
	}
}
