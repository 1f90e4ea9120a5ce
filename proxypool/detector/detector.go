package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/corpix/uarand"
	"golang.org/x/time/rate"

	"openweb_proxy/internal/shared/logger"
	"openweb_proxy/internal/shared/types"
	"openweb_proxy/proxypool/model"
)

// ErrDetectionFailed 表示检测服务不可用或返回了无法解析的结果，本轮结果作废。
var ErrDetectionFailed = errors.New("proxy detection failed")

// defaultWindow is used when the service reports X-Rl: 0 without a usable X-Ttl.
const defaultWindow = 60 * time.Second

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type verdict struct {
	Query  string `json:"query"`
	Status string `json:"status"`
	Proxy  bool   `json:"proxy"`
}

// Verifier asks an ip-api style batch service whether hosts are known proxies.
type Verifier struct {
	client    *http.Client
	url       string
	singleURL string
	batchSize int
	margin    time.Duration
	sleep     Sleeper
	limiter   *rate.Limiter
}

type Option func(*Verifier)

// WithSleeper replaces the sleep used for X-Ttl backoff.
func WithSleeper(s Sleeper) Option {
	return func(v *Verifier) { v.sleep = s }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.client = c }
}

// WithRequestsPerMinute paces batch posts on the client side. Zero disables pacing.
func WithRequestsPerMinute(rpm int) Option {
	return func(v *Verifier) {
		if rpm <= 0 {
			v.limiter = nil
			return
		}
		v.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
}

func New(cfg types.DetectorConf, timeout time.Duration, opts ...Option) *Verifier {
	v := &Verifier{
		client:    &http.Client{Timeout: timeout},
		url:       cfg.URL,
		singleURL: cfg.SingleURL,
		batchSize: cfg.BatchSize,
		margin:    cfg.SafetyMargin,
		sleep:     sleepContext,
	}
	if v.batchSize <= 0 {
		v.batchSize = 100
	}
	WithRequestsPerMinute(cfg.RequestsPerMinute)(v)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify keeps the endpoints whose host the service reports as a successful
// lookup that is not a proxy. Every port of a host shares the host's verdict.
// Any failure aborts the whole run; no partial set is returned.
func (v *Verifier) Verify(ctx context.Context, candidates *model.ProxySet) (*model.ProxySet, error) {
	l := logger.WithComponent("ProxyPool/Detector")
	out := model.NewProxySet()

	byHost := candidates.Hosts()
	if len(byHost) == 0 {
		return out, nil
	}
	hosts := make([]string, 0, len(byHost))
	for h := range byHost {
		hosts = append(hosts, h)
	}
	slices.Sort(hosts)
	chunks := slices.Collect(slices.Chunk(hosts, v.batchSize))

	l.Debug().Int("hosts", len(hosts)).Int("chunks", len(chunks)).Msg("Start batch testing.")
	for i, chunk := range chunks {
		if v.limiter != nil {
			if err := v.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: waiting for rate limiter: %w", ErrDetectionFailed, err)
			}
		}

		verdicts, header, err := v.post(ctx, chunk)
		if err != nil {
			l.Error().Err(err).Int("chunk", i+1).Int("chunks", len(chunks)).Msg("Batch testing failed.")
			return nil, fmt.Errorf("%w: chunk %d/%d: %w", ErrDetectionFailed, i+1, len(chunks), err)
		}

		for _, r := range verdicts {
			if r.Status != "success" || r.Proxy {
				continue
			}
			for _, e := range byHost[r.Query] {
				out.Add(e)
			}
		}

		remaining, wait := backoff(header)
		l.Debug().Int("chunk", i+1).Int("chunks", len(chunks)).Str("x_rl", header.Get("X-Rl")).Str("x_ttl", header.Get("X-Ttl")).Msg("Chunk tested.")
		if remaining == 0 && i < len(chunks)-1 {
			d := wait + v.margin
			l.Info().Int("chunk", i+1).Int("chunks", len(chunks)).Dur("sleep", d).Msg("Rate limit reached, sleeping before next chunk.")
			if err := v.sleep(ctx, d); err != nil {
				return nil, fmt.Errorf("%w: interrupted while backing off: %w", ErrDetectionFailed, err)
			}
		}
	}

	l.Info().Int("candidates", candidates.Len()).Int("undetected", out.Len()).Msg("Batch testing finished.")
	return out, nil
}

// backoff reads X-Rl and X-Ttl. remaining is -1 when the header is absent.
func backoff(h http.Header) (remaining int, wait time.Duration) {
	remaining = -1
	if s := h.Get("X-Rl"); s != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			remaining = n
		}
	}
	wait = defaultWindow
	if s := h.Get("X-Ttl"); s != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n >= 0 {
			wait = time.Duration(n) * time.Second
		}
	}
	return remaining, wait
}

func (v *Verifier) post(ctx context.Context, hosts []string) ([]verdict, http.Header, error) {
	payload, err := json.Marshal(hosts)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", uarand.GetRandom())

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, nil, fmt.Errorf("received non-successful status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var verdicts []verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdicts); err != nil {
		return nil, nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return verdicts, resp.Header, nil
}

// IsProxy looks up a single host. ok is false when the service could not
// resolve the host (status != "success").
func (v *Verifier) IsProxy(ctx context.Context, host string) (flagged bool, ok bool, err error) {
	l := logger.WithComponent("ProxyPool/Detector")
	url := strings.ReplaceAll(v.singleURL, "{ip}", host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, false, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}
	req.Header.Set("User-Agent", uarand.GetRandom())

	resp, err := v.client.Do(req)
	if err != nil {
		return false, false, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, false, fmt.Errorf("%w: received non-successful status code %d", ErrDetectionFailed, resp.StatusCode)
	}

	var r verdict
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return false, false, fmt.Errorf("%w: failed to decode response: %w", ErrDetectionFailed, err)
	}
	if r.Status != "success" {
		l.Debug().Str("ip", host).Str("status", r.Status).Msg("Detector returned non-success status.")
		return false, false, nil
	}
	if r.Proxy {
		l.Info().Str("ip", host).Msg("Proxy detected.")
	}
	return r.Proxy, true, nil
}
