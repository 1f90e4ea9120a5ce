package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"openweb_proxy/internal/shared/logger"
	"openweb_proxy/proxypool/model"
)

// Aggregator 遍历某个协议下的所有代理源，并把结果合并为一个去重集合。
type Aggregator struct {
	registry Registry
	client   *http.Client
	timeout  time.Duration
}

// NewAggregator takes ownership of a copy of registry.
func NewAggregator(registry Registry, client *http.Client, timeout time.Duration) *Aggregator {
	return &Aggregator{
		registry: registry.Clone(),
		client:   client,
		timeout:  timeout,
	}
}

// Sources returns the ordered sources registered for protocol.
func (a *Aggregator) Sources(protocol model.Protocol) []Source {
	return append([]Source(nil), a.registry[protocol]...)
}

// Only returns an aggregator restricted to a single source for protocol.
// The receiver is left untouched.
func (a *Aggregator) Only(protocol model.Protocol, src Source) *Aggregator {
	return &Aggregator{
		registry: Registry{protocol: {src}},
		client:   a.client,
		timeout:  a.timeout,
	}
}

// Acquire fetches every source of protocol. A failing source is logged and
// skipped; the merged set is always returned.
func (a *Aggregator) Acquire(ctx context.Context, protocol model.Protocol) *model.ProxySet {
	l := logger.WithComponent("ProxyPool/Scraper")
	sources := a.registry[protocol]
	l.Info().Str("protocol", protocol.String()).Int("sources", len(sources)).Msg("Starting acquisition...")

	merged := model.NewProxySet()
	for _, src := range sources {
		found, err := a.fetchSource(ctx, protocol, src)
		if err != nil {
			l.Warn().Err(err).Str("source", src.Name()).Msg("Source failed, skipping.")
			continue
		}
		added := merged.Merge(found)
		l.Debug().Str("source", src.Name()).Int("found", found.Len()).Int("new", added).Int("total", merged.Len()).Msg("Source fetched.")
	}

	l.Info().Str("protocol", protocol.String()).Int("count", merged.Len()).Msg("Proxies acquired (raw).")
	return merged
}

func (a *Aggregator) fetchSource(ctx context.Context, protocol model.Protocol, src Source) (set *model.ProxySet, err error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			set, err = nil, fmt.Errorf("source %s panicked: %v", src.Name(), r)
		}
	}()

	switch s := src.(type) {
	case StaticURL:
		body, err := fetch(ctx, a.client, s.URL)
		if err != nil {
			return nil, err
		}
		return ExtractSet(protocol, string(body)), nil
	case Dynamic:
		set, err := s.Scraper.Scrape(ctx, protocol)
		if err != nil {
			return nil, err
		}
		if set == nil {
			set = model.NewProxySet()
		}
		return set, nil
	default:
		return nil, fmt.Errorf("unsupported source type %T", src)
	}
}
