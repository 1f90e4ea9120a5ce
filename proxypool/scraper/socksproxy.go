package scraper

import (
	"context"
	"strings"
	"time"

	"github.com/corpix/uarand"
	"github.com/gocolly/colly/v2"

	"openweb_proxy/internal/shared/logger"
	"openweb_proxy/proxypool/model"
)

// SocksProxyScraper 抓取 socks-proxy.net，只保留 Version 列为 Socks5 的行。
type SocksProxyScraper struct {
	timeout time.Duration
	url     string
}

// NewSocksProxyScraper 创建一个新的 SocksProxyScraper 实例。
func NewSocksProxyScraper(timeout time.Duration) Scraper {
	return &SocksProxyScraper{
		timeout: timeout,
		url:     "https://www.socks-proxy.net/",
	}
}

func (s *SocksProxyScraper) Name() string {
	return "socks-proxy.net"
}

func (s *SocksProxyScraper) Scrape(ctx context.Context, protocol model.Protocol) (*model.ProxySet, error) {
	l := logger.WithComponent("ProxyPool/Scraper")

	// A fresh collector per call; callbacks must not pile up across scrapes.
	c := colly.NewCollector(
		colly.UserAgent(uarand.GetRandom()),
	)
	c.SetRequestTimeout(s.timeout)

	proxies := model.NewProxySet()
	var scrapeErr error

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	c.OnHTML("table.table tbody tr", func(e *colly.HTMLElement) {
		ip := strings.TrimSpace(e.ChildText("td:nth-child(1)"))
		portStr := strings.TrimSpace(e.ChildText("td:nth-child(2)"))
		version := strings.TrimSpace(e.ChildText("td:nth-child(5)"))

		if ip == "" || portStr == "" {
			return
		}
		if protocol == model.ProtocolSOCKS5 && !strings.EqualFold(version, "socks5") {
			return
		}

		ep, err := model.NewEndpoint(protocol, ip+":"+portStr)
		if err != nil {
			l.Debug().Str("ip", ip).Str("port", portStr).Str("source", s.Name()).Msg("Failed to parse row, skipping.")
			return
		}
		proxies.Add(ep)
	})

	c.OnError(func(r *colly.Response, err error) {
		l.Warn().Err(err).Int("status_code", r.StatusCode).Str("url", r.Request.URL.String()).Msg("Scrape request failed.")
		scrapeErr = err
	})

	if err := c.Visit(s.url); err != nil {
		return nil, err
	}
	c.Wait()

	if scrapeErr != nil {
		return nil, scrapeErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.Debug().Int("count", proxies.Len()).Str("source", s.Name()).Msg("Scrape finished.")
	return proxies, nil
}
