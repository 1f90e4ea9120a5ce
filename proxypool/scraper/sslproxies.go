package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"openweb_proxy/internal/shared/logger"
	"openweb_proxy/proxypool/model"
)

// SSLProxiesScraper 实现了 Scraper 接口，解析 sslproxies.org 的代理表格。
type SSLProxiesScraper struct {
	client *http.Client
	url    string
}

// NewSSLProxiesScraper 创建一个新的 SSLProxiesScraper 实例。
func NewSSLProxiesScraper(client *http.Client) Scraper {
	return &SSLProxiesScraper{
		client: client,
		url:    "https://www.sslproxies.org/",
	}
}

func (s *SSLProxiesScraper) Name() string {
	return "sslproxies.org"
}

func (s *SSLProxiesScraper) Scrape(ctx context.Context, protocol model.Protocol) (*model.ProxySet, error) {
	l := logger.WithComponent("ProxyPool/Scraper")

	body, err := fetch(ctx, s.client, s.url)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for %s: %w", s.Name(), err)
	}

	table := doc.Find("table.table-striped").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("proxy table not found on %s", s.Name())
	}

	proxies := model.NewProxySet()
	table.Find("tbody tr").Each(func(_ int, sel *goquery.Selection) {
		ip := strings.TrimSpace(sel.Find("td").Eq(0).Text())
		portStr := strings.TrimSpace(sel.Find("td").Eq(1).Text())
		if ip == "" || portStr == "" {
			return
		}

		e, err := model.NewEndpoint(protocol, ip+":"+portStr)
		if err != nil {
			l.Debug().Str("ip", ip).Str("port", portStr).Str("source", s.Name()).Msg("Failed to parse row, skipping.")
			return
		}
		proxies.Add(e)
	})

	l.Debug().Int("count", proxies.Len()).Str("source", s.Name()).Msg("Scrape finished.")
	return proxies, nil
}
