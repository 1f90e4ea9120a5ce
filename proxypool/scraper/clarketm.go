package scraper

import (
	"context"
	"net/http"
	"strings"

	"openweb_proxy/internal/shared/logger"
	"openweb_proxy/proxypool/model"
)

const (
	clarketmHeaderLines = 6
	clarketmFooterLines = 2
)

// ClarketmScraper parses the clarketm/proxy-list text file.
// Data lines look like "1.2.3.4:8080 US-H-S +"; the "S" flag marks SSL support.
type ClarketmScraper struct {
	client *http.Client
	url    string
}

func NewClarketmScraper(client *http.Client) Scraper {
	return &ClarketmScraper{
		client: client,
		url:    "https://raw.githubusercontent.com/clarketm/proxy-list/master/proxy-list.txt",
	}
}

func (s *ClarketmScraper) Name() string {
	return "clarketm/proxy-list"
}

func (s *ClarketmScraper) Scrape(ctx context.Context, protocol model.Protocol) (*model.ProxySet, error) {
	l := logger.WithComponent("ProxyPool/Scraper")

	body, err := fetch(ctx, s.client, s.url)
	if err != nil {
		return nil, err
	}

	proxies := model.NewProxySet()
	lines := strings.Split(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) <= clarketmHeaderLines+clarketmFooterLines {
		return proxies, nil
	}

	for _, line := range lines[clarketmHeaderLines : len(lines)-clarketmFooterLines] {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.Contains(fields[1], "S") {
			continue
		}
		e, err := model.NewEndpoint(protocol, fields[0])
		if err != nil {
			continue
		}
		proxies.Add(e)
	}

	l.Debug().Int("count", proxies.Len()).Str("source", s.Name()).Msg("Scrape finished.")
	return proxies, nil
}
