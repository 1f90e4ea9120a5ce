package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"openweb_proxy/internal/shared/logger"
	"openweb_proxy/proxypool/model"
)

const (
	geoNodePageSize = 500
	geoNodeMaxPages = 50
)

type geoNodeProxy struct {
	IP        string      `json:"ip"`
	Port      json.Number `json:"port"`
	Protocols []string    `json:"protocols"`
}

type geoNodePage struct {
	Data []geoNodeProxy `json:"data"`
}

// GeoNodeScraper walks the proxylist.geonode.com JSON API page by page
// until a page comes back empty.
type GeoNodeScraper struct {
	client  *http.Client
	baseURL string
}

func NewGeoNodeScraper(client *http.Client) Scraper {
	return &GeoNodeScraper{
		client:  client,
		baseURL: "https://proxylist.geonode.com/api/proxy-list",
	}
}

func (s *GeoNodeScraper) Name() string {
	return "geonode.com"
}

func (s *GeoNodeScraper) Scrape(ctx context.Context, protocol model.Protocol) (*model.ProxySet, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	proxies := model.NewProxySet()

	for page := 1; page <= geoNodeMaxPages; page++ {
		url := fmt.Sprintf("%s?limit=%d&page=%d&sort_by=lastChecked&sort_type=desc&protocols=%s",
			s.baseURL, geoNodePageSize, page, protocol)
		l.Debug().Str("url", url).Str("source", s.Name()).Msg("Fetching page...")

		resp, err := s.page(ctx, url)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			// 后续页失败时保留已经拿到的结果。
			l.Warn().Err(err).Int("page", page).Str("source", s.Name()).Msg("Page failed, keeping earlier pages.")
			break
		}
		if len(resp.Data) == 0 {
			break
		}

		for _, p := range resp.Data {
			if !hasProtocol(p.Protocols, protocol) {
				continue
			}
			e, err := model.NewEndpoint(protocol, p.IP+":"+p.Port.String())
			if err != nil {
				continue
			}
			proxies.Add(e)
		}
	}

	l.Debug().Int("count", proxies.Len()).Str("source", s.Name()).Msg("Scrape finished.")
	return proxies, nil
}

func (s *GeoNodeScraper) page(ctx context.Context, url string) (*geoNodePage, error) {
	body, err := fetch(ctx, s.client, url)
	if err != nil {
		return nil, err
	}
	var resp geoNodePage
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return &resp, nil
}

func hasProtocol(list []string, protocol model.Protocol) bool {
	if len(list) == 0 {
		return true
	}
	for _, p := range list {
		if strings.EqualFold(p, string(protocol)) {
			return true
		}
	}
	return false
}
