package scraper

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"openweb_proxy/proxypool/model"
)

// Registry maps a protocol to its ordered list of sources.
type Registry map[model.Protocol][]Source

var defaultStaticURLs = map[model.Protocol][]string{
	model.ProtocolHTTPS: {
		"https://raw.githubusercontent.com/monosans/proxy-list/main/proxies/https.txt",
		"https://raw.githubusercontent.com/TheSpeedX/SOCKS-List/master/http.txt",
	},
	model.ProtocolSOCKS5: {
		"https://raw.githubusercontent.com/hookzof/socks5_list/master/proxy.txt",
		"https://www.proxyscan.io/download?type=socks5",
		"https://raw.githubusercontent.com/manuGMG/proxy-365/main/SOCKS5.txt",
		"https://raw.githubusercontent.com/HyperBeats/proxy-list/main/socks5.txt",
		"https://www.proxy-list.download/api/v1/get?type=socks5",
		"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/socks5.txt",
		"https://raw.githubusercontent.com/User-R3X/proxy-list/main/online/socks5.txt",
		"https://raw.githubusercontent.com/roosterkid/openproxylist/main/SOCKS5_RAW.txt",
		"https://raw.githubusercontent.com/jetkai/proxy-list/main/online-proxies/txt/proxies-socks5.txt",
		"https://raw.githubusercontent.com/monosans/proxy-list/main/proxies_anonymous/socks5.txt",
		"https://api.proxyscrape.com/v2/?request=getproxies&protocol=socks5",
		"https://openproxy.space/list/socks5",
		"https://raw.githubusercontent.com/monosans/proxy-list/main/proxies/socks5.txt",
		"https://raw.githubusercontent.com/mmpx12/proxy-list/master/socks5.txt",
		"https://raw.githubusercontent.com/B4RC0DE-TM/proxy-list/main/SOCKS5.txt",
		"https://raw.githubusercontent.com/ShiftyTR/Proxy-List/master/socks5.txt",
		"https://raw.githubusercontent.com/TheSpeedX/SOCKS-List/master/socks5.txt",
		"https://raw.githubusercontent.com/saschazesiger/Free-Proxies/master/proxies/socks5.txt",
		"https://raw.githubusercontent.com/UserR3X/proxy-list/main/socks5.txt",
	},
}

// Scrapers returns every built-in dynamic scraper keyed by name.
func Scrapers(client *http.Client, timeout time.Duration) map[string]Scraper {
	all := []Scraper{
		NewSSLProxiesScraper(client),
		NewClarketmScraper(client),
		NewGeoNodeScraper(client),
		NewSocksProxyScraper(timeout),
	}
	out := make(map[string]Scraper, len(all))
	for _, s := range all {
		out[s.Name()] = s
	}
	return out
}

// DefaultRegistry builds a new registry every call, so callers never share
// (and never grow) the same slices.
func DefaultRegistry(client *http.Client, timeout time.Duration) Registry {
	named := Scrapers(client, timeout)
	r := make(Registry, len(defaultStaticURLs))
	for protocol, urls := range defaultStaticURLs {
		for _, u := range urls {
			r[protocol] = append(r[protocol], StaticURL{URL: u})
		}
	}
	r[model.ProtocolHTTPS] = append(r[model.ProtocolHTTPS],
		Dynamic{Scraper: named["sslproxies.org"]},
		Dynamic{Scraper: named["clarketm/proxy-list"]},
		Dynamic{Scraper: named["geonode.com"]},
	)
	r[model.ProtocolSOCKS5] = append(r[model.ProtocolSOCKS5],
		Dynamic{Scraper: named["socks-proxy.net"]},
		Dynamic{Scraper: named["geonode.com"]},
	)
	return r
}

// Clone returns a deep copy of the registry.
func (r Registry) Clone() Registry {
	out := make(Registry, len(r))
	for protocol, sources := range r {
		out[protocol] = append([]Source(nil), sources...)
	}
	return out
}

type registryEntry struct {
	URL     string `yaml:"url"`
	Scraper string `yaml:"scraper"`
}

// LoadRegistry reads a YAML registry. Each protocol key holds a list of
// {url: ...} or {scraper: <name>} entries; protocols present in the file
// replace the corresponding lists of base.
func LoadRegistry(path string, base Registry, named map[string]Scraper) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var raw map[string][]registryEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse sources file %s: %w", path, err)
	}

	out := base.Clone()
	for key, entries := range raw {
		protocol, err := model.ParseProtocol(key)
		if err != nil {
			return nil, fmt.Errorf("sources file %s: %w", path, err)
		}
		sources := make([]Source, 0, len(entries))
		for i, entry := range entries {
			switch {
			case entry.URL != "" && entry.Scraper != "":
				return nil, fmt.Errorf("sources file %s: %s entry %d sets both url and scraper", path, key, i)
			case entry.URL != "":
				sources = append(sources, StaticURL{URL: entry.URL})
			case entry.Scraper != "":
				s, ok := named[entry.Scraper]
				if !ok {
					return nil, fmt.Errorf("sources file %s: unknown scraper %q", path, entry.Scraper)
				}
				sources = append(sources, Dynamic{Scraper: s})
			default:
				return nil, fmt.Errorf("sources file %s: %s entry %d is empty", path, key, i)
			}
		}
		out[protocol] = sources
	}
	return out, nil
}
