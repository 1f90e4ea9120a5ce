package model

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"sort"
	"strconv"
	"strings"
)

// Protocol 是代理的协议类型。
type Protocol string

const (
	ProtocolHTTPS  Protocol = "https"
	ProtocolSOCKS5 Protocol = "socks5"
)

// Protocols lists every supported protocol in a stable order.
var Protocols = []Protocol{ProtocolHTTPS, ProtocolSOCKS5}

// ParseProtocol parses a protocol name case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case ProtocolHTTPS:
		return ProtocolHTTPS, nil
	case ProtocolSOCKS5:
		return ProtocolSOCKS5, nil
	}
	return "", fmt.Errorf("unsupported protocol %q", s)
}

func (p Protocol) String() string { return string(p) }

// Endpoint 定义了一个代理端点: 协议 + IPv4 地址 + 端口。
// 规范字符串 "<protocol>://<host>:<port>" 是全模块唯一的去重键。
type Endpoint struct {
	Protocol Protocol `json:"protocol"`
	Host     string   `json:"host"`
	Port     uint16   `json:"port"`
}

// NewEndpoint builds an endpoint from a bare "host:port" string, as produced by the extractor.
func NewEndpoint(protocol Protocol, hostPort string) (Endpoint, error) {
	host, portStr, ok := strings.Cut(strings.TrimSpace(hostPort), ":")
	if !ok {
		return Endpoint{}, fmt.Errorf("missing port in %q", hostPort)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !addr.Is4() {
		return Endpoint{}, fmt.Errorf("invalid IPv4 host %q", host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return Endpoint{Protocol: protocol, Host: addr.String(), Port: uint16(port)}, nil
}

// ParseEndpoint parses the canonical "<protocol>://<host>:<port>" form.
func ParseEndpoint(s string) (Endpoint, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(s), "://")
	if !ok {
		return Endpoint{}, fmt.Errorf("missing protocol in %q", s)
	}
	protocol, err := ParseProtocol(scheme)
	if err != nil {
		return Endpoint{}, err
	}
	return NewEndpoint(protocol, rest)
}

// Address returns "host:port".
func (e Endpoint) Address() string {
	return e.Host + ":" + strconv.Itoa(int(e.Port))
}

// String returns the canonical form.
func (e Endpoint) String() string {
	return string(e.Protocol) + "://" + e.Address()
}

// ProxySet 是以规范字符串为键的端点集合。
// 同一时刻只允许一个阶段修改它，本身不做并发保护。
type ProxySet struct {
	items map[string]Endpoint
}

// NewProxySet creates a set holding the given endpoints.
func NewProxySet(endpoints ...Endpoint) *ProxySet {
	s := &ProxySet{items: make(map[string]Endpoint, len(endpoints))}
	for _, e := range endpoints {
		s.Add(e)
	}
	return s
}

// Add inserts e and reports whether it was new.
func (s *ProxySet) Add(e Endpoint) bool {
	key := e.String()
	if _, exists := s.items[key]; exists {
		return false
	}
	s.items[key] = e
	return true
}

// Merge adds every element of other and returns the number of new elements.
func (s *ProxySet) Merge(other *ProxySet) int {
	if other == nil {
		return 0
	}
	added := 0
	for _, e := range other.items {
		if s.Add(e) {
			added++
		}
	}
	return added
}

func (s *ProxySet) Remove(e Endpoint) {
	delete(s.items, e.String())
}

func (s *ProxySet) Contains(e Endpoint) bool {
	_, ok := s.items[e.String()]
	return ok
}

func (s *ProxySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Endpoints returns the elements sorted by canonical string.
func (s *ProxySet) Endpoints() []Endpoint {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Endpoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.items[k])
	}
	return out
}

// Strings returns the canonical strings, sorted.
func (s *ProxySet) Strings() []string {
	eps := s.Endpoints()
	out := make([]string, len(eps))
	for i, e := range eps {
		out[i] = e.String()
	}
	return out
}

// Hosts groups the endpoints by host. Each slice is sorted by canonical string.
func (s *ProxySet) Hosts() map[string][]Endpoint {
	hosts := make(map[string][]Endpoint)
	for _, e := range s.Endpoints() {
		hosts[e.Host] = append(hosts[e.Host], e)
	}
	return hosts
}

// Random returns an arbitrary element, or false when the set is empty.
func (s *ProxySet) Random() (Endpoint, bool) {
	eps := s.Endpoints()
	if len(eps) == 0 {
		return Endpoint{}, false
	}
	return eps[rand.IntN(len(eps))], true
}
