package scraper

import (
	"iter"
	"regexp"

	"openweb_proxy/proxypool/model"
)

const (
	octet = `(?:25[0-5]|2[0-4]\d|1\d{2}|[1-9]\d|\d)`
	port  = `(?:6553[0-5]|655[0-2]\d|65[0-4]\d{2}|6[0-4]\d{3}|[1-5]\d{4}|[1-9]\d{1,3}|\d)`
)

// reEndpoint matches ip:port with no digit directly before or after.
// RE2 has no lookaround, so the boundaries are consumed and the endpoint is group 1.
var reEndpoint = regexp.MustCompile(`(?:^|\D)(` + octet + `\.` + octet + `\.` + octet + `\.` + octet + `:` + port + `)(?:\D|$)`)

// Extract yields every "host:port" found in text, in order of appearance.
func Extract(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		pos := 0
		for pos < len(text) {
			loc := reEndpoint.FindStringSubmatchIndex(text[pos:])
			if loc == nil {
				return
			}
			start, end := pos+loc[2], pos+loc[3]
			if !yield(text[start:end]) {
				return
			}
			// Resume right after the endpoint so the trailing separator
			// can serve as the leading boundary of the next match.
			pos = end
		}
	}
}

// ExtractSet runs Extract and tags every match with protocol.
func ExtractSet(protocol model.Protocol, text string) *model.ProxySet {
	set := model.NewProxySet()
	for hostPort := range Extract(text) {
		e, err := model.NewEndpoint(protocol, hostPort)
		if err != nil {
			continue
		}
		set.Add(e)
	}
	return set
}
