// Package urlguard decides whether a webhook URL may be contacted. It only
// inspects the literal host of the URL: no DNS lookups are made, so a public
// name that resolves to a private address is not caught.
package urlguard

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// DefaultBlockedHosts are loopback and unspecified host literals
var DefaultBlockedHosts = []string{
	"localhost",
	"127.0.0.1",
	"0.0.0.0",
	"::1",
	"::",
	"0:0:0:0:0:0:0:0",
	"0:0:0:0:0:0:0:1",
	"::ffff:127.0.0.1",
}

// DefaultMetadataHosts are cloud metadata endpoints; a host containing any
// of them is rejected
var DefaultMetadataHosts = []string{
	"169.254.169.254",
	"metadata.google.internal",
	"metadata.goog",
	"metadata.azure.com",
}

var dottedQuad = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)

// Guard holds the blocklists used by Allowed
type Guard struct {
	BlockedHosts  []string
	MetadataHosts []string
}

// Default returns a Guard with the default blocklists
func Default() Guard {
	return Guard{
		BlockedHosts:  append([]string(nil), DefaultBlockedHosts...),
		MetadataHosts: append([]string(nil), DefaultMetadataHosts...),
	}
}

// WithBlockedHosts returns a copy of g that also rejects the given hosts
func (g Guard) WithBlockedHosts(hosts ...string) Guard {
	out := Guard{
		BlockedHosts:  append([]string(nil), g.BlockedHosts...),
		MetadataHosts: append([]string(nil), g.MetadataHosts...),
	}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			out.BlockedHosts = append(out.BlockedHosts, h)
		}
	}
	return out
}

// Allowed reports whether rawURL is an https URL whose host is not loopback,
// private, link-local or a metadata endpoint. It fails closed on parse errors.
func (g Guard) Allowed(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	if u.Scheme != "https" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	for _, blocked := range g.BlockedHosts {
		if host == blocked {
			return false
		}
	}

	if octets, ok := parseDottedQuad(host); ok && isPrivateV4(octets) {
		return false
	}

	for _, md := range g.MetadataHosts {
		if strings.Contains(host, md) {
			return false
		}
	}

	return true
}

var defaultGuard = Default()

// IsAllowed checks rawURL against the default blocklists
func IsAllowed(rawURL string) bool {
	return defaultGuard.Allowed(rawURL)
}

// parseDottedQuad splits a d.d.d.d literal into its numeric octets. Octets
// above 255 are kept as-is so that "10.999.0.1" still counts as 10/8.
func parseDottedQuad(host string) ([4]int, bool) {
	var out [4]int
	m := dottedQuad.FindStringSubmatch(host)
	if m == nil {
		return out, false
	}
	for i := 0; i < 4; i++ {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}

func isPrivateV4(o [4]int) bool {
	switch {
	case o[0] == 10: // 10.0.0.0/8
		return true
	case o[0] == 172 && o[1] >= 16 && o[1] <= 31: // 172.16.0.0/12
		return true
	case o[0] == 192 && o[1] == 168: // 192.168.0.0/16
		return true
	case o[0] == 169 && o[1] == 254: // 169.254.0.0/16
		return true
	}
	return false
}
