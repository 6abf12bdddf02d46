package session

import (
	"context"
	"net"
	"strings"

	"github.com/mssola/useragent"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/refresh"
)

// Device is the descriptor bound to refresh tokens.
type Device = refresh.Device

// Metadata is what the transport knows about a connection.
type Metadata struct {
	ClientIP  string
	UserAgent string
	// Location is an approximate place name resolved by the caller, if any.
	Location string
}

// Fingerprinter derives a Device from connection metadata.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, meta Metadata) Device
}

// FingerprintFunc adapts a function to Fingerprinter.
type FingerprintFunc func(ctx context.Context, meta Metadata) Device

// Fingerprint calls f.
func (f FingerprintFunc) Fingerprint(ctx context.Context, meta Metadata) Device {
	return f(ctx, meta)
}

// DefaultFingerprinter hashes the user agent with the client's network
// prefix (/24 for IPv4, /48 for IPv6) into the device id. The user agent is
// parsed with mssola/useragent for the display fields.
type DefaultFingerprinter struct{}

// Fingerprint implements Fingerprinter.
func (DefaultFingerprinter) Fingerprint(_ context.Context, meta Metadata) Device {
	ua := strings.TrimSpace(meta.UserAgent)
	os, browser, kind := classify(ua)

	return Device{
		ID:       internal.HashBindingValue(ua + "|" + networkPrefix(meta.ClientIP)),
		Name:     displayName(browser, os),
		Type:     kind,
		OS:       os,
		Browser:  browser,
		Location: meta.Location,
	}
}

func networkPrefix(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String()
}

// httpClients are user agent prefixes of programmatic clients.
var httpClients = []string{"curl/", "wget/", "go-http-client/", "okhttp/", "python-requests/"}

func classify(raw string) (os, browser, kind string) {
	if raw == "" {
		return unknown, unknown, "unknown"
	}
	ua := useragent.New(raw)
	l := strings.ToLower(raw)

	os = normalizeOS(ua.OSInfo().Name)
	browser, _ = ua.Browser()
	if browser == "" {
		browser = unknown
	}
	for _, prefix := range httpClients {
		if strings.HasPrefix(l, prefix) {
			browser = "HTTP client"
		}
	}

	switch {
	case strings.Contains(l, "ipad"), strings.Contains(l, "tablet"):
		kind = "tablet"
	case ua.Mobile(), os == "iOS", os == "Android":
		kind = "mobile"
	case browser == "HTTP client", ua.Bot():
		kind = "api"
	default:
		kind = "desktop"
	}
	return os, browser, kind
}

const unknown = "Unknown"

// normalizeOS folds the parser's OS names into the short display set.
func normalizeOS(name string) string {
	switch {
	case name == "":
		return unknown
	case strings.HasPrefix(name, "iPhone"), strings.HasPrefix(name, "iPad"), strings.HasPrefix(name, "iOS"):
		return "iOS"
	case strings.HasPrefix(name, "Android"):
		return "Android"
	case strings.HasPrefix(name, "Windows"):
		return "Windows"
	case strings.HasPrefix(name, "Mac OS"), strings.HasPrefix(name, "macOS"):
		return "macOS"
	case strings.Contains(name, "Linux"), name == "Ubuntu", name == "Fedora":
		return "Linux"
	default:
		return name
	}
}

func displayName(browser, os string) string {
	if browser == unknown && os == unknown {
		return "Unknown device"
	}
	return browser + " on " + os
}
