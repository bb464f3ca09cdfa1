package main

import (
	"fmt"
	"sort"

	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// BrowserProfile bundles a TLS client profile with its corresponding browser headers.
type BrowserProfile struct {
	Name       string
	TLSProfile profiles.ClientProfile
	UserAgent  string
	SecChUa    string
	Platform   string
	Mobile     string
}

var Chrome131Profile = &BrowserProfile{
	Name:       "chrome131",
	TLSProfile: profiles.Chrome_131,
	UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	SecChUa:    `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
	Platform:   `"Windows"`,
	Mobile:     "?0",
}

var Chrome124Profile = &BrowserProfile{
	Name:       "chrome124",
	TLSProfile: profiles.Chrome_124,
	UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	SecChUa:    `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
	Platform:   `"Windows"`,
	Mobile:     "?0",
}

// DefaultProfile is the browser profile used when none is configured.
var DefaultProfile = Chrome131Profile

var browserProfiles = map[string]*BrowserProfile{
	Chrome131Profile.Name: Chrome131Profile,
	Chrome124Profile.Name: Chrome124Profile,
}

// LookupProfile returns the named browser profile. An empty name selects DefaultProfile.
func LookupProfile(name string) (*BrowserProfile, error) {
	if name == "" {
		return DefaultProfile, nil
	}
	p, ok := browserProfiles[name]
	if !ok {
		names := make([]string, 0, len(browserProfiles))
		for n := range browserProfiles {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown browser profile %q (available: %v)", name, names)
	}
	return p, nil
}

func NewClient(logger tls_client.Logger, proxyURL string) (tls_client.HttpClient, error) {
	return NewClientWithProfile(logger, proxyURL, DefaultProfile.TLSProfile)
}

func NewClientWithProfile(logger tls_client.Logger, proxyURL string, profile profiles.ClientProfile) (tls_client.HttpClient, error) {
	if logger == nil {
		logger = tls_client.NewNoopLogger()
	}

	jar := tls_client.NewCookieJar()
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(30),
		tls_client.WithClientProfile(profile),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithCookieJar(jar),
	}

	if proxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(proxyURL))
	}

	return tls_client.NewHttpClient(logger, options...)
}
