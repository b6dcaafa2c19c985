package browser

import (
	"net"
	"net/url"
	"strconv"
)

// ProxyConfig describes an optional upstream HTTP proxy.
type ProxyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// URL returns the proxy URL in the form http://[user:pass@]host:port, or an
// empty string when proxying is disabled. The credential segment is only
// included when both username and password are set.
func (p ProxyConfig) URL() string {
	if !p.Enabled {
		return ""
	}
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if p.Username != "" && p.Password != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// LaunchArg returns the "--proxy-server" switch for the proxy, or an empty
// string when proxying is disabled.
func (p ProxyConfig) LaunchArg() string {
	proxyURL := p.URL()
	if proxyURL == "" {
		return ""
	}
	return "--proxy-server=" + proxyURL
}
