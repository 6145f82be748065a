package config

import "strings"

// ProxyConfig contains settings for the local authenticating proxy.
type ProxyConfig struct {
	// Addr is the address the proxy listens on.
	Addr string `env:"PROXY_ADDR" envDefault:"127.0.0.1:8787"`

	// MetricsPath serves Prometheus metrics from the proxy listener. Empty disables it.
	MetricsPath string `env:"PROXY_METRICS_PATH" envDefault:"/metrics"`
}

// Sanitize applies guardrails to proxy configuration values.
func (c *ProxyConfig) Sanitize() {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8787"
	}
	if c.MetricsPath != "" && !strings.HasPrefix(c.MetricsPath, "/") {
		c.MetricsPath = "/" + c.MetricsPath
	}
}
