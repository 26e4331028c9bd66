package security

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTPConfig controls the transport used for LLM requests.
type HTTPConfig struct {
	// Timeout bounds a whole request, including reading the body.
	Timeout time.Duration
	// ConnectTimeout bounds connection establishment only.
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	// MinTLSVersion is "1.2" or "1.3".
	MinTLSVersion string
}

// DefaultHTTPConfig returns transport defaults for LLM requests.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:        5 * time.Minute,
		ConnectTimeout: 10 * time.Second,
		KeepAlive:      30 * time.Second,
		MinTLSVersion:  "1.2",
	}
}

func tlsVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported minimum TLS version %q", v)
	}
}

// CreateSecureHTTPClient creates an HTTP client that verifies certificates,
// requires TLS 1.2 or later, and separates the connect timeout from the
// overall request timeout.
func CreateSecureHTTPClient(cfg HTTPConfig) (*http.Client, error) {
	minVersion, err := tlsVersion(cfg.MinTLSVersion)
	if err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultHTTPConfig().ConnectTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultHTTPConfig().KeepAlive
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     &tls.Config{MinVersion: minVersion},
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}, nil
}
