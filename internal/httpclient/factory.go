// Package httpclient builds the HTTP clients the replay engine sends through.
// Clients never follow redirects; the engine walks redirect chains itself.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// SecureClientConfig configures one client
type SecureClientConfig struct {
	Timeout            time.Duration
	EnableSSRF         bool // If true, blocks requests to private IPs
	InsecureSkipVerify bool
	Proxy              string // http://, https:// or socks5://
	TLSFingerprint     string // uTLS ClientHello profile, see Fingerprints
}

// DefaultConfig matches what security testing needs: long timeout, no
// certificate checks, private addresses allowed.
func DefaultConfig() SecureClientConfig {
	return SecureClientConfig{
		Timeout:            60 * time.Second,
		EnableSSRF:         false,
		InsecureSkipVerify: true,
	}
}

// NewSecureClient creates a client that returns every 3xx to the caller
// - Timeout enforcement
// - Optional SSRF protection (blocks private IPs)
// - Optional upstream proxy, including socks5
// - Optional uTLS ClientHello fingerprint
func NewSecureClient(config SecureClientConfig) (*http.Client, error) {
	baseDialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	dial := baseDialer.DialContext
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Bodies are decoded by the engine so Content-Encoding stays visible.
		DisableCompression: true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // target certificates are routinely self-signed
		},
		ForceAttemptHTTP2: config.TLSFingerprint == "",
	}

	if config.Proxy != "" {
		proxyURL, err := url.Parse(config.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", config.Proxy, err)
		}
		switch strings.ToLower(proxyURL.Scheme) {
		case "http", "https":
			transport.Proxy = http.ProxyURL(proxyURL)
		case "socks5", "socks5h":
			d, err := proxy.FromURL(proxyURL, baseDialer)
			if err != nil {
				return nil, fmt.Errorf("socks proxy %q: %w", config.Proxy, err)
			}
			dial = contextDial(d)
		default:
			return nil, fmt.Errorf("unsupported proxy scheme: %s", proxyURL.Scheme)
		}
	}

	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if config.EnableSSRF {
			if err := validateAddress(addr); err != nil {
				return nil, fmt.Errorf("SSRF protection: %w", err)
			}
		}
		return dial(ctx, network, addr)
	}

	if config.TLSFingerprint != "" {
		if _, err := fingerprintSpec(config.TLSFingerprint); err != nil {
			return nil, err
		}
		transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := transport.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return dialFingerprinted(ctx, conn, addr, config.TLSFingerprint, config.InsecureSkipVerify)
		}
	}

	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

func contextDial(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}

// Factory hands out one client per proxy so connection pools are reused
// across calls.
type Factory struct {
	base    SecureClientConfig
	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewFactory(base SecureClientConfig) *Factory {
	return &Factory{
		base:    base,
		clients: make(map[string]*http.Client),
	}
}

// Client returns the client for proxyURL; empty means direct.
func (f *Factory) Client(proxyURL string) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[proxyURL]; ok {
		return c, nil
	}
	cfg := f.base
	cfg.Proxy = proxyURL
	c, err := NewSecureClient(cfg)
	if err != nil {
		return nil, err
	}
	f.clients[proxyURL] = c
	return c, nil
}

// CloseIdleConnections releases pooled connections of every cached client.
func (f *Factory) CloseIdleConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		c.CloseIdleConnections()
	}
}

// validateAddress checks if an address points to a private IP
func validateAddress(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("blocked private IP: %s (%s)", ip, host)
		}
	}

	return nil
}

// isPrivateIP checks if an IP address is private, loopback, or link-local
func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified()
}

// DoWithContext performs an HTTP request with context enforcement
func DoWithContext(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, err
	}

	return resp, nil
}

// CloseBody drains and closes a response body so the connection can be reused.
func CloseBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	if err := resp.Body.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close HTTP response body: %v\n", err)
	}
}
