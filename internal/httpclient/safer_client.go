// Package httpclient guards outbound provider calls against SSRF. A
// configured base URL, a redirect, or a DNS answer must not be able to
// steer a request at a private host unless the operator pointed the
// client there on purpose.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/reel/errors"
)

const defaultMaxRedirects = 10

// blockedPrefixes are private, loopback, link-local, multicast, and
// reserved ranges.
var blockedPrefixes = mustPrefixes(
	"0.0.0.0/8", "10.0.0.0/8", "127.0.0.0/8", "169.254.0.0/16",
	"172.16.0.0/12", "192.168.0.0/16", "224.0.0.0/4", "240.0.0.0/4",
	"::/128", "::1/128", "fc00::/7", "fe80::/10", "fec0::/10", "ff00::/8",
	"2001:db8::/32",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, len(cidrs))
	for i, c := range cidrs {
		out[i] = netip.MustParsePrefix(c)
	}
	return out
}

// SaferClient is an http.Client that validates every request and redirect.
type SaferClient struct {
	*http.Client
	blockPrivateIP bool
	maxRedirects   int
}

// SaferClientOptions tune the protection. Nil fields keep the defaults:
// private addresses blocked, ten redirects.
type SaferClientOptions struct {
	BlockPrivateIP *bool
	MaxRedirects   *int
}

// NewSaferClient returns a client with the default protection.
func NewSaferClient(timeout time.Duration) *SaferClient {
	return NewSaferClientWithOptions(timeout, SaferClientOptions{})
}

// NewSaferClientWithOptions returns a client tuned by opts.
func NewSaferClientWithOptions(timeout time.Duration, opts SaferClientOptions) *SaferClient {
	c := &SaferClient{
		Client:         &http.Client{Timeout: timeout},
		blockPrivateIP: true,
		maxRedirects:   defaultMaxRedirects,
	}
	if opts.BlockPrivateIP != nil {
		c.blockPrivateIP = *opts.BlockPrivateIP
	}
	if opts.MaxRedirects != nil {
		c.maxRedirects = *opts.MaxRedirects
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		return errors.Wrap(c.check(req.URL), "redirect blocked")
	}
	if c.blockPrivateIP {
		c.Transport = publicOnlyTransport()
	}
	return c
}

// NewEndpointClient returns a client for one operator-configured endpoint.
// A loopback or private endpoint (the local embedding sidecar) turns
// private-address blocking off; a public one keeps it on.
func NewEndpointClient(baseURL string, timeout time.Duration) (*SaferClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return nil, errors.Newf("invalid endpoint URL %q", baseURL)
	}
	block := !isLocalhost(u.Hostname()) && !isPrivateHost(u.Hostname())
	return NewSaferClientWithOptions(timeout, SaferClientOptions{BlockPrivateIP: &block}), nil
}

// WrapClient wraps client without address blocking, for tests that talk
// to httptest servers.
func WrapClient(client *http.Client) *SaferClient {
	return &SaferClient{Client: client, maxRedirects: defaultMaxRedirects}
}

// Do validates req.URL and sends it.
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.check(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked by SSRF protection")
	}
	return c.Client.Do(req)
}

// CheckURL reports why u may not be requested. Libraries that drive the
// embedded http.Client themselves call it before handing the URL over;
// redirects and dial-time addresses are still checked by the client.
func (c *SaferClient) CheckURL(u *url.URL) error {
	return c.check(u)
}

func (c *SaferClient) check(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Newf("scheme %q not allowed", u.Scheme)
	}
	// http://public.example@127.0.0.1/ style confusion
	if u.User != nil || strings.Contains(u.Host, "@") {
		return errors.New("URL carries userinfo")
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("URL missing hostname")
	}
	if !c.blockPrivateIP {
		return nil
	}
	if isLocalhost(host) {
		return errors.New("localhost access blocked")
	}
	if isPrivateHost(host) {
		return errors.Newf("private IP address blocked: %s", host)
	}
	return nil
}

// publicOnlyTransport checks resolved addresses at dial time, which also
// covers DNS rebinding.
func publicOnlyTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, errors.Wrap(err, "invalid address")
			}
			ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to resolve host %q", host)
			}
			for _, ip := range ips {
				if isPrivateAddr(ip) {
					return nil, errors.Newf("private IP address blocked: %s", ip)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// isPrivateHost reports whether host is a literal private address.
func isPrivateHost(host string) bool {
	ip, err := netip.ParseAddr(host)
	return err == nil && isPrivateAddr(ip)
}

func isPrivateAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func isLocalhost(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" || host == "localhost.localdomain" || strings.HasSuffix(host, ".localhost")
}
