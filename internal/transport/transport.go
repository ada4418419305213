// Package transport dials the brokerage origin with a Chrome TLS
// fingerprint. The same dialer backs the HTTPS auth client and the
// websocket stream, with optional SOCKS5 or HTTP CONNECT proxying.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Dialer produces TLS connections with a browser fingerprint.
type Dialer struct {
	proxyURL *url.URL // nil = direct
}

// New parses proxyURL ("" for direct, else socks5:// or http://).
func New(proxyURL string) (*Dialer, error) {
	d := &Dialer{}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		switch u.Scheme {
		case "socks5", "http", "https":
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
		d.proxyURL = u
	}
	return d, nil
}

// RoundTripper returns the transport for the HTTPS auth client.
func (d *Dialer) RoundTripper() http.RoundTripper {
	if d.proxyURL != nil {
		return &http.Transport{
			MaxIdleConnsPerHost: 2,
			DialTLSContext:      d.DialTLSContext,
		}
	}
	// Direct: http2.Transport avoids the *tls.Conn type assertion that
	// utls UConn cannot satisfy inside net/http.
	return &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return d.DialTLSContext(ctx, network, addr)
		},
	}
}

// DialTLSContext dials addr (optionally through the proxy) and completes
// a utls handshake. Also used as the websocket NetDialTLSContext.
func (d *Dialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	rawConn, err := d.dialRaw(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return uTLSHandshake(ctx, rawConn, host)
}

func (d *Dialer) dialRaw(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.proxyURL == nil {
		return (&net.Dialer{}).DialContext(ctx, network, addr)
	}
	if d.proxyURL.Scheme == "socks5" {
		return d.dialSOCKS5(ctx, network, addr)
	}
	return d.dialHTTPConnect(ctx, addr)
}

func uTLSHandshake(ctx context.Context, rawConn net.Conn, serverName string) (net.Conn, error) {
	tlsConn := utls.UClient(rawConn, &utls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}, utls.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

func (d *Dialer) dialSOCKS5(ctx context.Context, network, addr string) (net.Conn, error) {
	var auth *proxy.Auth
	if u := d.proxyURL.User; u != nil {
		pw, _ := u.Password()
		auth = &proxy.Auth{User: u.Username(), Password: pw}
	}

	dialer, err := proxy.SOCKS5("tcp", d.proxyURL.Host, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		conn, err := cd.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("socks5 dial: %w", err)
		}
		return conn, nil
	}
	conn, err := dialer.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("socks5 dial: %w", err)
	}
	return conn, nil
}

func (d *Dialer) dialHTTPConnect(ctx context.Context, addr string) (net.Conn, error) {
	rawConn, err := (&net.Dialer{}).DialContext(ctx, "tcp", d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("proxy tcp dial: %w", err)
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if u := d.proxyURL.User; u != nil {
		pw, _ := u.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(u.Username() + ":" + pw))
		connectReq.Header.Set("Proxy-Authorization", "Basic "+cred)
	}

	if err := connectReq.Write(rawConn); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("proxy CONNECT write: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(rawConn), connectReq)
	if err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("proxy CONNECT read: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rawConn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
	}
	return rawConn, nil
}
