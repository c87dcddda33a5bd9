// Package httpx 为所有出站 HTTP 调用提供统一的客户端构造：
// TLS 1.2+ 且仅 AEAD 密码套件，可选的显式代理。
package httpx

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout 同步生成调用的默认超时。图像与长文本生成可能耗时较长。
const DefaultTimeout = 120 * time.Second

// Options 客户端选项
type Options struct {
	Timeout time.Duration

	// ProxyURL 为空时使用环境变量（HTTPS_PROXY 等）。
	ProxyURL string
}

// DefaultTLSConfig returns a hardened TLS configuration.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// Transport 构造带 TLS 加固与代理设置的 http.Transport。
func Transport(proxyURL string) (*http.Transport, error) {
	proxy := http.ProxyFromEnvironment
	if p := strings.TrimSpace(proxyURL); p != "" {
		u, err := url.Parse(p)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", p)
		}
		proxy = http.ProxyURL(u)
	}
	return &http.Transport{
		Proxy:           proxy,
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}, nil
}

// NewClient 按选项构造 http.Client。
func NewClient(opts Options) (*http.Client, error) {
	tr, err := Transport(opts.ProxyURL)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout, Transport: tr}, nil
}

// SecureHTTPClient 使用环境代理的默认客户端。
func SecureHTTPClient(timeout time.Duration) *http.Client {
	c, _ := NewClient(Options{Timeout: timeout})
	return c
}
