package tlsutil

import (
	"crypto/tls"
	"net/http"
	"slices"
	"time"
)

// aeadSuites 是 TLS 1.2 下允许的套件；TLS 1.3 的套件不可配置
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// Config returns a TLS 1.2+ AEAD-only config. serverName may be empty.
func Config(serverName string) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: slices.Clone(aeadSuites),
		ServerName:   serverName,
	}
}

// ClientOptions tunes the HTTP client handed to LLM backends.
type ClientOptions struct {
	Timeout time.Duration
	// 仅用于自签名证书的本地推理服务
	InsecureSkipVerify bool
	MaxIdleConns       int
}

// NewHTTPClient clones http.DefaultTransport and swaps in Config("").
// Zero options fall back to a 30s timeout and 100 idle connections.
func NewHTTPClient(opts ClientOptions) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	idle := opts.MaxIdleConns
	if idle <= 0 {
		idle = 100
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = Config("")
	tr.TLSClientConfig.InsecureSkipVerify = opts.InsecureSkipVerify //nolint:gosec
	tr.MaxIdleConns = idle
	tr.MaxIdleConnsPerHost = idle

	return &http.Client{Timeout: timeout, Transport: tr}
}
