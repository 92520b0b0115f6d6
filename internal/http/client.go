// Package http builds the HTTP clients used for the existence check and the
// resumable upload, with proxy support and request logging.
package http

import (
	"context"
	"crypto/tls"
	nethttp "net/http"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http2"

	"github.com/rescale/csvup/internal/config"
	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/logging"
)

// CreateOptimizedClient creates an HTTP client suited to long uploads with
// proxy support.
//
// Key features:
//   - Proxy support (uses ConfigureHTTPClient as base)
//   - No overall client timeout; callers bound requests with a context
//   - HTTP/2 with runtime toggle (DISABLE_HTTP2 env var), disabled behind proxies
//   - Disabled compression (CSV bodies are sent as-is, tus offsets are byte exact)
func CreateOptimizedClient(cfg *config.Config, logger *logging.Logger) (*nethttp.Client, error) {
	var baseClient *nethttp.Client
	var err error

	if cfg != nil {
		baseClient, err = ConfigureHTTPClient(cfg, logger)
		if err != nil {
			return nil, err
		}
	} else {
		baseClient = &nethttp.Client{}
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM mode wraps the transport in ntlmssp.Negotiator
		baseClient.Timeout = 0
		return baseClient, nil
	}

	tr.IdleConnTimeout = constants.HTTPIdleConnTimeout
	tr.TLSHandshakeTimeout = constants.HTTPTLSHandshakeTimeout
	tr.ExpectContinueTimeout = constants.HTTPExpectContinueTimeout
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true

	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true") {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0
	return baseClient, nil
}

// proxyActive trusts the configured proxy mode first and only consults the
// environment for "system" mode or when no config is given.
func proxyActive(cfg *config.Config) bool {
	envProxy := os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
		os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	if cfg == nil {
		return envProxy
	}
	switch cfg.ProxyMode {
	case "no-proxy", "":
		return false
	case "system":
		return envProxy
	default:
		return true
	}
}

// NewRetryableClient wraps base in a go-retryablehttp client with automatic
// retries disabled: every failure surfaces to the caller, and recovery is
// always user initiated. The client still provides leveled request logging
// and the request hook used to observe each attempt.
func NewRetryableClient(base *nethttp.Client, logger *logging.Logger) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	if base != nil {
		rc.HTTPClient = base
	}
	rc.RetryMax = 0
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.CheckRetry = func(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
		return false, nil
	}
	if logger != nil {
		rc.Logger = logger.Leveled()
	} else {
		rc.Logger = nil
	}
	return rc
}
