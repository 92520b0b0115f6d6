package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http/httpproxy"

	"github.com/rescale/csvup/internal/config"
	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/logging"
)

const defaultProxyPort = 8080

// proxyMode normalizes cfg.ProxyMode; an empty mode means no proxy.
func proxyMode(cfg *config.Config) string {
	mode := strings.ToLower(strings.TrimSpace(cfg.ProxyMode))
	if mode == "" {
		return "no-proxy"
	}
	return mode
}

func authenticatingMode(mode string) bool {
	return mode == "basic" || mode == "ntlm"
}

// newTransport returns the transport shared by every proxy mode.
func newTransport() *nethttp.Transport {
	dialer := &net.Dialer{
		Timeout:   constants.HTTPDialTimeout,
		KeepAlive: constants.HTTPDialKeepAlive,
	}
	return &nethttp.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}
}

// ConfigureHTTPClient returns a client that reaches the network the way
// cfg.ProxyMode says: directly, through the environment's proxy, or through
// an explicit proxy with basic or NTLM authentication. An explicit mode
// without a host degrades to a direct client.
func ConfigureHTTPClient(cfg *config.Config, logger *logging.Logger) (*nethttp.Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	tr := newTransport()
	mode := proxyMode(cfg)
	switch mode {
	case "no-proxy":
		return &nethttp.Client{Transport: tr}, nil
	case "system":
		tr.Proxy = nethttp.ProxyFromEnvironment
	case "basic", "ntlm":
		if cfg.ProxyHost == "" {
			logger.Warn().Str("mode", mode).Msg("Proxy host missing, connecting directly")
			return &nethttp.Client{Transport: tr}, nil
		}
		if cfg.ProxyUser != "" && cfg.ProxyPassword == "" {
			logger.Warn().Str("user", cfg.ProxyUser).Msg("Proxy password not set, proxy authentication disabled")
		}
		tr.Proxy = proxyFuncWithBypass(buildProxyURL(cfg), cfg.NoProxy, logger)
	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", cfg.ProxyMode)
	}

	client := &nethttp.Client{Transport: tr}
	if mode == "ntlm" {
		client.Transport = ntlmssp.Negotiator{RoundTripper: tr}
	}

	credsReady := !authenticatingMode(mode) || (cfg.ProxyUser != "" && cfg.ProxyPassword != "")
	if cfg.ProxyWarmup && credsReady {
		if err := warmupProxy(client, cfg); err != nil {
			return nil, fmt.Errorf("proxy warmup failed: %w", err)
		}
	}
	return client, nil
}

// buildProxyURL returns the proxy address from cfg. Credentials are only
// embedded when both user and password are set.
func buildProxyURL(cfg *config.Config) *url.URL {
	port := cfg.ProxyPort
	if port == 0 {
		port = defaultProxyPort
	}
	u := &url.URL{Scheme: "http", Host: net.JoinHostPort(cfg.ProxyHost, strconv.Itoa(port))}
	if cfg.ProxyUser != "" && cfg.ProxyPassword != "" {
		u.User = url.UserPassword(cfg.ProxyUser, cfg.ProxyPassword)
	}
	return u
}

// warmupProxy opens the proxy connection with a tus OPTIONS request so the
// first existence check does not pay for the handshake.
func warmupProxy(client *nethttp.Client, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ProxyWarmupTimeout)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodOptions, cfg.UploadURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Tus-Resumable", "1.0.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("warmup request failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("warmup request returned server error: %d", resp.StatusCode)
	}
	return nil
}

// proxyFuncWithBypass routes every request through proxyURL except hosts
// matched by noProxy (domains, wildcards and CIDRs, as in NO_PROXY).
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string, logger *logging.Logger) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	match := (&httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}).ProxyFunc()

	return func(req *nethttp.Request) (*url.URL, error) {
		via, err := match(req.URL)
		ev := logger.Debug().Str("host", req.URL.Host)
		if via == nil {
			ev.Msg("Proxy bypassed")
		} else {
			ev.Str("proxy", via.Host).Msg("Proxied")
		}
		return via, err
	}
}

// NeedsProxyPassword reports whether an authenticating proxy has a user but
// no password, so the CLI must ask for one.
func NeedsProxyPassword(cfg *config.Config) bool {
	return authenticatingMode(proxyMode(cfg)) && cfg.ProxyUser != "" && cfg.ProxyPassword == ""
}
