// Package api implements the remote lookup that tells whether a file with a
// given name has already been uploaded.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/csvup/internal/config"
	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/http"
	"github.com/rescale/csvup/internal/logging"
	"github.com/rescale/csvup/internal/ratelimit"
)

// maxResponseBytes bounds how much of a lookup response is read.
const maxResponseBytes = 64 << 10

type existsResponse struct {
	Exists *bool `json:"exists"`
}

// Client performs existence checks against the lookup endpoint.
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	accessKey  string
	limiter    *ratelimit.Limiter
	logger     *logging.Logger
}

// NewClient creates a new existence-check client from cfg.
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.ExistsURL) == "" {
		return nil, config.ErrMissingExistsURL
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.Named("exists")

	base, err := http.CreateOptimizedClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	limiter := ratelimit.NewExistsLimiter()
	limiter.SetLogger(logger)

	return &Client{
		httpClient: http.NewRetryableClient(base, logger),
		baseURL:    cfg.ExistsURL,
		accessKey:  cfg.AccessKey,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// FileExists asks the lookup endpoint whether fileName already exists.
// Any failure is returned as a *NetworkError.
func (c *Client) FileExists(ctx context.Context, fileName string) (bool, error) {
	if fileName == "" {
		return false, &NetworkError{Err: ErrEmptyFileName}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return false, &NetworkError{Err: fmt.Errorf("rate limiter cancelled: %w", err)}
	}

	reqURL, err := c.requestURL(fileName)
	if err != nil {
		return false, &NetworkError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, constants.APIContextTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodGet, reqURL, nil)
	if err != nil {
		return false, &NetworkError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).
			Str("file", fileName).
			Str("error_class", http.ErrorTypeName(http.ClassifyError(err))).
			Msg("Existence check request failed")
		return false, &NetworkError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, &NetworkError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != nethttp.StatusOK {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("file", fileName).
			Str("error_class", http.ErrorTypeName(http.ClassifyStatus(resp.StatusCode))).
			Msg("Existence check returned non-200 status")
		return false, &NetworkError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body))),
		}
	}

	var decoded existsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false, &NetworkError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if decoded.Exists == nil {
		return false, &NetworkError{StatusCode: resp.StatusCode, Err: errors.New("response has no exists field")}
	}

	c.logger.Debug().Str("file", fileName).Bool("exists", *decoded.Exists).Msg("Existence check completed")
	return *decoded.Exists, nil
}

func (c *Client) requestURL(fileName string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid exists URL: %w", err)
	}
	q := u.Query()
	q.Set("access_key", c.accessKey)
	q.Set("file_name", fileName)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
