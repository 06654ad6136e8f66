package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// maxBodyBytes caps how much of a device response is read.
const maxBodyBytes = 4 << 20

// HTTPClient fetches device status documents and exports.
type HTTPClient struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPClient creates a client with the given timeout. Self-signed TLS
// certificates are accepted (InsecureSkipVerify).
func NewHTTPClient(timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: true}, //nolint:gosec // G402: embedded device web servers use self-signed certs
				DisableKeepAlives: true,
			},
		},
		logger: logger,
	}
}

// Get requests target with basic auth when a username is set and returns the
// body of a 2xx response. Transport failures come back as *ConnectError and
// other statuses as *StatusError.
func (c *HTTPClient) Get(ctx context.Context, target string, creds Credentials) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", target, err)
	}
	if creds.Username != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("http get failed",
			zap.String("url", target),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, NewConnectError(hostOf(target), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &CommandError{Command: "GET " + target, Err: err}
	}
	return body, nil
}

func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	return u.Hostname()
}
