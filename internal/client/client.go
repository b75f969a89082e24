// Package client fetches proof-of-work challenges from the remote chat
// service.
package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/woxQAQ/deepseek-pow/pkg/protocol"
)

// ChallengePath is the create-challenge endpoint relative to the base URL.
const ChallengePath = "/api/v0/chat/create_pow_challenge"

// maxBodySize caps how much of a response is read.
const maxBodySize = 1 << 20

// Client performs challenge requests. One attempt per call; it never
// retries.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRateLimit spaces requests to at most rps per second. A non-positive
// rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a client for baseURL authenticating with token.
func New(baseURL, token string, timeout time.Duration, logger *zap.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}

	c := &Client{
		baseURL: u,
		token:   token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With(zap.String("component", "challenge-client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchChallenge requests a challenge protecting targetPath.
func (c *Client) FetchChallenge(ctx context.Context, targetPath string) (*protocol.Challenge, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := c.baseURL.JoinPath(ChallengePath).String()

	body, err := jsonEncode(protocol.ChallengeRequest{TargetPath: targetPath})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, &RequestError{URL: endpoint, Err: err}
	}
	req.Header = AuthHeaders(c.token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// Don't decorate context sentinel errors; callers compare to them.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &RequestError{URL: endpoint, Err: err}
	}
	defer ensureReaderClosed(resp)

	data, err := readBody(resp)
	if err != nil {
		return nil, &RequestError{URL: endpoint, Err: err}
	}

	c.logger.Debug("Challenge response received",
		zap.Int("status", resp.StatusCode),
		zap.Int("size_bytes", len(data)),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn("Challenge request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("target_path", targetPath),
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(data)), 256)}
	}

	var env protocol.Envelope[*protocol.ChallengeData]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Code != 0 {
		return nil, &APIError{Code: env.Code, Message: env.Msg}
	}
	if env.Data.BizCode != 0 {
		return nil, &APIError{Code: env.Data.BizCode, Message: env.Data.BizMsg, Biz: true}
	}
	if env.Data.BizData == nil {
		return nil, &DecodeError{Err: errors.New("response carries no challenge")}
	}

	challenge := env.Data.BizData.Challenge

	c.logger.Info("Challenge fetched",
		zap.String("algorithm", challenge.Algorithm),
		zap.String("target_path", challenge.TargetPath),
		zap.String("difficulty", challenge.Difficulty.String()),
	)

	return &challenge, nil
}

func jsonEncode(data any) (io.Reader, error) {
	var params bytes.Buffer
	if err := json.NewEncoder(&params).Encode(data); err != nil {
		return nil, err
	}
	return &params, nil
}

// readBody reads at most maxBodySize bytes, decompressing gzip bodies. The
// transport leaves them compressed because Accept-Encoding is set
// explicitly.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBodySize)
	}
	return data, nil
}

func ensureReaderClosed(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		// Drain up to 512 bytes so the transport can reuse the connection.
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
		_ = resp.Body.Close()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
