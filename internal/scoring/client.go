// Package scoring is the HTTP boundary to the external relevance scorer.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ErrTransient marks a call that failed for network or server-side reasons
// and exhausted its retries. The record is left for the next run.
var ErrTransient = errors.New("transient scoring failure")

const (
	defaultTimeout         = 30 * time.Second
	defaultMaxAttempts     = 3
	defaultInitialInterval = 500 * time.Millisecond
	maxResponseBytes       = 1 << 20
)

type Request struct {
	ArticleID   string     `json:"article_id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Source      string     `json:"source,omitempty"`
	PublishTime *time.Time `json:"publish_time,omitempty"`
}

// Result is the scorer's answer. Optional signals stay nil when the scorer
// does not send them.
type Result struct {
	Score          float64  `json:"score"`
	Importance     *float64 `json:"importance,omitempty"`
	Sentiment      *string  `json:"sentiment,omitempty"`
	BeijingRelated *bool    `json:"beijing_related,omitempty"`
}

type Options struct {
	Endpoint        string
	Timeout         time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
	HTTPClient      *http.Client
	Logger          zerolog.Logger
}

type Client struct {
	endpoint        string
	timeout         time.Duration
	maxAttempts     int
	initialInterval time.Duration
	httpClient      *http.Client
	logger          zerolog.Logger
}

func NewClient(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("score endpoint is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	interval := opts.InitialInterval
	if interval <= 0 {
		interval = defaultInitialInterval
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		endpoint:        endpoint,
		timeout:         timeout,
		maxAttempts:     attempts,
		initialInterval: interval,
		httpClient:      httpClient,
		logger:          opts.Logger,
	}, nil
}

// Score posts one article and returns the parsed result. Network errors,
// 429 and 5xx responses are retried with exponential backoff; each attempt
// has its own timeout.
func (c *Client) Score(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode score request: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxAttempts-1)), ctx)

	var (
		result    Result
		attempt   int
		permanent error
	)
	op := func() error {
		attempt++
		res, retryable, err := c.post(ctx, body)
		if err == nil {
			result = res
			return nil
		}
		if !retryable {
			permanent = err
			return backoff.Permanent(err)
		}
		c.logger.Warn().Err(err).
			Str("article_id", req.ArticleID).
			Int("attempt", attempt).
			Msg("score call failed")
		return err
	}

	if err := backoff.Retry(op, retry); err != nil {
		if permanent != nil {
			return Result{}, permanent
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("%w: article_id=%s after %d attempts: %v", ErrTransient, req.ArticleID, attempt, err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, body []byte) (Result, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, false, fmt.Errorf("build score request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, false, ctxErr
		}
		return Result{}, true, fmt.Errorf("post score request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, true, fmt.Errorf("read score response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Result{}, true, fmt.Errorf("score endpoint returned %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{}, false, fmt.Errorf("score endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return Result{}, false, fmt.Errorf("decode score response: %w", err)
	}
	if math.IsNaN(result.Score) || math.IsInf(result.Score, 0) {
		return Result{}, false, fmt.Errorf("score endpoint returned a non-finite score")
	}
	return result, false, nil
}
