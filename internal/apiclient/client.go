// Package apiclient talks to the review API (/api/v1).
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

// TokenSource yields the credential token to attach, or "" for none.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Observer receives one call per finished request. route is the endpoint
// template, status is 0 when no response arrived.
type Observer interface {
	ObserveAPI(route string, status int, d time.Duration)
}

type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Breaker    BreakerConfig
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
	Observer   Observer
}

// Client is shared by all browsers; per-browser credentials are bound with For.
type Client struct {
	baseURL  string
	timeout  time.Duration
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.SugaredLogger
	observer Observer
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bc := opts.Breaker
	if bc.FailureRatio <= 0 {
		bc.FailureRatio = 0.8
	}
	if bc.MinRequests == 0 {
		bc.MinRequests = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "review-api",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// 4xx answers mean the API is healthy
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.Status > 0 && apiErr.Status < 500
		},
	})
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		timeout:  timeout,
		http:     hc,
		breaker:  cb,
		logger:   logger,
		observer: opts.Observer,
	}
}

// For binds a token source. The token is attached to every request whenever
// one is present, whatever the endpoint.
func (c *Client) For(tokens TokenSource) *Conn {
	return &Conn{c: c, tokens: tokens}
}

// Conn issues requests on behalf of one browser.
type Conn struct {
	c      *Client
	tokens TokenSource
}

type call struct {
	route  string
	method string
	path   string
	body   any
}

func (cn *Conn) do(ctx context.Context, cl call) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, cn.c.timeout)
	defer cancel()

	start := time.Now()
	status := 0
	out, err := cn.c.breaker.Execute(func() (interface{}, error) {
		b, st, err := cn.roundTrip(ctx, cl)
		status = st
		return b, err
	})
	if cn.c.observer != nil {
		cn.c.observer.ObserveAPI(cl.route, status, time.Since(start))
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			cn.c.logger.Warnw("api request rejected by circuit breaker", "route", cl.route)
			return nil, ErrUnavailable
		}
		return nil, err
	}
	b, _ := out.([]byte)
	return b, nil
}

func (cn *Conn) roundTrip(ctx context.Context, cl call) ([]byte, int, error) {
	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode %s body: %w", cl.route, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, cn.c.baseURL+cl.path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build %s request: %w", cl.route, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if cn.tokens != nil {
		tok, err := cn.tokens.Token(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("read token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := cn.c.http.Do(req)
	if err != nil {
		cn.c.logger.Debugw("api request failed", "route", cl.route, "err", err)
		return nil, 0, &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, &APIError{Status: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := errorFromBody(resp.StatusCode, b)
		cn.c.logger.Debugw("api request error", "route", cl.route, "status", resp.StatusCode, "msg", apiErr.Message)
		return nil, resp.StatusCode, apiErr
	}
	return b, resp.StatusCode, nil
}

func (cn *Conn) doJSON(ctx context.Context, cl call, out any) error {
	b, err := cn.do(ctx, cl)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s response: %w", cl.route, err)
	}
	return nil
}
