package indexing

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

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	jobsPath         = "/indexing_jobs"
	maxErrorBodySize = 1 << 10
)

// BreakerConfig tunes the circuit breaker in front of the indexer.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig trips after 5 requests at an 80% failure rate and probes again after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// HTTPSender posts notifications to {endpoint}/indexing_jobs.
type HTTPSender struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// HTTPOption customises an HTTPSender.
type HTTPOption func(*httpSenderOptions)

type httpSenderOptions struct {
	client  *http.Client
	breaker BreakerConfig
	logger  *zap.Logger
}

// WithHTTPClient overrides the client used for requests.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(o *httpSenderOptions) {
		if client != nil {
			o.client = client
		}
	}
}

// WithBreakerConfig overrides the circuit breaker thresholds.
func WithBreakerConfig(cfg BreakerConfig) HTTPOption {
	return func(o *httpSenderOptions) {
		o.breaker = cfg
	}
}

// WithSenderLogger attaches a logger for breaker state changes.
func WithSenderLogger(logger *zap.Logger) HTTPOption {
	return func(o *httpSenderOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewHTTPSender constructs a sender for the indexer at endpoint.
func NewHTTPSender(endpoint string, opts ...HTTPOption) (*HTTPSender, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("indexing: endpoint is required")
	}
	options := httpSenderOptions{
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: DefaultBreakerConfig(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	cfg := options.breaker
	logger := options.logger
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "indexer",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &HTTPSender{
		url:     endpoint + jobsPath,
		client:  options.client,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Name identifies the sender in logs and metrics.
func (s *HTTPSender) Name() string { return "http" }

// Send posts the notification. Anything but 202 Accepted is an error.
func (s *HTTPSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("indexing: marshal notification: %w", err)
	}
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, body)
	})
	return err
}

// State exposes the breaker state for diagnostics.
func (s *HTTPSender) State() gobreaker.State {
	return s.breaker.State()
}

func (s *HTTPSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("indexing: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("indexing: post %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
