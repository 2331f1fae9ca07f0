package governance

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

// BreakerConfig holds circuit breaker settings for the HTTP clients.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// ReadyToTrip trips once MinRequests were seen and the failure ratio
	// reaches FailureThreshold.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 0.5,
		MinRequests:      4,
	}
}

func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// client is the JSON-over-HTTP plumbing shared by HTTPGate and HTTPScanner.
type client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newClient(baseURL string, timeout time.Duration, cfg BreakerConfig, logger *zap.Logger) *client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: newBreaker(cfg, logger),
	}
}

// do sends body (if non-nil) and decodes a JSON response into out (if
// non-nil). Non-2xx statuses count as breaker failures.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encode request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s unavailable: %w", c.breaker.Name(), err)
	}
	return err
}

// HTTPGate calls a hosted governance service.
//
//	GET  {base}/mode         -> {"mode": "ALLOW"|"BLOCK"}
//	POST {base}/escalations  <- {"artifact_id": ..., "findings": [...]}
type HTTPGate struct {
	c *client
}

// NewHTTPGate creates a gate client.
func NewHTTPGate(baseURL string, timeout time.Duration, cfg BreakerConfig, logger *zap.Logger) *HTTPGate {
	return &HTTPGate{c: newClient(baseURL, timeout, cfg, logger)}
}

// CheckMode implements Gate. Unknown modes are reported as BLOCK.
func (g *HTTPGate) CheckMode(ctx context.Context) (Mode, error) {
	var resp struct {
		Mode string `json:"mode"`
	}
	if err := g.c.do(ctx, http.MethodGet, "/mode", nil, &resp); err != nil {
		return "", err
	}
	if Mode(resp.Mode) == ModeAllow {
		return ModeAllow, nil
	}
	return ModeBlock, nil
}

// Escalate implements Gate.
func (g *HTTPGate) Escalate(ctx context.Context, artifactID string, findings []Finding) error {
	body := struct {
		ArtifactID string    `json:"artifact_id"`
		Findings   []Finding `json:"findings"`
	}{artifactID, findings}
	return g.c.do(ctx, http.MethodPost, "/escalations", body, nil)
}

// HTTPScanner calls a hosted content scanner.
//
//	POST {base}/scan <- {"text": ...} -> {"findings": [...]}
type HTTPScanner struct {
	c *client
}

// NewHTTPScanner creates a scanner client.
func NewHTTPScanner(baseURL string, timeout time.Duration, cfg BreakerConfig, logger *zap.Logger) *HTTPScanner {
	return &HTTPScanner{c: newClient(baseURL, timeout, cfg, logger)}
}

// Scan implements Scanner.
func (s *HTTPScanner) Scan(ctx context.Context, text string) ([]Finding, error) {
	var resp struct {
		Findings []Finding `json:"findings"`
	}
	body := struct {
		Text string `json:"text"`
	}{text}
	if err := s.c.do(ctx, http.MethodPost, "/scan", body, &resp); err != nil {
		return nil, err
	}
	return resp.Findings, nil
}
