package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerConfig holds circuit-breaker settings for the backend transport.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns breaker defaults tuned for a single-user
// client: trip fast, recover fast.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      15 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  4,
	}
}

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = gobreaker.ErrOpenState

// BreakerClient wraps a Client with a circuit breaker. 5xx responses
// count as failures.
type BreakerClient struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewBreakerClient wraps an existing client with a circuit breaker.
func NewBreakerClient(client *Client, config BreakerConfig, logger *zap.Logger) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= config.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

// Do executes the request through the breaker.
func (breakerClient *BreakerClient) Do(ctx context.Context, request *http.Request) (*http.Response, error) {
	return breakerClient.breaker.Execute(func() (*http.Response, error) {
		response, err := breakerClient.client.Do(ctx, request)
		if err != nil {
			return nil, err
		}
		if response.StatusCode >= http.StatusInternalServerError {
			body, readErr := io.ReadAll(io.LimitReader(response.Body, 1024))
			if readErr != nil {
				body = nil
			}
			_ = response.Body.Close()
			return nil, fmt.Errorf("server error %d: %s", response.StatusCode, string(body))
		}
		return response, nil
	})
}

// State returns the current breaker state.
func (breakerClient *BreakerClient) State() gobreaker.State {
	return breakerClient.breaker.State()
}
