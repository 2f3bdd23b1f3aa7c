package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Doer executes one HTTP request. Client and BreakerClient both satisfy it.
type Doer interface {
	Do(ctx context.Context, request *http.Request) (*http.Response, error)
}

// Config holds transport-level settings for the API client.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	MaxConnsPerHost int
}

// DefaultConfig returns the transport defaults. Business calls are not
// retried here; MaxRetries only covers transport-level 5xx/network
// failures and defaults to zero so every retry decision stays with the
// caller.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		MaxRetries:      0,
		RetryWaitMin:    time.Second,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 16,
	}
}

// Client wraps http.Client with pooling defaults and optional retries.
type Client struct {
	httpClient *http.Client
	config     Config
}

// New returns a Client with a pooled transport.
func New(config Config) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: config.MaxConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config: config,
	}
}

// Do executes the request, retrying network errors and 5xx responses up
// to MaxRetries times with capped exponential backoff.
func (client *Client) Do(ctx context.Context, request *http.Request) (*http.Response, error) {
	request = request.WithContext(ctx)

	var response *http.Response
	var err error
	for attempt := 0; attempt <= client.config.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := client.config.RetryWaitMin * time.Duration(1<<uint(attempt-1))
			if wait > client.config.RetryWaitMax {
				wait = client.config.RetryWaitMax
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if request.GetBody != nil {
				body, bodyErr := request.GetBody()
				if bodyErr != nil {
					return nil, fmt.Errorf("rewind request body: %w", bodyErr)
				}
				request.Body = body
			}
		}

		response, err = client.httpClient.Do(request)
		if err != nil {
			if isRetryable(err) && attempt < client.config.MaxRetries {
				continue
			}
			return nil, fmt.Errorf("http request failed after %d attempts: %w", attempt+1, err)
		}
		if response.StatusCode >= http.StatusInternalServerError && attempt < client.config.MaxRetries {
			_ = response.Body.Close()
			continue
		}
		return response, nil
	}
	return response, err
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
