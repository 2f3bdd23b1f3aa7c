package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testConfig() Config {
	config := DefaultConfig()
	config.RetryWaitMin = time.Millisecond
	config.RetryWaitMax = 2 * time.Millisecond
	return config
}

func TestDoReturnsResponseWithoutRetryByDefault(test *testing.T) {
	test.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		writer.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(testConfig())
	request, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		test.Fatalf("new request: %v", err)
	}
	response, err := client.Do(context.Background(), request)
	if err != nil {
		test.Fatalf("do: %v", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusInternalServerError {
		test.Fatalf("expected the 500 surfaced, got %d", response.StatusCode)
	}
	if calls.Load() != 1 {
		test.Fatalf("expected no retries with MaxRetries=0, got %d calls", calls.Load())
	}
}

func TestDoRetriesServerErrorsWhenConfigured(test *testing.T) {
	test.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if calls.Add(1) < 3 {
			writer.WriteHeader(http.StatusBadGateway)
			return
		}
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := testConfig()
	config.MaxRetries = 2
	client := New(config)

	request, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		test.Fatalf("new request: %v", err)
	}
	response, err := client.Do(context.Background(), request)
	if err != nil {
		test.Fatalf("do: %v", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		test.Fatalf("expected eventual 200, got %d", response.StatusCode)
	}
	if calls.Load() != 3 {
		test.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestBreakerOpensAfterRepeatedServerErrors(test *testing.T) {
	test.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breakerConfig := DefaultBreakerConfig("test-breaker")
	breakerConfig.MinRequests = 2
	breakerConfig.FailureRatio = 0.5
	breakerClient := NewBreakerClient(New(testConfig()), breakerConfig, zap.NewNop())

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		request, err := http.NewRequest(http.MethodGet, server.URL, nil)
		if err != nil {
			test.Fatalf("new request: %v", err)
		}
		_, lastErr = breakerClient.Do(context.Background(), request)
		if lastErr == nil {
			test.Fatal("expected failures against a 500-only server")
		}
	}
	if !errors.Is(lastErr, ErrCircuitOpen) {
		test.Fatalf("expected the breaker to open, got %v", lastErr)
	}
}
