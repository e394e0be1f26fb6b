package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
)

func TestNewClient(t *testing.T) {
	manager, err := NewClient("nats://localhost:4222")
	assert.NoError(t, err)

	assert.NotNil(t, manager)
	assert.Equal(t, "nats://localhost:4222", manager.URL())
	assert.Equal(t, StatusDisconnected, manager.Status())
	assert.False(t, manager.IsHealthy())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	manager, err := NewClient("nats://invalid:4222")
	assert.NoError(t, err)

	for i := 0; i < 4; i++ {
		manager.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, manager.Status())

	manager.recordFailure()
	assert.Equal(t, StatusCircuitOpen, manager.Status())
	assert.Equal(t, int32(5), manager.Failures())

	err = manager.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	manager, err := NewClient("nats://localhost:4222")
	assert.NoError(t, err)

	for i := 0; i < 5; i++ {
		manager.recordFailure()
	}
	assert.Equal(t, StatusCircuitOpen, manager.Status())

	manager.resetCircuit()
	assert.Equal(t, int32(0), manager.Failures())
	assert.NotEqual(t, StatusCircuitOpen, manager.Status())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	manager, err := NewClient("nats://localhost:4222", WithMaxBackoff(10*time.Second))
	assert.NoError(t, err)

	assert.Equal(t, time.Second, manager.Backoff())

	for i := 0; i < 5; i++ {
		manager.recordFailure()
	}
	assert.Equal(t, 2*time.Second, manager.Backoff())

	for i := 0; i < 5; i++ {
		manager.recordFailure()
	}
	assert.Equal(t, 4*time.Second, manager.Backoff())

	for i := 0; i < 20; i++ {
		for j := 0; j < 5; j++ {
			manager.recordFailure()
		}
	}
	assert.Equal(t, 10*time.Second, manager.Backoff())
}

func TestCircuitBreaker_Threshold(t *testing.T) {
	manager, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	manager.recordFailure()
	assert.Equal(t, StatusDisconnected, manager.Status())
	manager.recordFailure()
	assert.Equal(t, StatusCircuitOpen, manager.Status())
}

func TestConcurrentSafety(t *testing.T) {
	manager, err := NewClient("nats://localhost:4222")
	assert.NoError(t, err)

	var wg sync.WaitGroup
	iterations := 100

	wg.Add(4)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			manager.setStatus(StatusConnecting)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			_ = manager.Status()
			_ = manager.GetStatus()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			manager.recordFailure()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			manager.resetCircuit()
		}
	}()

	wg.Wait()

	assert.Contains(t, []ConnectionStatus{
		StatusDisconnected,
		StatusConnecting,
		StatusConnected,
		StatusReconnecting,
		StatusCircuitOpen,
	}, manager.Status())
}

func TestIsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		status   ConnectionStatus
		expected bool
	}{
		{"connected is healthy", StatusConnected, true},
		{"disconnected is not healthy", StatusDisconnected, false},
		{"connecting is not healthy", StatusConnecting, false},
		{"reconnecting is not healthy", StatusReconnecting, false},
		{"circuit open is not healthy", StatusCircuitOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, err := NewClient("nats://localhost:4222")
			assert.NoError(t, err)
			manager.setStatus(tt.status)
			assert.Equal(t, tt.expected, manager.IsHealthy())
			assert.Equal(t, tt.status.String(), manager.GetStatus().State)
		})
	}
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out when not connected", func(t *testing.T) {
		manager, err := NewClient("nats://localhost:4222")
		assert.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err = manager.WaitForConnection(ctx)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("returns when becomes connected", func(t *testing.T) {
		manager, err := NewClient("nats://localhost:4222")
		assert.NoError(t, err)

		go func() {
			time.Sleep(50 * time.Millisecond)
			manager.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		assert.NoError(t, manager.WaitForConnection(ctx))
	})
}

func TestConnectionOptions(t *testing.T) {
	manager, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(10),
		WithReconnectWait(5*time.Second),
		WithPingInterval(30*time.Second),
		WithToken("secret"),
		WithName("rti-proxy"),
	)
	assert.NoError(t, err)

	// base options plus token and name
	assert.Len(t, manager.ConnectionOptions(), 11)
	assert.Equal(t, 10, manager.MaxReconnects())
	assert.Equal(t, 5*time.Second, manager.ReconnectWait())
}

func TestConnect_Unreachable(t *testing.T) {
	manager, err := NewClient("nats://127.0.0.1:1", WithTimeout(200*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = manager.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, manager.Status())
	assert.Equal(t, int32(1), manager.Failures())
	assert.NotZero(t, manager.GetStatus().LastFailureTime)
}

func TestPublish_NotConnected(t *testing.T) {
	manager, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = manager.Publish(context.Background(), "rtiproxy.connection", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = manager.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClose_Idempotent(t *testing.T) {
	manager, err := NewClient("nats://localhost:4222", WithCredentials("user", "pass"))
	require.NoError(t, err)

	assert.NoError(t, manager.Close(context.Background()))
	assert.NoError(t, manager.Close(context.Background()))
	assert.Equal(t, StatusDisconnected, manager.Status())
	assert.Empty(t, manager.password)
}
