package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/smartauth/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	// Retries are bounded so a dead server cannot grow the retry buffer without limit.
	maxWriteRetries    = 3
	retryBufferLimit   = 10000
	httpRequestTimeout = 10 // seconds

	serviceTag = "smartauth"
)

// Client records SmartAuth activity in InfluxDB. Writes are batched and never
// block the caller; a nil or closed Client drops them.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	instance string

	mu        sync.RWMutex
	connected bool
	onError   func(err error)

	writeFailures atomic.Uint64
}

// Connect creates an InfluxDB client for SmartAuth metrics.
//
// It performs the following setup:
//  1. Applies batch, flush, retry and timeout options from config
//  2. Pings the server
//  3. Starts the non-blocking write API and its error drain goroutine
//
// Parameters:
//   - ctx: Context for the initial ping
//   - cfg: InfluxDB section of config.yaml
//
// Returns:
//   - *Client: Connected client; call Close to flush on shutdown
//   - error: ErrDisabled when switched off, ErrConnectionFailed if the ping fails
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ErrUnhealthy)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		instance:  cfg.Instance,
		connected: true,
	}
	go c.drainErrors(c.writeAPI.Errors())

	return c, nil
}

// clientOptions maps the config onto the library options. Non-positive batch
// settings fall back to the defaults.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushInterval) * uint(time.Second/time.Millisecond)).
		SetPrecision(time.Millisecond).
		SetMaxRetries(maxWriteRetries).
		SetRetryBufferLimit(retryBufferLimit).
		SetHTTPRequestTimeout(httpRequestTimeout)
}

// drainErrors counts asynchronous write failures and forwards them to the
// OnError callback. It ends when the write API is closed.
func (c *Client) drainErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.writeFailures.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Close flushes buffered points and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if wasConnected {
		c.writeAPI.Flush()
		c.client.Close()
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

// IsConnected reports whether the client is open. It does not ping.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError registers a callback for batch write failures. Errors wrap
// ErrWriteFailed.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// WriteFailures returns the number of batches the server rejected or that
// could not be delivered.
func (c *Client) WriteFailures() uint64 {
	return c.writeFailures.Load()
}

// Flush blocks until buffered points are sent. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
