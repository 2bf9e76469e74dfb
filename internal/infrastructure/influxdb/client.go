package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/wrenware/lattice/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// Client exports request-handling telemetry to InfluxDB. Writes are
// batched and asynchronous; failures surface through the SetOnError
// callback rather than the write call. It satisfies stats.Exporter.
//
// Safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu      sync.RWMutex
	open    bool
	onError func(err error)
}

// Connect builds the batched write pipeline and verifies the server
// answers a ping. Returns ErrDisabled when the config has the exporter
// switched off, so callers can treat that case as "run without metrics".
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)).
			SetFlushInterval(uint(flush)*1000))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server reports unhealthy", ErrConnectionFailed)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		open:     true,
	}
	go c.drainWriteErrors(c.writeAPI.Errors())
	return c, nil
}

// drainWriteErrors forwards async batch failures to the registered
// callback. The channel closes when the client does.
func (c *Client) drainWriteErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError registers the sink for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// WriteOperationMetric records one handled request primitive: the
// operation name, its oneM2M response status code, and wall-clock
// handling time. Non-blocking; the point joins the current batch.
func (c *Client) WriteOperationMetric(operation string, status int, elapsed time.Duration) {
	if !c.isOpen() {
		return
	}
	point := write.NewPoint(
		"operations",
		map[string]string{"operation": operation},
		map[string]any{
			"status":     status,
			"elapsed_ms": float64(elapsed.Microseconds()) / 1000.0,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// Flush pushes the current batch out immediately. No-op after Close.
func (c *Client) Flush() {
	if c.isOpen() {
		c.writeAPI.Flush()
	}
}

// Close flushes pending points and shuts the pipeline down.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()
	if !wasOpen {
		return nil
	}

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

func (c *Client) isOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}
