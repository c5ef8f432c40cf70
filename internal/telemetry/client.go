package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/sandman-core/internal/actuator"
	"github.com/nerrad567/sandman-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	millisecondsPerSecond = 1000
)

// Client writes motion telemetry to InfluxDB. Writes are non-blocking
// and batched; a broker or network hiccup never touches the control
// path.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bed      string

	connected bool
	mu        sync.RWMutex

	onError func(err error)
}

// Connect creates the InfluxDB client, verifies the server with a
// ping, and sets up the batching write API.
//
// Parameters:
//   - cfg: InfluxDB section of the configuration
//   - bed: Bed identifier tagged on every point
//
// Returns:
//   - *Client: Ready client
//   - error: ErrDisabled when telemetry is off, or a wrapped
//     ErrConnectionFailed
func Connect(cfg config.InfluxDBConfig, bed string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	c := &Client{
		client:    client,
		writeAPI:  writeAPI,
		bed:       bed,
		connected: true,
	}

	go c.handleWriteErrors(writeAPI.Errors())

	return c, nil
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// WriteTransition records one state transition as a point in the
// "actuator_state" measurement. Non-blocking.
func (c *Client) WriteTransition(snap actuator.Snapshot) {
	if !c.IsConnected() {
		return
	}

	remaining := snap.Remaining.Milliseconds()
	if remaining < 0 {
		remaining = 0
	}

	point := write.NewPoint(
		"actuator_state",
		map[string]string{
			"bed":      c.bed,
			"actuator": snap.Actuator,
			"state":    snap.State.String(),
		},
		map[string]interface{}{
			"moving":       snap.State.Moving(),
			"remaining_ms": remaining,
		},
		snap.UpdatedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteRunDuration records how long a completed motion actually ran.
// Used for duty-cycle dashboards.
func (c *Client) WriteRunDuration(actuatorID string, direction string, ran time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"actuator_run",
		map[string]string{
			"bed":       c.bed,
			"actuator":  actuatorID,
			"direction": direction,
		},
		map[string]interface{}{
			"duration_ms": ran.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// SetOnError sets a callback invoked for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck actively pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// Close flushes pending writes and shuts the client down.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
