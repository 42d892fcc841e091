package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementAuthEvents   = "auth_events"
	measurementBridgeEvents = "bridge_events"
)

// RecordAuthEvent writes one authentication or registration outcome.
//
// event names the operation ("citizen_login", "employee_register", ...) and
// outcome is "ok" or an API error code. Login keys and tokens are never
// tagged, which keeps series cardinality bounded.
func (c *Client) RecordAuthEvent(event, outcome string) {
	c.write(measurementAuthEvents,
		map[string]string{"event": event, "outcome": outcome},
		map[string]any{"count": 1},
	)
}

// RecordBridgeEvent writes the result of processing one onboarding message.
// stage is the pipeline step that finished last ("mail" on success).
func (c *Client) RecordBridgeEvent(outcome, stage string, elapsed time.Duration) {
	c.write(measurementBridgeEvents,
		map[string]string{"outcome": outcome, "stage": stage},
		map[string]any{
			"count":       1,
			"duration_ms": float64(elapsed.Microseconds()) / 1000,
		},
	)
}

// write adds the service and instance tags and queues the point. The read
// lock keeps Close from releasing the write API mid-call.
func (c *Client) write(measurement string, tags map[string]string, fields map[string]any) {
	if c == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return
	}

	tags["service"] = serviceTag
	if c.instance != "" {
		tags["instance"] = c.instance
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
