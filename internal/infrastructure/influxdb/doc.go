// Package influxdb provides InfluxDB connectivity for SmartAuth.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes and health monitoring.
//
// # Purpose
//
// Two measurements are written:
//   - auth_events: login, verification and registration outcomes
//   - bridge_events: onboarding message processing results and latency
//
// Writing is optional. A disabled or unreachable InfluxDB never blocks
// authentication.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.RecordAuthEvent("citizen_login", "ok")
package influxdb
