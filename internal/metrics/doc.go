// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connect attempts, failures by outcome, and scheduled reconnects
//   - Connection state transitions and the connected gauge
//   - Long lived pairing code refreshes
//   - Session events routed to the connection manager
package metrics
