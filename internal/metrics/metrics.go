// Package metrics defines what the client reports about itself, with a
// Prometheus implementation and a no-op one for tests and the CLI.
package metrics

import "time"

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// Collector receives measurements from the remote client, the services, the
// outbox worker and the HTTP server.
type Collector interface {
	RecordRemoteCall(operation string, err error, duration time.Duration)
	RecordCircuitState(name string, state CircuitState)
	RecordNormalizeIssues(count int)
	RecordCacheLookup(hit bool)
	RecordOutboxDelivery(status string)
	RecordOutboxDepth(depth int)
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// NoOpCollector discards everything.
type NoOpCollector struct{}

func (NoOpCollector) RecordRemoteCall(string, error, time.Duration) {}
func (NoOpCollector) RecordCircuitState(string, CircuitState) {}
func (NoOpCollector) RecordNormalizeIssues(int) {}
func (NoOpCollector) RecordCacheLookup(bool) {}
func (NoOpCollector) RecordOutboxDelivery(string) {}
func (NoOpCollector) RecordOutboxDepth(int) {}
func (NoOpCollector) RecordHTTPRequest(string, string, int, time.Duration) {}
