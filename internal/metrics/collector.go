// Package metrics records connection lifecycle metrics.
package metrics

import "time"

// Collector receives connection lifecycle events from the heart-rate service.
type Collector interface {
	// RecordStatus records the connection status kind that was just reported.
	RecordStatus(status string)
	// RecordReconnectScheduled records a scheduled reconnect attempt and its delay.
	RecordReconnectScheduled(attempt int, delay time.Duration)
	// RecordReconnectExhausted records that automatic reconnection gave up.
	RecordReconnectExhausted()
	// RecordHeartRate records a received heart-rate sample.
	RecordHeartRate(bpm int)
	// RecordFrameSent records an outbound frame by event name.
	RecordFrameSent(event string)
	// RecordFrameReceived records an inbound frame by event name.
	RecordFrameReceived(event string)
	// RecordDecodeError records an inbound frame that could not be decoded.
	RecordDecodeError()
	// RecordTransportFailure records an unexpected transport close or error.
	RecordTransportFailure(reason string)
}

// Nop is a Collector that discards everything.
type Nop struct{}

var _ Collector = Nop{}

// NewNop creates a new no-op collector.
func NewNop() Nop { return Nop{} }

func (Nop) RecordStatus(string)                          {}
func (Nop) RecordReconnectScheduled(int, time.Duration) {}
func (Nop) RecordReconnectExhausted()                    {}
func (Nop) RecordHeartRate(int)                          {}
func (Nop) RecordFrameSent(string)                       {}
func (Nop) RecordFrameReceived(string)                   {}
func (Nop) RecordDecodeError()                           {}
func (Nop) RecordTransportFailure(string)                {}
