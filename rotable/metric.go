package rotable

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic counters for a rotation table connection.
// Metrics can be used as the value of a prometheus CounterFunc.
type ConnectionMetrics struct {
	// CommandSendCount indicates the number of command lines written.
	CommandSendCount atomic.Uint64
	// LineRecvCount indicates the number of non-empty lines received.
	LineRecvCount atomic.Uint64
	// AckCount indicates the number of acknowledgements consumed.
	AckCount atomic.Uint64
	// TimeoutCount indicates the number of timeout-bounded reads that expired.
	TimeoutCount atomic.Uint64
	// ProtocolErrCount indicates the number of responses that failed to parse.
	ProtocolErrCount atomic.Uint64
}

func (m *ConnectionMetrics) incCommandSendCount() {
	m.CommandSendCount.Add(1)
}

func (m *ConnectionMetrics) incLineRecvCount() {
	m.LineRecvCount.Add(1)
}

func (m *ConnectionMetrics) incAckCount() {
	m.AckCount.Add(1)
}

func (m *ConnectionMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *ConnectionMetrics) incProtocolErrCount() {
	m.ProtocolErrCount.Add(1)
}
