package metrics

import "time"

// SFTMetrics provides observability for the file transfer server.
//
// Implementations collect metrics about protocol requests, session and
// connection lifecycle, and transfer throughput. The interface is optional -
// pass nil (or the no-op implementation) to run without collection.
type SFTMetrics interface {
	// RecordRequest records a completed protocol request with its command
	// name, duration, and outcome ("ok", "fail", "reject", "unauth").
	RecordRequest(command string, duration time.Duration, outcome string)

	// RecordBytesTransferred records transfer payload bytes by direction
	// ("upload" or "download").
	RecordBytesTransferred(direction string, bytes int64)

	// RecordTransfer records a finished transfer task by direction and
	// outcome ("ok" or "error").
	RecordTransfer(direction string, outcome string)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// SetActiveSessions updates the current logged-in session count.
	SetActiveSessions(count int32)

	// ConnectionAccepted increments the accepted-connection counter.
	ConnectionAccepted()

	// ConnectionClosed increments the closed-connection counter.
	ConnectionClosed()
}

// noopSFTMetrics discards everything.
type noopSFTMetrics struct{}

// NewNoopSFTMetrics returns an SFTMetrics that collects nothing.
func NewNoopSFTMetrics() SFTMetrics {
	return &noopSFTMetrics{}
}

func (noopSFTMetrics) RecordRequest(string, time.Duration, string) {}
func (noopSFTMetrics) RecordBytesTransferred(string, int64)        {}
func (noopSFTMetrics) RecordTransfer(string, string)               {}
func (noopSFTMetrics) SetActiveConnections(int32)                  {}
func (noopSFTMetrics) SetActiveSessions(int32)                     {}
func (noopSFTMetrics) ConnectionAccepted()                         {}
func (noopSFTMetrics) ConnectionClosed()                           {}
