package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EventAdmitted()                               {}
func (n *NoopSink) EventRejected(reason string)                  {}
func (n *NoopSink) EnqueueError()                                {}
func (n *NoopSink) ReportServedHTTP(status int)                  {}
func (n *NoopSink) JobProcessed(outcome string, d time.Duration) {}
func (n *NoopSink) JobsInFlightIncr()                            {}
func (n *NoopSink) JobsInFlightDecr()                            {}
func (n *NoopSink) DequeueError()                                {}
func (n *NoopSink) QueueDepth(state string, depth int64)         {}
func (n *NoopSink) JobsRequeued(count int)                       {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)            {}
func (n *NoopSink) ReportServed(duration time.Duration)          {}
