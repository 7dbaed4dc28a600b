package queue

import (
	"time"

	"github.com/jengu/pricing-core/internal/bus"
)

// ProgressReporter lets a running job publish throttled progress updates
// onto the shared bus, keyed by job_id (spec.md §6.1's streaming
// endpoint). 100% completion always bypasses the throttle so the final
// update is never swallowed.
type ProgressReporter struct {
	bus         *bus.Bus
	jobID       string
	lastReport  time.Time
	minInterval time.Duration
}

// NewProgressReporter creates a reporter throttled to at most one update
// per minInterval (default 100ms if zero).
func NewProgressReporter(b *bus.Bus, jobID string, minInterval time.Duration) *ProgressReporter {
	if minInterval <= 0 {
		minInterval = 100 * time.Millisecond
	}
	return &ProgressReporter{bus: b, jobID: jobID, minInterval: minInterval}
}

// Report publishes current/total progress, throttled unless current==total.
func (pr *ProgressReporter) Report(current, total int, message string) {
	pr.ReportWithDetails(current, total, message, nil)
}

// ReportWithDetails publishes progress with arbitrary structured details.
func (pr *ProgressReporter) ReportWithDetails(current, total int, message string, details map[string]interface{}) {
	if pr.bus == nil {
		return
	}
	now := time.Now()
	if now.Sub(pr.lastReport) < pr.minInterval && current != total {
		return
	}
	pr.lastReport = now

	progress := 0
	if total > 0 {
		progress = current * 100 / total
	}

	pr.bus.Publish(bus.Event{
		JobID:     pr.jobID,
		Type:      bus.EventProgress,
		Progress:  progress,
		Message:   message,
		Details:   details,
		Timestamp: now,
	})
}

// Completed publishes the terminal success event, bypassing throttle.
func (pr *ProgressReporter) Completed(message string) {
	if pr.bus == nil {
		return
	}
	pr.bus.Publish(bus.Event{JobID: pr.jobID, Type: bus.EventCompleted, Progress: 100, Message: message, Timestamp: time.Now()})
}

// Failed publishes the terminal failure event, bypassing throttle.
func (pr *ProgressReporter) Failed(errMsg string) {
	if pr.bus == nil {
		return
	}
	pr.bus.Publish(bus.Event{JobID: pr.jobID, Type: bus.EventFailed, Error: errMsg, Timestamp: time.Now()})
}
