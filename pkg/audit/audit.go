// Package audit provides the append-only trail of strategy attempts and
// safety-gate decisions. Records are written once and never read back by the
// engine; external persistence consumes them.
package audit

import "time"

type RecordKind string

const (
	KindAttempt RecordKind = "attempt"
	KindGate    RecordKind = "gate"
)

// Record is one audit entry: either a strategy attempt for a step or a
// safety-gate decision.
type Record struct {
	Kind          RecordKind `json:"kind"`
	PlanID        string     `json:"plan_id,omitempty"`
	StepID        string     `json:"step_id,omitempty"`
	StrategyUsed  string     `json:"strategy_used,omitempty"`
	Status        string     `json:"status,omitempty"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	Gate          string     `json:"gate,omitempty"`
	Decision      string     `json:"decision,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	ScreenshotRef string     `json:"screenshot_ref,omitempty"`
	TimestampMs   int64      `json:"timestamp_ms"`
}

// Stamp fills the timestamp if the caller has not.
func (r Record) Stamp() Record {
	if r.TimestampMs == 0 {
		r.TimestampMs = time.Now().UnixMilli()
	}
	return r
}

// Recorder is an append-only audit sink.
type Recorder interface {
	Append(rec Record) error
	Close() error
}

// Multi fans records out to several recorders.
type Multi []Recorder

func (m Multi) Append(rec Record) error {
	var firstErr error
	for _, r := range m {
		if err := r.Append(rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) Close() error {
	var firstErr error
	for _, r := range m {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
