// Package faults classifies and records exceptional conditions, keeps a
// bounded history of recent errors, and announces them on the event bus.
package faults

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediaverse/hub/internal/bus"
)

// Kind categorises an error. The set is closed.
type Kind string

const (
	KindDatabase       Kind = "DATABASE"
	KindNetwork        Kind = "NETWORK"
	KindFileIO         Kind = "FILE_IO"
	KindValidation     Kind = "VALIDATION"
	KindAuthentication Kind = "AUTHENTICATION"
	KindPlatformAPI    Kind = "PLATFORM_API"
	KindConfiguration  Kind = "CONFIGURATION"
	KindUnknown        Kind = "UNKNOWN"
)

// Severity grades how urgent an error is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Record is one classified error occurrence.
type Record struct {
	ID         string
	Kind       Kind
	Severity   Severity
	Message    string
	Context    map[string]any
	OccurredAt time.Time
	Resolved   bool
	Suggestion string
}

// RecoveryHook attempts to repair the condition behind a record.
// A nil return means the condition is considered resolved.
type RecoveryHook func(*Record) error

// historySize bounds the rolling record history.
const historySize = 1000

// Orchestrator is the process-wide error handler. All methods are safe
// for concurrent use.
type Orchestrator struct {
	mu      sync.Mutex
	seq     atomic.Int64
	history []*Record
	hooks   map[Kind]RecoveryHook

	bus    *bus.Bus
	logger *slog.Logger
}

// New creates an Orchestrator publishing on b.
func New(b *bus.Bus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		hooks:  make(map[Kind]RecoveryHook),
		bus:    b,
		logger: logger,
	}
}

// Handle classifies err, assigns the next error id, appends the record
// to the rolling history, logs it, and publishes error/occurred (or
// error/critical for CRITICAL severity).
func (o *Orchestrator) Handle(err error, kind Kind, severity Severity, context map[string]any) *Record {
	rec := &Record{
		ID:         fmt.Sprintf("ERR-%06d", o.seq.Add(1)),
		Kind:       kind,
		Severity:   severity,
		Message:    errMessage(err),
		Context:    context,
		OccurredAt: time.Now(),
		Suggestion: suggestionFor(kind),
	}

	o.mu.Lock()
	o.history = append(o.history, rec)
	if len(o.history) > historySize {
		n := copy(o.history, o.history[len(o.history)-historySize:])
		o.history = o.history[:n]
	}
	o.mu.Unlock()

	o.log(rec)

	topic := "error/occurred"
	if severity == SeverityCritical {
		topic = "error/critical"
	}
	if o.bus != nil {
		_ = o.bus.Publish(topic, map[string]any{
			"error_id": rec.ID,
			"kind":     string(kind),
			"severity": string(severity),
			"message":  rec.Message,
		}, "faults")
	}
	return rec
}

// RegisterRecoveryHook installs the hook for a kind, replacing any
// previous hook.
func (o *Orchestrator) RegisterRecoveryHook(kind Kind, hook RecoveryHook) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hooks[kind] = hook
}

// AttemptRecovery runs the hook registered for the record's kind. On
// success the record is flipped to resolved and error/resolved is
// published. Returns false when no hook exists or the hook fails.
func (o *Orchestrator) AttemptRecovery(rec *Record) bool {
	o.mu.Lock()
	hook := o.hooks[rec.Kind]
	o.mu.Unlock()

	if hook == nil {
		return false
	}
	if err := hook(rec); err != nil {
		o.logger.Warn("recovery failed", "error_id", rec.ID, "kind", string(rec.Kind), "err", err)
		return false
	}

	o.mu.Lock()
	rec.Resolved = true
	o.mu.Unlock()

	if o.bus != nil {
		_ = o.bus.Publish("error/resolved", map[string]any{
			"error_id": rec.ID,
			"kind":     string(rec.Kind),
		}, "faults")
	}
	return true
}

// History returns up to limit recent records, optionally filtered by
// kind (empty kind matches all). Oldest first; limit <= 0 means no cap.
func (o *Orchestrator) History(kind Kind, limit int) []*Record {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*Record, 0, len(o.history))
	for _, r := range o.history {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Stats returns occurrence counts per kind.
func (o *Orchestrator) Stats() map[Kind]int {
	o.mu.Lock()
	defer o.mu.Unlock()

	counts := make(map[Kind]int)
	for _, r := range o.history {
		counts[r.Kind]++
	}
	return counts
}

func (o *Orchestrator) log(rec *Record) {
	args := []any{
		"error_id", rec.ID,
		"kind", string(rec.Kind),
		"severity", string(rec.Severity),
	}
	switch rec.Severity {
	case SeverityLow:
		o.logger.Info(rec.Message, args...)
	case SeverityMedium:
		o.logger.Warn(rec.Message, args...)
	default:
		o.logger.Error(rec.Message, args...)
	}
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func suggestionFor(kind Kind) string {
	switch kind {
	case KindDatabase:
		return "check database file permissions and disk space"
	case KindNetwork:
		return "check connectivity and retry"
	case KindFileIO:
		return "verify the path exists and is readable"
	case KindValidation:
		return "inspect the rejected input"
	case KindAuthentication:
		return "refresh platform credentials"
	case KindPlatformAPI:
		return "check platform status and API quota"
	case KindConfiguration:
		return "review the configuration file"
	default:
		return "inspect the log context"
	}
}
