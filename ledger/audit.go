package ledger

import (
	"context"
	"fmt"
	"io"
	"reflect"

	"github.com/sirupsen/logrus"

	"github.com/warp/backoffice/metrics"
)

// AuditRecorder writes audit entries after the primary unit has committed.
// A failed write is logged and counted, never returned: the business
// operation already happened and must not be reported as failed.
type AuditRecorder struct {
	Log     AuditLog
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// NewAuditRecorder builds a recorder. A nil logger discards warnings.
func NewAuditRecorder(log AuditLog, logger logrus.FieldLogger, m *metrics.Metrics) *AuditRecorder {
	if logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		logger = l
	}
	return &AuditRecorder{Log: log, Logger: logger, Metrics: m}
}

// Record appends entry. Safe on a nil recorder.
func (r *AuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	if r == nil || r.Log == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = Now()
	}
	if entry.Actor == "" {
		entry.Actor = Actor{}.Name()
	}

	if err := r.Log.AppendAudit(ctx, entry); err != nil {
		if r.Logger != nil {
			r.Logger.WithFields(logrus.Fields{
				"module":      "audit",
				"action":      entry.Action,
				"entity_type": entry.EntityType,
				"entity_id":   entry.EntityID,
				"actor":       entry.Actor,
			}).WithError(err).Warn("audit entry dropped")
		}
		r.Metrics.RecordAuditFailure(entry.Action)
	}
}

// Diff returns {"field": {"from": old, "to": new}} for every key whose value
// differs between before and after. Keys missing on one side count as nil.
func Diff(before, after map[string]any) map[string]any {
	changes := make(map[string]any)
	for k, b := range before {
		a, ok := after[k]
		if !ok {
			a = nil
		}
		if !sameValue(b, a) {
			changes[k] = map[string]any{"from": b, "to": a}
		}
	}
	for k, a := range after {
		if _, seen := before[k]; seen {
			continue
		}
		if a != nil {
			changes[k] = map[string]any{"from": nil, "to": a}
		}
	}
	return changes
}

// sameValue compares through String() when available so 1.5 and 1.50
// decimals are equal.
func sameValue(a, b any) bool {
	if sa, ok := a.(fmt.Stringer); ok {
		if sb, ok := b.(fmt.Stringer); ok {
			return sa.String() == sb.String()
		}
	}
	return reflect.DeepEqual(a, b)
}
