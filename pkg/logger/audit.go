package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event. Credential and secret
// material never appears here; context is limited to anonymized attributes.
type AuditEvent struct {
	EventType     string
	FlowID        string
	UserID        string
	SessionID     string
	Method        string
	Provider      string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

func (al *AuditLogger) log(auditType string, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.FlowID != "" {
		attrs = append(attrs, slog.String("flow_id", event.FlowID))
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.Method != "" {
		attrs = append(attrs, slog.String("method", event.Method))
	}
	if event.Provider != "" {
		attrs = append(attrs, slog.String("provider", event.Provider))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogFlowEvent logs authentication flow transitions (start, step advance,
// completion, failure).
func (al *AuditLogger) LogFlowEvent(event AuditEvent) {
	al.log("auth_flow", event)
}

// LogSessionEvent logs session lifecycle events (create, refresh, terminate,
// elevation, IP change).
func (al *AuditLogger) LogSessionEvent(event AuditEvent) {
	al.log("session", event)
}

// LogAnomaly logs a security anomaly flag (new device, multi-country
// activity, refresh-token reuse). Anomalies are advisory; they never block
// the operation that raised them.
func (al *AuditLogger) LogAnomaly(event AuditEvent) {
	event.Success = false
	al.log("anomaly", event)
}

// LogAccountAction logs account-level actions (MFA enrollment, device
// registration, account linking).
func (al *AuditLogger) LogAccountAction(event AuditEvent) {
	al.log("account", event)
}
