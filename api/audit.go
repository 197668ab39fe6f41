package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies a security-relevant action.
type AuditEvent string

const (
	AuditRegister            AuditEvent = "register"
	AuditRegisterFailure     AuditEvent = "register_failure"
	AuditRegisterRateLimited AuditEvent = "register_rate_limited"
	AuditLoginSuccess        AuditEvent = "login_success"
	AuditLoginFailure        AuditEvent = "login_failure"
	AuditLoginRateLimited    AuditEvent = "login_rate_limited"
	AuditLogout              AuditEvent = "logout"
)

// auditLogger writes audit records through slog and feeds them to the
// metrics collector and the optional webhook.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
	// clientIP resolves the caller's address. Without it only RemoteAddr is
	// used.
	clientIP func(*http.Request) string
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{logger: logger.With("component", "audit")}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	now := time.Now().UTC()
	ip := extractClientIPWithProxies(r, nil)
	if al.clientIP != nil {
		ip = al.clientIP(r)
	}
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("client_ip", ip),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now.Format(time.RFC3339)),
	}
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", append(base, attrs...)...)
	al.metrics.recordEvent(event)

	if al.webhook != nil {
		evt := webhookEvent{
			Event:      string(event),
			ClientIP:   ip,
			RemoteAddr: r.RemoteAddr,
			Timestamp:  now.Format(time.RFC3339),
		}
		for _, a := range attrs {
			if a.Key == "username" {
				evt.Username = a.Value.String()
				continue
			}
			if evt.Attrs == nil {
				evt.Attrs = make(map[string]string, len(attrs))
			}
			evt.Attrs[a.Key] = a.Value.String()
		}
		al.webhook.enqueue(evt)
	}
}

// logUser records an event about a known username.
func (al *auditLogger) logUser(event AuditEvent, r *http.Request, username string, extra ...slog.Attr) {
	al.log(event, r, append([]slog.Attr{slog.String("username", username)}, extra...)...)
}

// logFailure records a failed or refused attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	al.log(event, r, append([]slog.Attr{slog.String("reason", reason)}, extra...)...)
}
