package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// AuditInput describes an administrative action for the operational audit
// stream. This is the log-line counterpart of the database audit trail: the
// database rows are authoritative, these events feed log pipelines.
type AuditInput struct {
	EventName   string
	ActorUserID string
	TargetType  string
	TargetID    string
	Action      string
	Outcome     string
	Reason      string
}

func EmitAudit(r *http.Request, input AuditInput, extra ...any) {
	args := []any{
		"event", input.EventName,
		"actor_user_id", input.ActorUserID,
		"target_type", input.TargetType,
		"target_id", input.TargetID,
		"action", input.Action,
		"outcome", input.Outcome,
		"reason", input.Reason,
	}
	if r != nil {
		if id := chimiddleware.GetReqID(r.Context()); id != "" {
			args = append(args, "request_id", id)
		}
		args = append(args, "remote_ip", r.RemoteAddr)
	}
	args = append(args, extra...)
	if r != nil {
		slog.InfoContext(r.Context(), "audit", args...)
		return
	}
	slog.Info("audit", args...)
}
