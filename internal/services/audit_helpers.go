package services

import (
	"context"
	"strings"

	"github.com/charlesng35/pbxnotify/internal/auditctx"
)

// recordAudit logs the supplied entry while tolerating audit failures.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		if entry.UserID == nil && strings.TrimSpace(actor.Identity) != "" {
			id := actor.Identity
			entry.UserID = &id
		}
		if entry.Username == "" {
			entry.Username = actor.Username
		}
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = actor.UserAgent
		}
	}
	_ = audit.Log(ctx, entry)
}

func actorIdentity(ctx context.Context) string {
	if actor, ok := auditctx.FromContext(ctx); ok {
		return strings.TrimSpace(actor.Identity)
	}
	return ""
}
