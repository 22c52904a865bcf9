package tunnel

import (
	"log/slog"

	"github.com/txn2/tunnels/pkg/session"
)

// sessionIDKey is the browser-bag key holding the session-id hint.
const sessionIDKey = "session-id"

// resolveSession binds the request to a session record: an existing one
// when the affinity checks pass, a freshly created one otherwise. Either
// way the record's last-accessed step is updated and persisted before
// returning.
func (m *Manager) resolveSession(fl *Flow, step Step) error {
	id := m.sessionHint(fl)

	var record *session.Record
	if id != "" {
		found, err := m.repo.Find(fl.ctx, id)
		if err != nil {
			return err
		}
		if found != nil {
			if reason := m.rejectReason(found, fl.req); reason == "" {
				record = found
			} else {
				// Rejection is not a fault: fall through to a fresh record.
				slog.Debug("tunnel: session rejected",
					"tunnel", m.name,
					"session_id", found.ID,
					"reason", reason,
				)
			}
		}
	}

	if record == nil {
		created, err := m.repo.Create(fl.ctx, fl.req.ClientIP(), fl.req.UserID())
		if err != nil {
			return err
		}
		record = created
		fl.setBrowserVariable(sessionIDKey, record.ID)

		slog.Debug("tunnel: session created",
			"tunnel", m.name,
			"session_id", record.ID,
		)
	}

	fl.record = record
	record.LastStep = step.Position()
	return fl.saveRecord()
}

// sessionHint reads the candidate session id: browser bag first, then the
// explicit request parameter so a shared link can bootstrap a fresh
// browser session.
func (m *Manager) sessionHint(fl *Flow) string {
	if bucket, ok := fl.bag.Get(m.bagKey()); ok {
		if id, ok := bucket[sessionIDKey].(string); ok && id != "" {
			return id
		}
	}
	return fl.req.QueryParam(m.sessionParam)
}

// rejectReason applies the affinity checks to a candidate record. An empty
// string means the candidate is accepted. A session id alone is not enough:
// IP pinning, the fixed age cutoff, and user pinning close replay and
// cross-session sharing for flows as sensitive as payments.
func (m *Manager) rejectReason(r *session.Record, req Request) string {
	switch {
	case r.Status == session.StatusCompleted:
		return "completed"
	case m.now().Sub(r.CreatedAt) >= SessionTTL:
		return "expired"
	case r.ClientIP != req.ClientIP():
		return "client ip mismatch"
	case r.UserID != "" && r.UserID != req.UserID():
		return "user mismatch"
	}
	return ""
}
