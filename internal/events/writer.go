package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended to the journal.
const (
	AccountRegistered = "account.registered"
	AccountApproved   = "account.approved"
	AccountRejected   = "account.rejected"
	APIKeyCreated     = "account.api_key.created"
	CompanyCreated    = "company.created"
	CompanyUpdated    = "company.updated"
	CompanyDeleted    = "company.deleted"
	TaskCreated       = "task.created"
	TaskUpdated       = "task.updated"
	TaskClaimed       = "task.claimed"
	TaskSubmitted     = "task.submitted"
	TaskApproved      = "task.approved"
	XPCredited        = "engineer.xp.credited"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside the caller's transaction so the journal
// commits or rolls back together with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
