package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Lifecycle event types emitted by the engine. Collaborators (webhooks,
// CLI log tail) fan these out; emission itself is a synchronous in-tx
// append, never an async loop.
const (
	SpecAdded         = "spec.added"
	MaturityUpdated   = "maturity.updated"
	WorkflowImported  = "workflow.imported"
	ApprovalRequested = "workflow.approval.requested"
	ApprovalExpired   = "workflow.approval.expired"
	WorkflowApproved  = "workflow.approved"
	WorkflowRejected  = "workflow.rejected"
	NodeEntered       = "workflow.node.entered"
	NodeCompleted     = "workflow.node.completed"
	WorkflowCompleted = "workflow.completed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
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
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
