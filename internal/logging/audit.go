package logging

import (
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names an operator-review event.
type AuditEventType string

const (
	AuditTriggerFired        AuditEventType = "trigger_fired"
	AuditLifecycleTransition AuditEventType = "lifecycle_transition"
	AuditSpawnSatisfied      AuditEventType = "spawn_satisfied"
	AuditExchangeRecorded    AuditEventType = "exchange_recorded"
	AuditConsistencyFlagged  AuditEventType = "consistency_violation"
	AuditDeliverySuppressed  AuditEventType = "delivery_suppressed"
	AuditBudgetExceeded      AuditEventType = "budget_exceeded"
	AuditActionRequeued      AuditEventType = "action_requeued"
	AuditActionSuperseded    AuditEventType = "action_superseded"
)

// AuditEvent is one structured audit entry. Audit entries are always written
// at WARN or INFO under the "audit" logger name so they can be filtered out
// of the regular stream.
type AuditEvent struct {
	Type     AuditEventType
	PlayerID string
	AgentID  string
	Target   string
	Reason   string
	Fields   map[string]interface{}
	At       time.Time
}

// AuditLogger emits audit events for one player.
type AuditLogger struct {
	playerID string
}

// Audit returns an audit logger scoped to a player.
func Audit(playerID string) *AuditLogger {
	return &AuditLogger{playerID: playerID}
}

// Log writes a fully specified event.
func (a *AuditLogger) Log(e AuditEvent) {
	if e.PlayerID == "" {
		e.PlayerID = a.playerID
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("player", e.PlayerID),
		zap.Time("at", e.At),
	}
	if e.AgentID != "" {
		fields = append(fields, zap.String("agent", e.AgentID))
	}
	if e.Target != "" {
		fields = append(fields, zap.String("target", e.Target))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	for k, v := range e.Fields {
		fields = append(fields, zap.Any(k, v))
	}

	z := Root().Named("audit")
	switch e.Type {
	case AuditDeliverySuppressed, AuditConsistencyFlagged, AuditBudgetExceeded, AuditActionRequeued:
		z.Warn("audit", fields...)
	default:
		z.Info("audit", fields...)
	}
}

// TriggerFired records a trigger firing.
func (a *AuditLogger) TriggerFired(triggerID, agentID string) {
	a.Log(AuditEvent{Type: AuditTriggerFired, AgentID: agentID, Target: triggerID})
}

// LifecycleTransition records an agent stage change.
func (a *AuditLogger) LifecycleTransition(agentID, from, to, reason string) {
	a.Log(AuditEvent{
		Type:    AuditLifecycleTransition,
		AgentID: agentID,
		Target:  to,
		Reason:  reason,
		Fields:  map[string]interface{}{"from": from},
	})
}

// SpawnSatisfied records a newly satisfied spawn condition.
func (a *AuditLogger) SpawnSatisfied(spawnID, agentID string) {
	a.Log(AuditEvent{Type: AuditSpawnSatisfied, AgentID: agentID, Target: spawnID})
}

// ExchangeRecorded records an inter-agent exchange.
func (a *AuditLogger) ExchangeRecorded(from, to string, shared, withheld int) {
	a.Log(AuditEvent{
		Type:    AuditExchangeRecorded,
		AgentID: from,
		Target:  to,
		Fields:  map[string]interface{}{"shared": shared, "withheld": withheld},
	})
}

// ConsistencyViolation records a contradiction found before delivery.
func (a *AuditLogger) ConsistencyViolation(agentID string, claims []string, attempt int) {
	a.Log(AuditEvent{
		Type:    AuditConsistencyFlagged,
		AgentID: agentID,
		Fields:  map[string]interface{}{"claims": claims, "attempt": attempt},
	})
}

// DeliverySuppressed records a message withheld for operator review.
func (a *AuditLogger) DeliverySuppressed(agentID, actionID string, claims []string) {
	a.Log(AuditEvent{
		Type:    AuditDeliverySuppressed,
		AgentID: agentID,
		Target:  actionID,
		Reason:  "regeneration budget exhausted",
		Fields:  map[string]interface{}{"claims": claims},
	})
}

// BudgetExceeded records truncation of a high-priority context section.
func (a *AuditLogger) BudgetExceeded(agentID, section string, dropped int) {
	a.Log(AuditEvent{
		Type:    AuditBudgetExceeded,
		AgentID: agentID,
		Target:  section,
		Fields:  map[string]interface{}{"dropped_items": dropped},
	})
}

// ActionRequeued records an action pushed back to the scheduler.
func (a *AuditLogger) ActionRequeued(agentID, actionID string, err error) {
	a.Log(AuditEvent{
		Type:    AuditActionRequeued,
		AgentID: agentID,
		Target:  actionID,
		Reason:  errString(err),
	})
}

// ActionSuperseded records a queued action discarded in favor of a newer one.
func (a *AuditLogger) ActionSuperseded(agentID, actionID, key string) {
	a.Log(AuditEvent{
		Type:    AuditActionSuperseded,
		AgentID: agentID,
		Target:  actionID,
		Fields:  map[string]interface{}{"supersede_key": key},
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
