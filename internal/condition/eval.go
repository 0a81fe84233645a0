package condition

import (
	"fmt"
	"strings"
	"time"

	"argent/internal/state"
)

// Env is the input to evaluation.
type Env struct {
	Snap *state.Snapshot
	Now  time.Time
}

// Expr is a compiled condition. Eval is pure and total.
type Expr interface {
	Eval(env Env) bool
	String() string
}

// Op is a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var opNames = map[string]Op{
	"==": OpEq, "=": OpEq, "eq": OpEq,
	"!=": OpNe, "ne": OpNe,
	"<": OpLt, "lt": OpLt,
	"<=": OpLe, "lte": OpLe,
	">": OpGt, "gt": OpGt,
	">=": OpGe, "gte": OpGe,
}

func parseOp(s string) (Op, bool) {
	op, ok := opNames[strings.ToLower(strings.TrimSpace(s))]
	return op, ok
}

func (o Op) String() string {
	return [...]string{"==", "!=", "<", "<=", ">", ">="}[o]
}

// Compare applies the operator.
func (o Op) Compare(a, b float64) bool {
	switch o {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}

type getter func(env Env) (float64, bool)
type eventTime func(s *state.Snapshot) time.Time

// stageStart is when the agent entered its current stage. Agents never
// transitioned count from game start, or from creation before that.
func stageStart(s *state.Snapshot, agent string) time.Time {
	if ls, ok := s.Lifecycle[agent]; ok && !ls.EnteredAt.IsZero() {
		return ls.EnteredAt
	}
	if !s.Player.GameStartedAt.IsZero() {
		return s.Player.GameStartedAt
	}
	return s.Player.CreatedAt
}

func agentGetter(kind, agent string) getter {
	switch kind {
	case "trust":
		return func(env Env) (float64, bool) { return float64(env.Snap.TrustScore(agent)), true }
	case "interactions":
		return func(env Env) (float64, bool) { return float64(env.Snap.Trust[agent].Interactions), true }
	case "messages":
		return func(env Env) (float64, bool) { return float64(env.Snap.Engagement.MessageCounts[agent]), true }
	default: // days_in_state
		return func(env Env) (float64, bool) {
			start := stageStart(env.Snap, agent)
			if start.IsZero() {
				return 0, false
			}
			return env.Now.Sub(start).Hours() / 24, true
		}
	}
}

func scalarGetter(name string) getter {
	switch name {
	case "exposure":
		return func(env Env) (float64, bool) { return float64(env.Snap.World.Exposure), true }
	case "knowledge_count":
		return func(env Env) (float64, bool) { return float64(len(env.Snap.Knowledge)), true }
	case "milestone_count":
		return func(env Env) (float64, bool) { return float64(len(env.Snap.Milestones)), true }
	default: // attempts
		return func(env Env) (float64, bool) { return float64(env.Snap.Engagement.Attempts), true }
	}
}

type constExpr bool

func (c constExpr) Eval(Env) bool  { return bool(c) }
func (c constExpr) String() string { return fmt.Sprint(bool(c)) }

type allExpr []Expr

func (a allExpr) Eval(env Env) bool {
	for _, e := range a {
		if !e.Eval(env) {
			return false
		}
	}
	return true
}

func (a allExpr) String() string { return join("all", a) }

type anyExpr []Expr

func (a anyExpr) Eval(env Env) bool {
	for _, e := range a {
		if e.Eval(env) {
			return true
		}
	}
	return false
}

func (a anyExpr) String() string { return join("any", a) }

func join(name string, kids []Expr) string {
	parts := make([]string, len(kids))
	for i, k := range kids {
		parts[i] = k.String()
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

type notExpr struct{ inner Expr }

func (n notExpr) Eval(env Env) bool { return !n.inner.Eval(env) }
func (n notExpr) String() string    { return "not(" + n.inner.String() + ")" }

// cmpExpr compares a field with a constant. A field with no value (agent
// trust never recorded, no stage start) makes the comparison false.
type cmpExpr struct {
	field  string
	op     Op
	get    getter
	target float64
}

func (c cmpExpr) Eval(env Env) bool {
	v, ok := c.get(env)
	return ok && c.op.Compare(v, c.target)
}

func (c cmpExpr) String() string { return fmt.Sprintf("%s %s %g", c.field, c.op, c.target) }

type milestoneExpr string

func (m milestoneExpr) Eval(env Env) bool { return env.Snap.HasMilestone(string(m)) }
func (m milestoneExpr) String() string    { return "milestone(" + string(m) + ")" }

type spawnedExpr string

func (s spawnedExpr) Eval(env Env) bool { return env.Snap.SpawnSatisfied(string(s)) }
func (s spawnedExpr) String() string    { return "spawned(" + string(s) + ")" }

type deadlineExpr string

func (d deadlineExpr) Eval(env Env) bool { return env.Snap.DeadlinePassed(string(d)) }
func (d deadlineExpr) String() string    { return "deadline(" + string(d) + ")" }

type firedExpr string

func (f firedExpr) Eval(env Env) bool { return env.Snap.HasFired(string(f)) }
func (f firedExpr) String() string    { return "fired(" + string(f) + ")" }

type knowledgeExpr string

func (k knowledgeExpr) Eval(env Env) bool {
	for _, f := range env.Snap.Knowledge {
		if strings.Contains(strings.ToLower(f.Text), string(k)) {
			return true
		}
	}
	return false
}

func (k knowledgeExpr) String() string { return fmt.Sprintf("knowledge_contains(%q)", string(k)) }

// timeSinceExpr is false while the event has not happened.
type timeSinceExpr struct {
	event string
	at    eventTime
	op    Op
	d     time.Duration
}

func (t timeSinceExpr) Eval(env Env) bool {
	at := t.at(env.Snap)
	if at.IsZero() {
		return false
	}
	return t.op.Compare(float64(env.Now.Sub(at)), float64(t.d))
}

func (t timeSinceExpr) String() string {
	return fmt.Sprintf("time_since(%s) %s %s", t.event, t.op, t.d)
}
