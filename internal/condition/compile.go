package condition

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"argent/internal/faults"
	"argent/internal/state"
)

// Compiler turns Specs into Exprs. Source and ID label every validation
// error; Agents, when non-nil, restricts agent references to known ids.
type Compiler struct {
	Source string
	ID     string
	Agents map[string]bool
}

// Compile validates spec and returns its expression tree. All problems are
// reported together as faults.ValidationErrors.
func (c Compiler) Compile(spec *Spec, path string) (Expr, error) {
	if path == "" {
		path = "condition"
	}
	var errs faults.ValidationErrors
	expr := c.compile(spec, path, &errs)
	if err := errs.ErrOrNil(); err != nil {
		return nil, err
	}
	return expr, nil
}

// Compile compiles spec without agent checks.
func Compile(spec *Spec) (Expr, error) {
	return Compiler{Source: "condition"}.Compile(spec, "")
}

func (c Compiler) fail(errs *faults.ValidationErrors, path, format string, args ...any) Expr {
	*errs = append(*errs, faults.Validationf(c.Source, c.ID, path, format, args...))
	return constExpr(false)
}

func (c Compiler) compile(s *Spec, path string, errs *faults.ValidationErrors) Expr {
	if s == nil {
		return c.fail(errs, path, "empty condition")
	}
	switch n := s.members(); {
	case n == 0:
		return c.fail(errs, path, "empty condition")
	case n > 1:
		return c.fail(errs, path, "node mixes %d condition kinds; wrap them in all/any", n)
	}

	switch {
	case s.All != nil:
		return c.compileList(s.All, path+".all", errs, true)
	case s.Any != nil:
		return c.compileList(s.Any, path+".any", errs, false)
	case s.Not != nil:
		return notExpr{c.compile(s.Not, path+".not", errs)}
	case s.Field != "":
		return c.compileField(s, path, errs)
	case s.Milestone != "":
		return milestoneExpr(s.Milestone)
	case s.TimeSince != nil:
		return c.compileTimeSince(s.TimeSince, path+".time_since", errs)
	case s.KnowledgeContains != "":
		return knowledgeExpr(strings.ToLower(s.KnowledgeContains))
	case s.Spawned != "":
		return spawnedExpr(s.Spawned)
	case s.Deadline != "":
		return deadlineExpr(s.Deadline)
	case s.Fired != "":
		return firedExpr(s.Fired)
	default:
		return constExpr(true)
	}
}

func (c Compiler) compileList(specs []Spec, path string, errs *faults.ValidationErrors, conj bool) Expr {
	if len(specs) == 0 {
		return c.fail(errs, path, "needs at least one operand")
	}
	kids := make([]Expr, len(specs))
	for i := range specs {
		kids[i] = c.compile(&specs[i], fmt.Sprintf("%s[%d]", path, i), errs)
	}
	if conj {
		return allExpr(kids)
	}
	return anyExpr(kids)
}

func (c Compiler) checkAgent(id, path string, errs *faults.ValidationErrors) bool {
	if id == "" {
		c.fail(errs, path, "missing agent id")
		return false
	}
	if c.Agents != nil && !c.Agents[id] {
		c.fail(errs, path, "unknown agent %q", id)
		return false
	}
	return true
}

// compileField resolves a dotted field name into a typed getter. Lifecycle
// stages and engagement tiers compare by their forward rank, so
// "lifecycle.miro >= cooling" reads as "cooling or later".
func (c Compiler) compileField(s *Spec, path string, errs *faults.ValidationErrors) Expr {
	op, ok := parseOp(s.Op)
	if !ok {
		return c.fail(errs, path+".op", "unknown operator %q", s.Op)
	}
	parts := strings.Split(s.Field, ".")
	fpath := path + ".field"

	number := func() (float64, bool) {
		v, ok := toFloat(s.Value)
		if !ok {
			c.fail(errs, path+".value", "field %s needs a numeric value, got %v", s.Field, s.Value)
		}
		return v, ok
	}
	arity := func(n int) bool {
		if len(parts) != n {
			c.fail(errs, fpath, "field %q takes %d part(s)", s.Field, n)
			return false
		}
		return true
	}

	var get getter
	var target float64
	switch parts[0] {
	case "trust", "interactions", "days_in_state", "messages":
		if !arity(2) || !c.checkAgent(parts[1], fpath, errs) {
			return constExpr(false)
		}
		get = agentGetter(parts[0], parts[1])
	case "agent_trust":
		if !arity(3) || !c.checkAgent(parts[1], fpath, errs) || !c.checkAgent(parts[2], fpath, errs) {
			return constExpr(false)
		}
		from, to := parts[1], parts[2]
		get = func(env Env) (float64, bool) {
			v, ok := env.Snap.AgentTrustIn(from, to)
			return float64(v), ok
		}
	case "exposure", "knowledge_count", "milestone_count", "attempts":
		if !arity(1) {
			return constExpr(false)
		}
		get = scalarGetter(parts[0])
	case "lifecycle":
		if !arity(2) || !c.checkAgent(parts[1], fpath, errs) {
			return constExpr(false)
		}
		name, _ := s.Value.(string)
		stage := state.Stage(strings.ToLower(name))
		if !stage.Valid() {
			return c.fail(errs, path+".value", "unknown lifecycle stage %v", s.Value)
		}
		agent := parts[1]
		get = func(env Env) (float64, bool) { return float64(env.Snap.Stage(agent).Rank()), true }
		return cmpExpr{field: s.Field, op: op, get: get, target: float64(stage.Rank())}
	case "engagement":
		if !arity(1) {
			return constExpr(false)
		}
		name, _ := s.Value.(string)
		tier := state.Tier(strings.ToLower(name))
		if !tier.Valid() {
			return c.fail(errs, path+".value", "unknown engagement tier %v", s.Value)
		}
		get = func(env Env) (float64, bool) { return float64(env.Snap.Engagement.Tier.Rank()), true }
		return cmpExpr{field: s.Field, op: op, get: get, target: float64(tier.Rank())}
	default:
		return c.fail(errs, fpath, "unknown field %q", s.Field)
	}

	v, ok := number()
	if !ok {
		return constExpr(false)
	}
	target = v
	return cmpExpr{field: s.Field, op: op, get: get, target: target}
}

func (c Compiler) compileTimeSince(ts *TimeSinceSpec, path string, errs *faults.ValidationErrors) Expr {
	op, ok := parseOp(ts.Op)
	if !ok {
		return c.fail(errs, path+".op", "unknown operator %q", ts.Op)
	}
	d, err := ParseDuration(ts.Duration)
	if err != nil {
		return c.fail(errs, path+".duration", "%v", err)
	}
	ev, err := c.parseEvent(ts.Event, path+".event", errs)
	if err != nil {
		return constExpr(false)
	}
	return timeSinceExpr{event: ts.Event, at: ev, op: op, d: d}
}

func (c Compiler) parseEvent(name, path string, errs *faults.ValidationErrors) (eventTime, error) {
	kind, arg, _ := strings.Cut(name, ":")
	switch kind {
	case "game_start":
		return func(s *state.Snapshot) time.Time { return s.Player.GameStartedAt }, nil
	case "created":
		return func(s *state.Snapshot) time.Time { return s.Player.CreatedAt }, nil
	case "last_inbound":
		return func(s *state.Snapshot) time.Time { return s.Engagement.LastInbound }, nil
	case "last_outbound":
		return func(s *state.Snapshot) time.Time { return s.Engagement.LastOutbound }, nil
	case "milestone":
		if arg != "" {
			return func(s *state.Snapshot) time.Time { return s.Milestones[arg].ReachedAt }, nil
		}
	case "trigger":
		if arg != "" {
			return func(s *state.Snapshot) time.Time { return s.Firings[arg].FiredAt }, nil
		}
	case "spawn":
		if arg != "" {
			return func(s *state.Snapshot) time.Time { return s.World.Spawns[arg] }, nil
		}
	case "lifecycle":
		if !c.checkAgent(arg, path, errs) {
			return nil, fmt.Errorf("bad agent")
		}
		return func(s *state.Snapshot) time.Time { return s.Lifecycle[arg].EnteredAt }, nil
	}
	c.fail(errs, path, "unknown event %q", name)
	return nil, fmt.Errorf("unknown event")
}

// ParseDuration accepts Go durations plus a day suffix ("3d", "1.5d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil || days < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
