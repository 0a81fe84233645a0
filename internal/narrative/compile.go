package narrative

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"argent/internal/action"
	"argent/internal/assembler"
	"argent/internal/claims"
	"argent/internal/condition"
	"argent/internal/engagement"
	"argent/internal/exposure"
	"argent/internal/faults"
	"argent/internal/lifecycle"
	"argent/internal/logging"
	"argent/internal/sharing"
	"argent/internal/state"
)

// Load reads and compiles a narrative file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read narrative: %w", err)
	}
	return Parse(data)
}

// Parse decodes and compiles a narrative document.
func Parse(data []byte) (*Model, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, faults.Validationf("narrative", "", "", "decode: %v", err)
	}
	return Compile(&doc)
}

// compiler carries the error list through one compilation.
type compiler struct {
	errs   faults.ValidationErrors
	agents map[string]bool
	events map[string]bool
}

func (c *compiler) failf(source, id, path, format string, args ...any) {
	c.errs = append(c.errs, faults.Validationf(source, id, path, format, args...))
}

func (c *compiler) cond(source, id, path string, spec *condition.Spec) condition.Expr {
	if spec == nil {
		c.failf(source, id, path, "condition is required")
		return nil
	}
	expr, err := condition.Compiler{Source: source, ID: id, Agents: c.agents}.Compile(spec, path)
	if err != nil {
		var list faults.ValidationErrors
		if errors.As(err, &list) {
			c.errs = append(c.errs, list...)
		} else {
			c.errs = append(c.errs, err)
		}
		return nil
	}
	return expr
}

func (c *compiler) delay(source, id, path string, d DelayDoc) action.DelayRange {
	var out action.DelayRange
	var err error
	if d.Min != "" {
		if out.Min, err = condition.ParseDuration(d.Min); err != nil {
			c.failf(source, id, path+".min", "%v", err)
		}
	}
	if d.Max != "" {
		if out.Max, err = condition.ParseDuration(d.Max); err != nil {
			c.failf(source, id, path+".max", "%v", err)
		}
	} else {
		out.Max = out.Min
	}
	if out.Max < out.Min {
		c.failf(source, id, path, "max %s is below min %s", out.Max, out.Min)
	}
	return out
}

func (c *compiler) agent(source, id, path, ref string) bool {
	if ref == "" {
		c.failf(source, id, path, "agent is required")
		return false
	}
	if !c.agents[ref] {
		c.failf(source, id, path, "unknown agent %q", ref)
		return false
	}
	return true
}

func (c *compiler) stage(source, id, path, name string) (state.Stage, bool) {
	st := state.Stage(name)
	if !st.Valid() || st == state.StageEngaged {
		c.failf(source, id, path, "%q is not a stage an agent can enter", name)
		return "", false
	}
	return st, true
}

// Compile validates doc and builds the Model. Every problem is reported in
// one faults.ValidationErrors.
func Compile(doc *Document) (*Model, error) {
	c := &compiler{agents: make(map[string]bool), events: make(map[string]bool)}
	m := &Model{agents: make(map[string]int)}
	if len(doc.Agents) == 0 {
		c.failf("narrative", "", "agents", "at least one agent is required")
	}

	// agents first: every other section refers to them
	for i, a := range doc.Agents {
		path := fmt.Sprintf("agents[%d]", i)
		switch {
		case a.ID == "":
			c.failf("agent", "", path+".id", "id is required")
			continue
		case c.agents[a.ID]:
			c.failf("agent", a.ID, path+".id", "duplicate agent id")
			continue
		}
		c.agents[a.ID] = true
	}

	var (
		policies   []lifecycle.Policy
		shares     []sharing.Policy
		eventTypes = make(map[string]bool)
	)
	for _, e := range doc.Exposure {
		switch {
		case e.Type == "":
			c.failf("exposure_event", "", "type", "type is required")
		case eventTypes[e.Type]:
			c.failf("exposure_event", e.Type, "type", "duplicate event type")
		case e.Cap < 0:
			c.failf("exposure_event", e.Type, "cap", "cap must not be negative")
		default:
			eventTypes[e.Type] = true
		}
	}

	for i, a := range doc.Agents {
		if a.ID == "" {
			continue
		}
		if _, dup := m.agents[a.ID]; dup {
			continue
		}
		path := fmt.Sprintf("agents[%d]", i)
		if a.Channel == "" {
			c.failf("agent", a.ID, path+".channel", "channel is required")
		}
		name := a.Name
		if name == "" {
			name = a.ID
		}
		m.agents[a.ID] = len(m.Agents)
		m.Agents = append(m.Agents, Agent{
			Profile: assembler.Profile{
				ID: a.ID, Name: name, Persona: a.Persona, Background: a.Background, Voice: a.Voice,
			},
			Channel:    a.Channel,
			Goal:       a.Goal,
			ReplyDelay: c.delay("agent", a.ID, path+".reply_delay", a.ReplyDelay),
		})

		policies = append(policies, c.lifecycle(a, path+".lifecycle"))
		if a.Sharing != nil {
			shares = append(shares, c.sharing(a.ID, path+".sharing", a.Sharing))
		}
		for j, r := range a.ClaimRules {
			rpath := fmt.Sprintf("%s.claim_rules[%d]", path, j)
			re, err := regexp.Compile(r.Pattern)
			if err != nil || r.Pattern == "" {
				c.failf("claim_rule", a.ID, rpath+".pattern", "invalid pattern %q: %v", r.Pattern, err)
				continue
			}
			m.ClaimRules = append(m.ClaimRules, claims.Rule{AgentID: a.ID, Pattern: re, Truth: r.Truth, Subject: r.Subject})
		}
	}

	for i, t := range doc.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)
		if t.ID == "" {
			c.failf("trigger", "", path+".id", "id is required")
			continue
		}
		if _, dup := m.Trigger(t.ID); dup {
			c.failf("trigger", t.ID, path+".id", "duplicate trigger id")
			continue
		}
		tr := Trigger{
			Trigger: condition.Trigger{ID: t.ID, Priority: t.Priority, When: c.cond("trigger", t.ID, path+".when", t.When)},
			Effects: c.effects("trigger", t.ID, path+".effects", t.Effects, eventTypes),
		}
		if t.Action != nil {
			tr.Action = c.template("trigger", t.ID, path+".action", t.Action)
		}
		if tr.Effects.Empty() && tr.Action == nil {
			c.failf("trigger", t.ID, path, "trigger has neither effects nor an action")
		}
		m.Triggers = append(m.Triggers, tr)
	}

	m.StoryEvents = c.storyEvents(doc.StoryEvents, eventTypes)

	var spawns []exposure.Spawn
	seenSpawn := make(map[string]bool)
	for i, s := range doc.Spawns {
		path := fmt.Sprintf("spawns[%d]", i)
		if s.ID == "" || seenSpawn[s.ID] {
			c.failf("spawn", s.ID, path+".id", "missing or duplicate spawn id")
			continue
		}
		seenSpawn[s.ID] = true
		c.agent("spawn", s.ID, path+".agent", s.Agent)
		spawns = append(spawns, exposure.Spawn{
			ID: s.ID, AgentID: s.Agent, Channel: s.Channel, Intent: s.Intent,
			When:  c.cond("spawn", s.ID, path+".when", s.When),
			Delay: c.delay("spawn", s.ID, path+".delay", s.Delay),
		})
	}
	var events []exposure.Event
	for _, e := range doc.Exposure {
		events = append(events, exposure.Event{Type: e.Type, Delta: e.Delta, Cap: e.Cap})
	}

	for i, in := range doc.Introductions {
		path := fmt.Sprintf("introductions[%d]", i)
		intro := c.introduction("introduction", path, in)
		intro.When = c.cond("introduction", in.A+"/"+in.B, path+".when", in.When)
		m.Introductions = append(m.Introductions, intro)
	}

	for i, cf := range doc.Conflicts {
		path := fmt.Sprintf("conflicts[%d]", i)
		if cf.Subject == "" || cf.With == "" {
			c.failf("conflict", cf.Agent, path, "subject and with are required")
			continue
		}
		if cf.Agent != "" {
			c.agent("conflict", cf.Agent, path+".agent", cf.Agent)
		}
		m.Conflicts = append(m.Conflicts, claims.Conflict{AgentID: cf.Agent, Subject: cf.Subject, With: cf.With})
	}

	for i, cat := range doc.Categories {
		if cat.Name == "" || len(cat.Keywords) == 0 {
			c.failf("knowledge_category", cat.Name, fmt.Sprintf("knowledge_categories[%d]", i), "name and keywords are required")
			continue
		}
		m.Categories = append(m.Categories, Category{Name: cat.Name, Keywords: cat.Keywords})
	}

	m.Engagement = c.engagement(doc.Engagement, eventTypes)

	if err := c.errs.ErrOrNil(); err != nil {
		return nil, err
	}
	m.Lifecycle = lifecycle.NewMachine(policies)
	m.Exposure = exposure.NewEvaluator(events, spawns)
	m.Sharing = sharing.NewEvaluator(shares, m.Introductions)
	logging.Boot("narrative compiled: %d agents, %d triggers, %d story events, %d spawns",
		len(m.Agents), len(m.Triggers), len(m.StoryEvents), len(spawns))
	return m, nil
}

func (c *compiler) lifecycle(a AgentDoc, path string) lifecycle.Policy {
	p := lifecycle.Policy{
		AgentID:     a.ID,
		Channel:     a.Channel,
		Guards:      make(map[state.Stage]condition.Expr),
		Modifiers:   make(map[state.Stage]state.Modifiers),
		Signals:     make(map[state.Stage]string),
		SignalDelay: c.delay("agent", a.ID, path+".signal_delay", a.Lifecycle.SignalDelay),
	}
	for _, name := range sortedKeys(a.Lifecycle.Guards) {
		spec := a.Lifecycle.Guards[name]
		st, ok := c.stage("agent", a.ID, path+".guards."+name, name)
		if !ok {
			continue
		}
		if expr := c.cond("agent", a.ID, path+".guards."+name, &spec); expr != nil {
			p.Guards[st] = expr
		}
	}
	for _, name := range sortedKeys(a.Lifecycle.Modifiers) {
		st := state.Stage(name)
		if !st.Valid() {
			c.failf("agent", a.ID, path+".modifiers."+name, "unknown stage %q", name)
			continue
		}
		mods := a.Lifecycle.Modifiers[name].Over(lifecycle.DefaultModifiers[st])
		if err := mods.Validate(); err != nil {
			c.failf("agent", a.ID, path+".modifiers."+name, "%v", err)
			continue
		}
		p.Modifiers[st] = mods
	}
	for _, name := range sortedKeys(a.Lifecycle.Signals) {
		st, ok := c.stage("agent", a.ID, path+".signals."+name, name)
		if !ok {
			continue
		}
		if st == state.StageGone {
			c.failf("agent", a.ID, path+".signals.gone", "the gone transition sends no signal")
			continue
		}
		p.Signals[st] = a.Lifecycle.Signals[name]
	}
	return p
}

func (c *compiler) sharing(agentID, path string, s *SharingDoc) sharing.Policy {
	p := sharing.Policy{
		AgentID:         agentID,
		AlwaysShares:    s.AlwaysShares,
		AlwaysWithholds: s.AlwaysWithholds,
		TradesFor:       s.TradesFor,
		ShareThreshold:  sharing.DefaultShareThreshold,
		TradeThreshold:  sharing.DefaultTradeThreshold,
		BaseTrust:       s.BaseTrust,
	}
	if s.ShareThreshold != nil {
		p.ShareThreshold = *s.ShareThreshold
	}
	if s.TradeThreshold != nil {
		p.TradeThreshold = *s.TradeThreshold
	}
	for _, other := range sortedKeys(s.BaseTrust) {
		c.agent("agent", agentID, path+".base_trust."+other, other)
	}
	if s.Leak != nil {
		p.Leak = &sharing.Leak{Delay: c.delay("agent", agentID, path+".leak.delay", s.Leak.Delay), Intent: s.Leak.Intent}
	}
	return p
}

func (c *compiler) template(source, id, path string, a *ActionDoc) *Template {
	if !c.agent(source, id, path+".agent", a.Agent) {
		return nil
	}
	if a.Intent == "" {
		c.failf(source, id, path+".intent", "intent is required")
	}
	return &Template{
		AgentID:   a.Agent,
		Channel:   a.Channel,
		Intent:    a.Intent,
		Delay:     c.delay(source, id, path+".delay", a.Delay),
		Mandatory: a.Mandatory,
	}
}

func (c *compiler) introduction(source, path string, in IntroductionDoc) sharing.Introduction {
	id := in.A + "/" + in.B
	okA := c.agent(source, id, path+".a", in.A)
	okB := c.agent(source, id, path+".b", in.B)
	if okA && okB && in.A == in.B {
		c.failf(source, id, path, "an agent cannot be introduced to itself")
	}
	return sharing.Introduction{A: in.A, B: in.B, Reason: in.Reason}
}

func (c *compiler) effects(source, id, path string, e EffectsDoc, eventTypes map[string]bool) Effects {
	var out Effects
	for i, t := range e.Trust {
		p := fmt.Sprintf("%s.trust[%d]", path, i)
		if !c.agent(source, id, p+".agent", t.Agent) {
			continue
		}
		if t.Delta < -200 || t.Delta > 200 {
			c.failf(source, id, p+".delta", "delta %d is out of range", t.Delta)
			continue
		}
		out.Trust = append(out.Trust, TrustEffect{AgentID: t.Agent, Delta: t.Delta, Reason: t.Reason})
	}
	for i, k := range e.Knowledge {
		p := fmt.Sprintf("%s.knowledge[%d]", path, i)
		if k.Text == "" {
			c.failf(source, id, p+".text", "text is required")
			continue
		}
		if k.Agent != "" {
			c.agent(source, id, p+".agent", k.Agent)
		}
		out.Knowledge = append(out.Knowledge, state.KnowledgeFact{Text: k.Text, Category: k.Category, SourceAgent: k.Agent})
	}
	out.Milestones = e.Milestones
	out.Deadlines = e.Deadlines
	for i, t := range e.Exposure {
		if !eventTypes[t] {
			c.failf(source, id, fmt.Sprintf("%s.exposure_events[%d]", path, i), "unknown exposure event %q", t)
			continue
		}
		out.Exposure = append(out.Exposure, t)
	}
	if h := e.HandOff; h != nil {
		inh := state.Inheritance(h.Inheritance)
		if inh == "" {
			inh = state.InheritFull
		}
		switch {
		case h.Channel == "":
			c.failf(source, id, path+".handoff.channel", "channel is required")
		case !inh.Valid():
			c.failf(source, id, path+".handoff.inheritance", "unknown inheritance %q", h.Inheritance)
		case c.agent(source, id, path+".handoff.to", h.To):
			out.HandOff = &state.HandOffChannel{Channel: h.Channel, To: h.To, Inheritance: inh}
		}
	}
	for i, mod := range e.Modifiers {
		p := fmt.Sprintf("%s.modifiers[%d]", path, i)
		if !c.agent(source, id, p+".agent", mod.Agent) {
			continue
		}
		mods := mod.Modifiers.Over(state.Modifiers{ResponseProbability: 1, DelayMultiplier: 1})
		if err := mods.Validate(); err != nil {
			c.failf(source, id, p, "%v", err)
			continue
		}
		out.Modifiers = append(out.Modifiers, state.SetModifiers{AgentID: mod.Agent, Modifiers: mods})
	}
	if e.Introduce != nil {
		intro := c.introduction(source, path+".introduce", *e.Introduce)
		out.Introduce = &intro
	}
	return out
}

func (c *compiler) storyEvents(docs []StoryEventDoc, eventTypes map[string]bool) []StoryEvent {
	for _, e := range docs {
		if e.ID != "" {
			c.events[e.ID] = true
		}
	}
	var out []StoryEvent
	seen := make(map[string]bool)
	for i, e := range docs {
		path := fmt.Sprintf("story_events[%d]", i)
		if e.ID == "" || seen[e.ID] {
			c.failf("story_event", e.ID, path+".id", "missing or duplicate story event id")
			continue
		}
		seen[e.ID] = true
		ev := StoryEvent{
			ID:      e.ID,
			Kind:    EventKind(e.Trigger),
			After:   e.After,
			On:      e.On,
			Delay:   c.delay("story_event", e.ID, path+".delay", e.Delay),
			Effects: c.effects("story_event", e.ID, path+".effects", e.Effects, eventTypes),
		}
		switch ev.Kind {
		case EventGameStart:
		case EventAfter:
			if !c.events[e.After] || e.After == e.ID {
				c.failf("story_event", e.ID, path+".after", "unknown preceding event %q", e.After)
			}
		case EventPlayerAction:
			if !eventTypes[e.On] {
				c.failf("story_event", e.ID, path+".on", "unknown player action %q", e.On)
			}
		default:
			c.failf("story_event", e.ID, path+".trigger", "unknown trigger %q", e.Trigger)
		}
		if e.Action != nil {
			ev.Action = c.template("story_event", e.ID, path+".action", e.Action)
		}
		out = append(out, ev)
	}

	// an "after" chain that loops back on itself never starts
	after := make(map[string]string)
	for _, e := range out {
		if e.Kind == EventAfter {
			after[e.ID] = e.After
		}
	}
	for _, e := range out {
		cur, steps := e.ID, 0
		for {
			next, ok := after[cur]
			if !ok {
				break
			}
			if steps++; steps > len(after) {
				c.failf("story_event", e.ID, "after", "story events form a cycle")
				break
			}
			cur = next
		}
	}
	return out
}

func (c *compiler) engagement(doc *EngagementDoc, eventTypes map[string]bool) engagement.Policy {
	p := engagement.DefaultPolicy()
	if doc == nil {
		return p
	}
	tier := func(path, name string) (state.Tier, bool) {
		t := state.Tier(name)
		if !t.Valid() {
			c.failf("engagement", "", path, "unknown tier %q", name)
			return "", false
		}
		return t, true
	}

	if len(doc.Thresholds) > 0 {
		th := make(map[state.Tier]time.Duration, len(engagement.DefaultThresholds))
		for t, d := range engagement.DefaultThresholds {
			th[t] = d
		}
		for _, name := range sortedKeys(doc.Thresholds) {
			t, ok := tier("thresholds."+name, name)
			if !ok {
				continue
			}
			if t == state.TierActive {
				c.failf("engagement", "", "thresholds.active", "active has no threshold")
				continue
			}
			d, err := condition.ParseDuration(doc.Thresholds[name])
			if err != nil {
				c.failf("engagement", "", "thresholds."+name, "%v", err)
				continue
			}
			th[t] = d
		}
		for i := 2; i < len(state.Tiers); i++ {
			if th[state.Tiers[i]] <= th[state.Tiers[i-1]] {
				c.failf("engagement", "", "thresholds", "%s must come after %s", state.Tiers[i], state.Tiers[i-1])
			}
		}
		p.Thresholds = th
	}

	if len(doc.Pacing) > 0 {
		pacing := make(map[state.Tier]float64, len(engagement.DefaultPacing))
		for t, f := range engagement.DefaultPacing {
			pacing[t] = f
		}
		for _, name := range sortedKeys(doc.Pacing) {
			if t, ok := tier("pacing."+name, name); ok {
				if doc.Pacing[name] < 1 {
					c.failf("engagement", "", "pacing."+name, "pacing below 1 would speed contact up")
					continue
				}
				pacing[t] = doc.Pacing[name]
			}
		}
		p.Pacing = pacing
	}

	if len(doc.Reengage) > 0 {
		re := make(map[state.Tier]engagement.Reengage)
		for _, name := range sortedKeys(doc.Reengage) {
			t, ok := tier("reengage."+name, name)
			if !ok {
				continue
			}
			r := doc.Reengage[name]
			if r.Agent != "" {
				c.agent("engagement", name, "reengage."+name+".agent", r.Agent)
			}
			re[t] = engagement.Reengage{
				AgentID: r.Agent, Channel: r.Channel, Intent: r.Intent,
				Delay: c.delay("engagement", name, "reengage."+name+".delay", r.Delay),
			}
		}
		p.Reengage = re
	}

	if len(doc.ExposureEvents) > 0 {
		ev := make(map[state.Tier]string)
		for _, name := range sortedKeys(doc.ExposureEvents) {
			t, ok := tier("exposure_events."+name, name)
			if !ok {
				continue
			}
			if !eventTypes[doc.ExposureEvents[name]] {
				c.failf("engagement", name, "exposure_events."+name, "unknown exposure event %q", doc.ExposureEvents[name])
				continue
			}
			ev[t] = doc.ExposureEvents[name]
		}
		p.ExposureEvents = ev
	}
	return p
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
