// Package assembler builds the bounded, labeled input for one generation
// call.
//
// Four sources each get a fixed share of the total budget: the agent
// definition, structured player state, recent conversation, and memory
// (search results plus the agent's own significant claims). The rest is
// reserved for the instructions section, which holds the new message and
// is never truncated. Sections drop whole items in their priority order
// when over their share; unused budget is then offered to sections that
// still have items, in section order. The bundle total never exceeds the
// budget.
package assembler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"argent/internal/faults"
	"argent/internal/logging"
	"argent/internal/state"
)

// Section names a bundle section.
type Section string

const (
	SectionAgent        Section = "agent"
	SectionState        Section = "state"
	SectionConversation Section = "conversation"
	SectionMemory       Section = "memory"
	SectionInstructions Section = "instructions"
)

// order is the render order; it is also the order in which spare budget
// is handed out.
var order = []Section{SectionAgent, SectionState, SectionMemory, SectionConversation, SectionInstructions}

var labels = map[Section]string{
	SectionAgent:        "Who you are",
	SectionState:        "Where things stand",
	SectionConversation: "Recent conversation",
	SectionMemory:       "What you remember",
	SectionInstructions: "What to do now",
}

// Shares are percentages of the total budget per source section.
type Shares struct {
	Total        int
	Agent        int
	State        int
	Conversation int
	Memory       int
}

// DefaultShares matches the stock configuration.
func DefaultShares() Shares {
	return Shares{Total: 2800, Agent: 20, State: 18, Conversation: 28, Memory: 14}
}

// Item is one indivisible piece of a section.
type Item struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// Block is one labeled section of a bundle.
type Block struct {
	Section Section `json:"section"`
	Label   string  `json:"label"`
	Items   []Item  `json:"items"`
	Tokens  int     `json:"tokens"`
	Dropped int     `json:"dropped"`
}

// Bundle is the ordered, labeled output.
type Bundle struct {
	PlayerID string  `json:"player_id"`
	AgentID  string  `json:"agent_id"`
	Blocks   []Block `json:"blocks"`
	Total    int     `json:"total"`
	Budget   int     `json:"budget"`
}

// Block returns the named section.
func (b Bundle) Block(s Section) Block {
	for _, blk := range b.Blocks {
		if blk.Section == s {
			return blk
		}
	}
	return Block{Section: s, Label: labels[s]}
}

// Render formats the bundle as markdown, one heading per section.
func (b Bundle) Render() string {
	var sb strings.Builder
	for _, blk := range b.Blocks {
		if len(blk.Items) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n", blk.Label)
		for _, it := range blk.Items {
			fmt.Fprintf(&sb, "- %s\n", it.Text)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Profile is the static agent definition.
type Profile struct {
	ID         string
	Name       string
	Persona    []string
	Background string
	Voice      string
}

// Message is one conversation turn.
type Message struct {
	FromPlayer bool
	Text       string
	At         time.Time
}

// Memory is one semantic-memory search hit.
type Memory struct {
	Text  string
	Score float64
}

// Request carries everything one assembly needs.
type Request struct {
	Snap    *state.Snapshot
	Profile Profile
	// Conversation is oldest first.
	Conversation []Message
	Memories     []Memory
	// Claims are the agent's stored claims; they become constraints.
	Claims []state.Claim
	// Constraints are extra negative instructions from a failed attempt.
	Constraints []string
	Intent      string
	Message     string
}

// Assembler builds bundles.
type Assembler struct {
	shares  Shares
	counter *TokenCounter
}

// New returns an assembler.
func New(shares Shares) *Assembler {
	if shares.Total <= 0 {
		shares = DefaultShares()
	}
	return &Assembler{shares: shares, counter: NewTokenCounter()}
}

// Assemble builds a bundle. It fails only when the instructions section
// alone does not fit the total budget.
func (a *Assembler) Assemble(req Request) (Bundle, error) {
	snap := req.Snap
	agentID := req.Profile.ID
	total := a.shares.Total
	bundle := Bundle{PlayerID: snap.PlayerID, AgentID: agentID, Budget: total}

	candidates := map[Section][]string{
		SectionAgent:        agentItems(req.Profile),
		SectionState:        stateItems(snap, agentID),
		SectionConversation: conversationItems(req.Conversation, req.Profile.Name),
		SectionMemory:       memoryItems(req.Claims, req.Memories),
		SectionInstructions: instructionItems(snap, agentID, req),
	}

	need := 0
	for _, s := range candidates[SectionInstructions] {
		need += a.counter.CountItem(s)
	}
	if need > total {
		return bundle, &faults.BudgetExceeded{Section: string(SectionInstructions), Needed: need, Budget: total, Required: true}
	}

	caps := a.caps(total - need)
	caps[SectionInstructions] = need
	budget := NewTokenBudget(total, caps)

	blocks := make(map[Section]*Block, len(order))
	next := make(map[Section]int, len(order))
	fill := func(s Section) {
		blk := blocks[s]
		items := candidates[s]
		for next[s] < len(items) {
			n := a.counter.CountItem(items[next[s]])
			if !budget.Allocate(s, n) {
				break
			}
			blk.Items = append(blk.Items, Item{Text: items[next[s]], Tokens: n})
			blk.Tokens += n
			next[s]++
		}
	}

	for _, s := range order {
		blocks[s] = &Block{Section: s, Label: labels[s]}
		fill(s)
	}
	// hand spare budget to sections that stopped early
	for _, s := range order {
		if next[s] < len(candidates[s]) && budget.Available() > 0 {
			budget.Open(s)
			fill(s)
		}
	}

	audit := logging.Audit(snap.PlayerID)
	for _, s := range order {
		blk := blocks[s]
		blk.Dropped = len(candidates[s]) - next[s]
		if s == SectionConversation {
			reverse(blk.Items)
		}
		if blk.Dropped > 0 {
			logging.ContextDebug("player %s agent %s: %s dropped %d item(s)", snap.PlayerID, agentID, s, blk.Dropped)
			if s == SectionAgent || s == SectionState {
				audit.BudgetExceeded(agentID, string(s), blk.Dropped)
			}
		}
		bundle.Blocks = append(bundle.Blocks, *blk)
		bundle.Total += blk.Tokens
	}
	return bundle, nil
}

// caps splits room across the four source sections by share, scaling down
// when the instructions eat into their combined share.
func (a *Assembler) caps(room int) map[Section]int {
	sh := a.shares
	want := map[Section]int{
		SectionAgent:        sh.Total * sh.Agent / 100,
		SectionState:        sh.Total * sh.State / 100,
		SectionConversation: sh.Total * sh.Conversation / 100,
		SectionMemory:       sh.Total * sh.Memory / 100,
	}
	sum := 0
	for _, v := range want {
		sum += v
	}
	if sum > room && sum > 0 {
		for s, v := range want {
			want[s] = v * room / sum
		}
	}
	return want
}

func reverse(items []Item) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

// =============================================================================
// SECTION BUILDERS
// =============================================================================
// Each builder returns items in priority order: the first item is the last
// to be dropped.

func agentItems(p Profile) []string {
	var out []string
	name := p.Name
	if name == "" {
		name = p.ID
	}
	out = append(out, "You are "+name+".")
	if len(p.Persona) > 0 {
		out = append(out, "Personality: "+strings.Join(p.Persona, ", ")+".")
	}
	if p.Voice != "" {
		out = append(out, "Voice: "+p.Voice)
	}
	if p.Background != "" {
		out = append(out, "Background: "+strings.TrimSpace(p.Background))
	}
	return out
}

// TrustBand describes a trust score in words.
func TrustBand(score int) string {
	switch {
	case score >= 60:
		return "high"
	case score >= 30:
		return "moderate"
	case score >= 0:
		return "neutral"
	case score >= -30:
		return "low"
	default:
		return "very low"
	}
}

// ConversationStage describes how far along a conversation is.
func ConversationStage(messages int) string {
	switch {
	case messages == 0:
		return "first contact"
	case messages < 5:
		return "early"
	case messages < 15:
		return "developing"
	default:
		return "ongoing"
	}
}

var categoryPriority = map[string]int{"key": 0, "agent": 1, "dashboard": 2}

func stateItems(snap *state.Snapshot, agentID string) []string {
	score := snap.TrustScore(agentID)
	out := []string{fmt.Sprintf("Your trust in the player: %d (%s).", score, TrustBand(score))}

	if ls, ok := snap.LifecycleOf(agentID); ok {
		line := fmt.Sprintf("Your stance: %s", ls.Stage)
		if ls.Modifiers.Tone != "" {
			line += ", tone " + ls.Modifiers.Tone
		}
		out = append(out, line+".")
	}
	n := snap.Engagement.MessageCounts[agentID]
	out = append(out, fmt.Sprintf("Conversation so far: %s (%d messages).", ConversationStage(n), n))
	out = append(out, fmt.Sprintf("Exposure: %d/100.", snap.World.Exposure))

	events := snap.TrustEventsFor(agentID)
	if len(events) > 5 {
		events = events[:5]
	}
	for _, e := range events {
		out = append(out, fmt.Sprintf("Recently: %s (%+d).", e.Reason, e.Delta))
	}

	for _, f := range dedupeFacts(snap.Knowledge) {
		out = append(out, "The player knows: "+f.Text)
	}
	for _, f := range dedupeFacts(learned(snap, agentID)) {
		src := f.SourceAgent
		if src == "" {
			src = "someone"
		}
		out = append(out, fmt.Sprintf("You heard from %s: %s", src, f.Text))
	}
	return out
}

// learned returns facts the agent picked up from other agents.
func learned(snap *state.Snapshot, agentID string) []state.KnowledgeFact {
	var out []state.KnowledgeFact
	for _, f := range snap.AvailableKnowledge(agentID) {
		if f.SourceAgent != agentID {
			out = append(out, f)
		}
	}
	return out
}

// dedupeFacts drops case-insensitive duplicates and orders by category
// priority, newest first.
func dedupeFacts(facts []state.KnowledgeFact) []state.KnowledgeFact {
	seen := make(map[string]bool, len(facts))
	var out []state.KnowledgeFact
	for i := len(facts) - 1; i >= 0; i-- {
		key := strings.ToLower(strings.TrimSpace(facts[i].Text))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, facts[i])
	}
	rank := func(c string) int {
		if r, ok := categoryPriority[c]; ok {
			return r
		}
		return len(categoryPriority)
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i].Category) < rank(out[j].Category) })
	return out
}

// conversationItems returns turns newest first.
func conversationItems(msgs []Message, agentName string) []string {
	if agentName == "" {
		agentName = "You"
	}
	out := make([]string, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		who := agentName
		if msgs[i].FromPlayer {
			who = "Player"
		}
		out = append(out, who+": "+msgs[i].Text)
	}
	return out
}

func memoryItems(claims []state.Claim, mems []Memory) []string {
	cs := append([]state.Claim(nil), claims...)
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Significance.Rank() > cs[j].Significance.Rank() })
	var out []string
	for _, c := range cs {
		out = append(out, "Stay consistent with what you said: "+c.Text)
	}
	ms := append([]Memory(nil), mems...)
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Score > ms[j].Score })
	for _, m := range ms {
		out = append(out, "Memory: "+m.Text)
	}
	return out
}

func instructionItems(snap *state.Snapshot, agentID string, req Request) []string {
	var out []string
	if req.Intent != "" {
		out = append(out, "Goal for this message: "+req.Intent)
	}
	if ls, ok := snap.LifecycleOf(agentID); ok && ls.Modifiers.Tone != "" {
		out = append(out, "Keep the tone "+ls.Modifiers.Tone+".")
	}
	out = append(out, req.Constraints...)
	if req.Message != "" {
		out = append(out, "The player just wrote: "+req.Message)
	}
	return out
}
