package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoPlayer is returned when a delta targets a player that was never
	// initialized.
	ErrNoPlayer = errors.New("player not initialized")
	// ErrBackwardTransition is returned for a lifecycle move to an earlier stage.
	ErrBackwardTransition = errors.New("lifecycle transitions are forward-only")
	// ErrTerminalStage is returned for any transition out of gone.
	ErrTerminalStage = errors.New("agent is gone")
	// ErrNotFound is returned when a delta references a missing record.
	ErrNotFound = errors.New("referenced record not found")
	// ErrInvalidDelta is returned for deltas with out-of-range values.
	ErrInvalidDelta = errors.New("invalid delta")
)

// Kind identifies a delta type. Its rank fixes the application order inside
// one batch: trust, knowledge, milestones, lifecycle, exposure, engagement,
// then bookkeeping.
type Kind string

const (
	KindInitPlayer    Kind = "init_player"
	KindStartGame     Kind = "start_game"
	KindInitTrust     Kind = "init_trust"
	KindTrust         Kind = "trust"
	KindAgentTrust    Kind = "agent_trust"
	KindKnowledge     Kind = "knowledge"
	KindMilestone     Kind = "milestone"
	KindClaim         Kind = "claim"
	KindContradiction Kind = "contradiction"
	KindLifecycle     Kind = "lifecycle"
	KindModifiers     Kind = "modifiers"
	KindExposure      Kind = "exposure"
	KindSpawn         Kind = "spawn"
	KindDeadline      Kind = "deadline"
	KindInbound       Kind = "inbound"
	KindOutbound      Kind = "outbound"
	KindEngagement    Kind = "engagement"
	KindChannel       Kind = "channel"
	KindAwareness     Kind = "awareness"
	KindExchange      Kind = "exchange"
	KindSurface       Kind = "surface"
	KindFiring        Kind = "firing"
	KindEdge          Kind = "edge"
)

var kindRank = map[Kind]int{
	KindInitPlayer: 0, KindStartGame: 1,
	KindInitTrust: 10, KindTrust: 11, KindAgentTrust: 12,
	KindKnowledge: 20,
	KindMilestone: 30, KindClaim: 31, KindContradiction: 32,
	KindLifecycle: 40, KindModifiers: 41,
	KindExposure: 50, KindSpawn: 51, KindDeadline: 52,
	KindInbound: 60, KindOutbound: 61, KindEngagement: 62,
	KindChannel: 70, KindAwareness: 71, KindExchange: 72, KindSurface: 73,
	KindFiring: 80, KindEdge: 81,
}

// Rank returns the application order of k.
func (k Kind) Rank() int {
	if r, ok := kindRank[k]; ok {
		return r
	}
	return 1 << 10
}

// Delta is a proposed change to one player's aggregate. The set is closed:
// only this package can implement it.
type Delta interface {
	Kind() Kind
	apply(s *Snapshot, now time.Time) error
}

// Encode serializes a delta for the journal.
func Encode(d Delta) ([]byte, error) {
	return json.Marshal(struct {
		Kind Kind  `json:"kind"`
		Data Delta `json:"data"`
	}{d.Kind(), d})
}

func requirePlayer(s *Snapshot) error {
	if !s.Exists() {
		return ErrNoPlayer
	}
	return nil
}

func ts(at, now time.Time) time.Time {
	if at.IsZero() {
		return now
	}
	return at
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// =============================================================================
// PLAYER
// =============================================================================

// InitPlayer creates the player. Re-initializing is a no-op.
type InitPlayer struct {
	PlayerID string    `json:"player_id"`
	At       time.Time `json:"at"`
}

func (InitPlayer) Kind() Kind { return KindInitPlayer }

func (d InitPlayer) apply(s *Snapshot, now time.Time) error {
	if s.Exists() {
		return nil
	}
	if d.PlayerID == "" || (s.PlayerID != "" && d.PlayerID != s.PlayerID) {
		return fmt.Errorf("%w: player id %q", ErrInvalidDelta, d.PlayerID)
	}
	s.PlayerID = d.PlayerID
	s.Player = Player{ID: d.PlayerID, CreatedAt: ts(d.At, now)}
	if s.Engagement.Tier == "" {
		s.Engagement.Tier = TierActive
		s.Engagement.TierEnteredAt = ts(d.At, now)
	}
	return nil
}

// StartGame sets the game-start time once.
type StartGame struct {
	At time.Time `json:"at"`
}

func (StartGame) Kind() Kind { return KindStartGame }

func (d StartGame) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if s.Player.GameStartedAt.IsZero() {
		s.Player.GameStartedAt = ts(d.At, now)
	}
	return nil
}

// =============================================================================
// TRUST
// =============================================================================

// InitTrust creates a trust record at 0 if none exists.
type InitTrust struct {
	AgentID string `json:"agent_id"`
}

func (InitTrust) Kind() Kind { return KindInitTrust }

func (d InitTrust) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if _, ok := s.Trust[d.AgentID]; ok {
		return nil
	}
	if s.Trust == nil {
		s.Trust = make(map[string]TrustRecord)
	}
	s.Trust[d.AgentID] = TrustRecord{}
	return nil
}

// AdjustTrust moves a trust score by Delta, clamped to [-100,100], and logs
// a TrustEvent. A zero delta changes nothing.
type AdjustTrust struct {
	EventID   string    `json:"event_id"`
	AgentID   string    `json:"agent_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	MessageID string    `json:"message_id,omitempty"`
	At        time.Time `json:"at"`
}

// Trust builds an AdjustTrust with a fresh event id.
func Trust(agentID string, delta int, reason, messageID string) AdjustTrust {
	return AdjustTrust{EventID: uuid.NewString(), AgentID: agentID, Delta: delta, Reason: reason, MessageID: messageID}
}

func (AdjustTrust) Kind() Kind { return KindTrust }

func (d AdjustTrust) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if d.AgentID == "" {
		return fmt.Errorf("%w: trust delta without agent", ErrInvalidDelta)
	}
	if d.Delta == 0 {
		return nil
	}
	at := ts(d.At, now)
	if s.Trust == nil {
		s.Trust = make(map[string]TrustRecord)
	}
	rec := s.Trust[d.AgentID]
	rec.Score = clamp(rec.Score+d.Delta, TrustMin, TrustMax)
	rec.Interactions++
	rec.LastInteraction = at
	s.Trust[d.AgentID] = rec

	id := d.EventID
	if id == "" {
		id = uuid.NewString()
	}
	s.TrustEvents = append(s.TrustEvents, TrustEvent{
		ID: id, AgentID: d.AgentID, Delta: d.Delta, Reason: d.Reason, MessageID: d.MessageID, At: at,
	})
	return nil
}

// AdjustAgentTrust moves one agent's trust in another. Base seeds the value
// when no record exists yet.
type AdjustAgentTrust struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Delta int    `json:"delta"`
	Base  int    `json:"base"`
}

func (AdjustAgentTrust) Kind() Kind { return KindAgentTrust }

func (d AdjustAgentTrust) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	key := AgentTrustKey(d.From, d.To)
	cur, ok := s.AgentTrust[key]
	if !ok {
		cur = d.Base
	}
	if s.AgentTrust == nil {
		s.AgentTrust = make(map[string]int)
	}
	s.AgentTrust[key] = clamp(cur+d.Delta, TrustMin, TrustMax)
	return nil
}

// =============================================================================
// KNOWLEDGE + MILESTONES + CLAIMS
// =============================================================================

// AddKnowledge appends a fact. The store never deduplicates.
type AddKnowledge struct {
	Fact KnowledgeFact `json:"fact"`
}

// Knowledge builds an AddKnowledge with a fresh fact id.
func Knowledge(text, category, sourceAgent string) AddKnowledge {
	return AddKnowledge{Fact: KnowledgeFact{ID: uuid.NewString(), Text: text, Category: category, SourceAgent: sourceAgent}}
}

func (AddKnowledge) Kind() Kind { return KindKnowledge }

func (d AddKnowledge) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if d.Fact.Text == "" {
		return fmt.Errorf("%w: empty knowledge fact", ErrInvalidDelta)
	}
	f := d.Fact
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.At = ts(f.At, now)
	s.Knowledge = append(s.Knowledge, f)
	return nil
}

// ReachMilestone records a milestone. Reaching it twice is a no-op.
type ReachMilestone struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
	At       time.Time         `json:"at"`
}

func (ReachMilestone) Kind() Kind { return KindMilestone }

func (d ReachMilestone) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if d.ID == "" {
		return fmt.Errorf("%w: milestone without id", ErrInvalidDelta)
	}
	if s.HasMilestone(d.ID) {
		return nil
	}
	if s.Milestones == nil {
		s.Milestones = make(map[string]Milestone)
	}
	s.Milestones[d.ID] = Milestone{ID: d.ID, ReachedAt: ts(d.At, now), Metadata: d.Metadata}
	return nil
}

// RecordClaim stores a claim. A claim id seen before is a no-op.
type RecordClaim struct {
	Claim Claim `json:"claim"`
}

func (RecordClaim) Kind() Kind { return KindClaim }

func (d RecordClaim) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	c := d.Claim
	if c.AgentID == "" || c.Text == "" {
		return fmt.Errorf("%w: claim needs agent and text", ErrInvalidDelta)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	} else if _, dup := s.Claim(c.ID); dup {
		return nil
	}
	if c.ContradictedBy != "" {
		if _, ok := s.Claim(c.ContradictedBy); !ok {
			return fmt.Errorf("%w: claim %s", ErrNotFound, c.ContradictedBy)
		}
	}
	c.At = ts(c.At, now)
	s.Claims = append(s.Claims, c)
	return nil
}

// LinkContradiction adds a contradiction link to an existing claim. The
// first link wins; later links are ignored.
type LinkContradiction struct {
	ClaimID        string `json:"claim_id"`
	ContradictedBy string `json:"contradicted_by"`
}

func (LinkContradiction) Kind() Kind { return KindContradiction }

func (d LinkContradiction) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	idx := slices.IndexFunc(s.Claims, func(c Claim) bool { return c.ID == d.ClaimID })
	if idx < 0 {
		return fmt.Errorf("%w: claim %s", ErrNotFound, d.ClaimID)
	}
	if _, ok := s.Claim(d.ContradictedBy); !ok {
		return fmt.Errorf("%w: claim %s", ErrNotFound, d.ContradictedBy)
	}
	if s.Claims[idx].ContradictedBy == "" {
		s.Claims[idx].ContradictedBy = d.ContradictedBy
	}
	return nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// TransitionLifecycle moves an agent forward. Proposing the current stage
// again is a no-op; proposing an earlier stage aborts the batch.
type TransitionLifecycle struct {
	AgentID   string    `json:"agent_id"`
	To        Stage     `json:"to"`
	Reason    string    `json:"reason"`
	Modifiers Modifiers `json:"modifiers"`
	At        time.Time `json:"at"`
}

func (TransitionLifecycle) Kind() Kind { return KindLifecycle }

func (d TransitionLifecycle) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if !d.To.Valid() {
		return fmt.Errorf("%w: stage %q", ErrInvalidDelta, d.To)
	}
	if err := d.Modifiers.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDelta, err)
	}
	cur := s.Stage(d.AgentID)
	_, exists := s.Lifecycle[d.AgentID]
	switch {
	case d.To == cur && exists:
		return nil
	case cur == StageGone:
		return fmt.Errorf("%w: %s", ErrTerminalStage, d.AgentID)
	case d.To.Rank() < cur.Rank():
		return fmt.Errorf("%w: %s %s -> %s", ErrBackwardTransition, d.AgentID, cur, d.To)
	}
	if s.Lifecycle == nil {
		s.Lifecycle = make(map[string]LifecycleState)
	}
	s.Lifecycle[d.AgentID] = LifecycleState{Stage: d.To, Reason: d.Reason, EnteredAt: ts(d.At, now), Modifiers: d.Modifiers}
	return nil
}

// SetModifiers changes the behavioral modifiers of the current stage without
// changing the stage. Ignored once the agent is gone.
type SetModifiers struct {
	AgentID   string    `json:"agent_id"`
	Modifiers Modifiers `json:"modifiers"`
}

func (SetModifiers) Kind() Kind { return KindModifiers }

func (d SetModifiers) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if err := d.Modifiers.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDelta, err)
	}
	ls, ok := s.Lifecycle[d.AgentID]
	if !ok || ls.Stage == StageGone {
		return nil
	}
	ls.Modifiers = d.Modifiers
	s.Lifecycle[d.AgentID] = ls
	return nil
}

// =============================================================================
// EXPOSURE + WORLD
// =============================================================================

// AdjustExposure applies an event's exposure delta. When Cap is positive the
// total magnitude ever applied for EventType is limited to Cap.
type AdjustExposure struct {
	EventType string `json:"event_type"`
	Delta     int    `json:"delta"`
	Cap       int    `json:"cap,omitempty"`
}

func (AdjustExposure) Kind() Kind { return KindExposure }

func (d AdjustExposure) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	delta := d.Delta
	if d.Cap > 0 {
		used := s.World.EventTotals[d.EventType]
		room := d.Cap - used
		if room < 0 {
			room = 0
		}
		mag := delta
		if mag < 0 {
			mag = -mag
		}
		if mag > room {
			mag = room
		}
		if delta < 0 {
			delta = -mag
		} else {
			delta = mag
		}
		if s.World.EventTotals == nil {
			s.World.EventTotals = make(map[string]int)
		}
		s.World.EventTotals[d.EventType] = used + mag
	}
	s.World.Exposure = clamp(s.World.Exposure+delta, ExposureMin, ExposureMax)
	return nil
}

// SatisfySpawn adds a spawn condition to the satisfied set.
type SatisfySpawn struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

func (SatisfySpawn) Kind() Kind { return KindSpawn }

func (d SatisfySpawn) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if s.SpawnSatisfied(d.ID) {
		return nil
	}
	if s.World.Spawns == nil {
		s.World.Spawns = make(map[string]time.Time)
	}
	s.World.Spawns[d.ID] = ts(d.At, now)
	return nil
}

// PassDeadline sets a deadline-passed flag.
type PassDeadline struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

func (PassDeadline) Kind() Kind { return KindDeadline }

func (d PassDeadline) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if s.DeadlinePassed(d.ID) {
		return nil
	}
	if s.World.Deadlines == nil {
		s.World.Deadlines = make(map[string]time.Time)
	}
	s.World.Deadlines[d.ID] = ts(d.At, now)
	return nil
}

// =============================================================================
// ENGAGEMENT
// =============================================================================

// RecordInbound notes a player message. It resets engagement to active.
type RecordInbound struct {
	AgentID   string    `json:"agent_id"`
	MessageID string    `json:"message_id"`
	At        time.Time `json:"at"`
}

func (RecordInbound) Kind() Kind { return KindInbound }

func (d RecordInbound) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	at := ts(d.At, now)
	e := &s.Engagement
	if e.Tier != TierActive {
		e.Tier = TierActive
		e.TierEnteredAt = at
	}
	e.LastInbound = at
	e.Attempts = 0
	if d.AgentID != "" {
		if e.MessageCounts == nil {
			e.MessageCounts = make(map[string]int)
		}
		e.MessageCounts[d.AgentID]++
	}
	return nil
}

// RecordOutbound notes a delivered agent message.
type RecordOutbound struct {
	AgentID string    `json:"agent_id"`
	At      time.Time `json:"at"`
}

func (RecordOutbound) Kind() Kind { return KindOutbound }

func (d RecordOutbound) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	e := &s.Engagement
	e.LastOutbound = ts(d.At, now)
	if d.AgentID != "" {
		if e.MessageCounts == nil {
			e.MessageCounts = make(map[string]int)
		}
		e.MessageCounts[d.AgentID]++
	}
	return nil
}

// AdvanceEngagement moves the tier forward. Anything not strictly forward
// is a no-op, so repeated sweeps cannot double count attempts.
type AdvanceEngagement struct {
	To        Tier      `json:"to"`
	Attempted bool      `json:"attempted"`
	At        time.Time `json:"at"`
}

func (AdvanceEngagement) Kind() Kind { return KindEngagement }

func (d AdvanceEngagement) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if !d.To.Valid() {
		return fmt.Errorf("%w: tier %q", ErrInvalidDelta, d.To)
	}
	if d.To.Rank() <= s.Engagement.Tier.Rank() {
		return nil
	}
	s.Engagement.Tier = d.To
	s.Engagement.TierEnteredAt = ts(d.At, now)
	if d.Attempted {
		s.Engagement.Attempts++
	}
	return nil
}

// =============================================================================
// CHANNELS + SHARING
// =============================================================================

// HandOffChannel gives a channel to a new owner.
type HandOffChannel struct {
	Channel     string      `json:"channel"`
	To          string      `json:"to"`
	Inheritance Inheritance `json:"inheritance"`
	At          time.Time   `json:"at"`
}

func (HandOffChannel) Kind() Kind { return KindChannel }

func (d HandOffChannel) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if d.Channel == "" || d.To == "" || !d.Inheritance.Valid() {
		return fmt.Errorf("%w: hand-off %q to %q (%s)", ErrInvalidDelta, d.Channel, d.To, d.Inheritance)
	}
	cur := s.Channels[d.Channel]
	if cur.Owner == d.To {
		return nil
	}
	next := ChannelOwnership{
		Channel:     d.Channel,
		Owner:       d.To,
		Previous:    slices.Clone(cur.Previous),
		Inheritance: d.Inheritance,
		HandedOffAt: ts(d.At, now),
	}
	if cur.Owner != "" {
		next.Previous = append(next.Previous, cur.Owner)
	}
	if s.Channels == nil {
		s.Channels = make(map[string]ChannelOwnership)
	}
	s.Channels[d.Channel] = next
	return nil
}

// MarkAware records that two agents know of each other.
type MarkAware struct {
	A  string    `json:"a"`
	B  string    `json:"b"`
	At time.Time `json:"at"`
}

func (MarkAware) Kind() Kind { return KindAwareness }

func (d MarkAware) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if d.A == "" || d.B == "" || d.A == d.B {
		return fmt.Errorf("%w: awareness %q/%q", ErrInvalidDelta, d.A, d.B)
	}
	if s.Aware(d.A, d.B) {
		return nil
	}
	if s.Awareness == nil {
		s.Awareness = make(map[string]time.Time)
	}
	s.Awareness[PairKey(d.A, d.B)] = ts(d.At, now)
	return nil
}

// RecordExchange stores an exchange and extends the receiver's available
// knowledge with shared and traded facts.
type RecordExchange struct {
	Exchange InterAgentExchange `json:"exchange"`
}

func (RecordExchange) Kind() Kind { return KindExchange }

func (d RecordExchange) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	x := d.Exchange
	if x.From == "" || x.To == "" || x.From == x.To {
		return fmt.Errorf("%w: exchange %q -> %q", ErrInvalidDelta, x.From, x.To)
	}
	if x.ID == "" {
		x.ID = uuid.NewString()
	}
	for _, e := range s.Exchanges {
		if e.ID == x.ID {
			return nil
		}
	}
	x.At = ts(x.At, now)
	s.Exchanges = append(s.Exchanges, x)

	known := slices.Clone(s.AgentKnowledge[x.To])
	for _, id := range append(slices.Clone(x.Shared), x.Traded...) {
		if !slices.Contains(known, id) {
			known = append(known, id)
		}
	}
	if s.AgentKnowledge == nil {
		s.AgentKnowledge = make(map[string][]string)
	}
	s.AgentKnowledge[x.To] = known
	return nil
}

// SurfaceExchange marks an exchange as revealed to the player.
type SurfaceExchange struct {
	ExchangeID string    `json:"exchange_id"`
	At         time.Time `json:"at"`
}

func (SurfaceExchange) Kind() Kind { return KindSurface }

func (d SurfaceExchange) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	for i := range s.Exchanges {
		if s.Exchanges[i].ID != d.ExchangeID {
			continue
		}
		if !s.Exchanges[i].Surfaced {
			s.Exchanges[i].Surfaced = true
			s.Exchanges[i].SurfacedAt = ts(d.At, now)
		}
		return nil
	}
	return fmt.Errorf("%w: exchange %s", ErrNotFound, d.ExchangeID)
}

// =============================================================================
// TRIGGER BOOKKEEPING
// =============================================================================

// RecordFiring writes a TriggerFiring. A second firing is a no-op.
type RecordFiring struct {
	TriggerID string    `json:"trigger_id"`
	At        time.Time `json:"at"`
}

func (RecordFiring) Kind() Kind { return KindFiring }

func (d RecordFiring) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if s.HasFired(d.TriggerID) {
		return nil
	}
	if s.Firings == nil {
		s.Firings = make(map[string]TriggerFiring)
	}
	s.Firings[d.TriggerID] = TriggerFiring{TriggerID: d.TriggerID, FiredAt: ts(d.At, now)}
	return nil
}

// SetEdge records the latest value of a rising-edge condition.
type SetEdge struct {
	Key   string `json:"key"`
	Value bool   `json:"value"`
}

func (SetEdge) Kind() Kind { return KindEdge }

func (d SetEdge) apply(s *Snapshot, now time.Time) error {
	if err := requirePlayer(s); err != nil {
		return err
	}
	if s.Edges == nil {
		s.Edges = make(map[string]bool)
	}
	if d.Value {
		s.Edges[d.Key] = true
	} else {
		delete(s.Edges, d.Key)
	}
	return nil
}
