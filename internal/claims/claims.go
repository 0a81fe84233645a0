// Package claims keeps agents from contradicting themselves.
//
// Generated text is broken into candidate claims by an Extractor. Only
// claims at or above the significance threshold are checked and stored;
// routine remarks are dropped. A significant claim that reverses a prior
// one (same subject with opposite polarity or a different ground truth) is
// either a blocking violation, which sends the text back for regeneration,
// or, below the blocking significance, stored with a contradiction link.
package claims

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"argent/internal/embedding"
	"argent/internal/faults"
	"argent/internal/logging"
	"argent/internal/state"
)

// Candidate is one claim proposed by an Extractor.
type Candidate struct {
	Text         string             `json:"text"`
	Subject      string             `json:"subject"`
	Negated      bool               `json:"negated"`
	Type         state.ClaimType    `json:"type"`
	Significance state.Significance `json:"significance"`
}

// Extractor pulls candidate claims out of generated text.
type Extractor interface {
	Extract(ctx context.Context, agentID, text string) ([]Candidate, error)
}

// Rule assigns ground truth to an agent's claims whose text matches Pattern.
type Rule struct {
	AgentID string
	Pattern *regexp.Regexp
	Truth   bool
	// Subject, when set, overrides the extractor's subject so paraphrases
	// collapse onto one key.
	Subject string
}

// Conflict declares that claiming Subject contradicts an earlier claim
// about With, whatever the polarity.
type Conflict struct {
	AgentID string // empty applies to every agent
	Subject string
	With    string
}

// Config tunes the tracker.
type Config struct {
	Threshold    state.Significance
	Block        state.Significance
	HistoryLimit int
	// Similarity is the cosine similarity at which two claim texts count
	// as the same statement.
	Similarity float64
}

// Violation pairs a new claim with the prior claim it reverses.
type Violation struct {
	Claim    state.Claim
	Prior    state.Claim
	Blocking bool
	Reason   string
}

// Result is the outcome of checking one generated message.
type Result struct {
	Deltas     []state.Delta
	Recorded   []state.Claim
	Violations []Violation
	Skipped    int // candidates below the threshold
}

// Blocking returns the violations that must stop delivery.
func (r Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Blocking {
			out = append(out, v)
		}
	}
	return out
}

// Tracker checks candidates against an agent's claim history.
type Tracker struct {
	cfg       Config
	engine    embedding.Engine
	rules     map[string][]Rule
	conflicts []Conflict
}

// NewTracker builds a tracker. engine may be nil, in which case only
// subject matching is used.
func NewTracker(cfg Config, engine embedding.Engine, rules []Rule, conflicts []Conflict) *Tracker {
	if cfg.Threshold == "" {
		cfg.Threshold = state.SignificanceMedium
	}
	if cfg.Block == "" {
		cfg.Block = state.SignificanceHigh
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}
	if cfg.Similarity <= 0 {
		cfg.Similarity = 0.88
	}
	byAgent := make(map[string][]Rule)
	for _, r := range rules {
		byAgent[r.AgentID] = append(byAgent[r.AgentID], r)
	}
	return &Tracker{cfg: cfg, engine: engine, rules: byAgent, conflicts: conflicts}
}

// NormalizeSubject folds a subject to its comparison key.
func NormalizeSubject(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// resolve turns a candidate into a claim, applying ground-truth rules.
func (t *Tracker) resolve(agentID string, c Candidate, now time.Time) state.Claim {
	claim := state.Claim{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		Text:         strings.TrimSpace(c.Text),
		Subject:      NormalizeSubject(c.Subject),
		Negated:      c.Negated,
		Type:         c.Type,
		GroundTruth:  true,
		Significance: c.Significance,
		At:           now,
	}
	if !claim.Type.Valid() {
		claim.Type = state.ClaimFact
	}
	for _, r := range t.rules[agentID] {
		if r.Pattern.MatchString(claim.Text) {
			claim.GroundTruth = r.Truth
			if r.Subject != "" {
				claim.Subject = NormalizeSubject(r.Subject)
			}
			break
		}
	}
	if claim.Subject == "" {
		claim.Subject = strings.Join(embedding.Tokens(claim.Text), " ")
	}
	return claim
}

// Check runs candidates through the threshold filter and the history
// comparison. When any violation is blocking the returned error is a
// *faults.ConsistencyViolation and the caller must not apply the deltas.
func (t *Tracker) Check(ctx context.Context, snap *state.Snapshot, agentID string, cands []Candidate, now time.Time) (Result, error) {
	var res Result
	var fresh []state.Claim
	for _, c := range cands {
		sig, err := state.ParseSignificance(string(c.Significance))
		if err != nil || !sig.AtLeast(t.cfg.Threshold) || strings.TrimSpace(c.Text) == "" {
			res.Skipped++
			continue
		}
		c.Significance = sig
		fresh = append(fresh, t.resolve(agentID, c, now))
	}
	if len(fresh) == 0 {
		return res, nil
	}

	// oldest first, bounded to the most recent HistoryLimit claims
	history := snap.ClaimsBy(agentID)
	if len(history) > t.cfg.HistoryLimit {
		history = history[:t.cfg.HistoryLimit]
	}
	slices.Reverse(history)
	sims, err := t.similarities(ctx, fresh, history)
	if err != nil {
		// degrade to subject matching
		logging.ClaimsWarn("semantic matching unavailable for %s: %v", agentID, err)
		sims = nil
	}

	for i, claim := range fresh {
		// earlier claims of this batch count as history too
		pool := append(slices.Clone(history), fresh[:i]...)
		v, found := t.compare(claim, pool, sims, i)
		if found {
			v.Blocking = claim.Significance.AtLeast(t.cfg.Block)
			res.Violations = append(res.Violations, v)
			if v.Blocking {
				continue
			}
		}
		res.Deltas = append(res.Deltas, state.RecordClaim{Claim: claim})
		res.Recorded = append(res.Recorded, claim)
		if found {
			res.Deltas = append(res.Deltas, state.LinkContradiction{ClaimID: claim.ID, ContradictedBy: v.Prior.ID})
		} else if prior, ok := t.declaredConflict(claim, pool); ok {
			res.Deltas = append(res.Deltas, state.LinkContradiction{ClaimID: claim.ID, ContradictedBy: prior.ID})
		}
	}

	logging.ClaimsDebug("agent %s: %d candidates, %d stored, %d violations, %d skipped",
		agentID, len(cands), len(res.Recorded), len(res.Violations), res.Skipped)

	if blocking := res.Blocking(); len(blocking) > 0 {
		cv := &faults.ConsistencyViolation{AgentID: agentID}
		for _, v := range blocking {
			cv.Claims = append(cv.Claims, v.Claim.Text)
			cv.Prior = append(cv.Prior, v.Prior.Text)
		}
		return res, cv
	}
	return res, nil
}

// similarities returns, per fresh claim, its cosine similarity to every
// history claim followed by every fresh claim.
func (t *Tracker) similarities(ctx context.Context, fresh, history []state.Claim) ([][]float64, error) {
	if t.engine == nil {
		return nil, nil
	}
	texts := make([]string, 0, len(history)+len(fresh))
	for _, c := range history {
		texts = append(texts, c.Text)
	}
	for _, c := range fresh {
		texts = append(texts, c.Text)
	}
	vecs, err := embedding.ForContent(t.engine, embedding.ContentTypeClaim, false).EmbedBatch(ctx, texts)
	if err != nil {
		return nil, faults.External("embedding", err)
	}
	out := make([][]float64, len(fresh))
	for i := range fresh {
		q := vecs[len(history)+i]
		out[i] = make([]float64, len(vecs))
		for j, v := range vecs {
			out[i][j], _ = embedding.CosineSimilarity(q, v)
		}
	}
	return out, nil
}

// compare finds the most recent prior claim the candidate reverses.
func (t *Tracker) compare(claim state.Claim, pool []state.Claim, sims [][]float64, i int) (Violation, bool) {
	for j := len(pool) - 1; j >= 0; j-- {
		prior := pool[j]
		same := prior.Subject == claim.Subject
		if !same && sims != nil {
			// pool index maps onto the embedded texts: history first, then batch
			same = sims[i][j] >= t.cfg.Similarity
		}
		if !same {
			continue
		}
		switch {
		case prior.Negated != claim.Negated:
			return Violation{Claim: claim, Prior: prior, Reason: "opposite polarity"}, true
		case prior.GroundTruth != claim.GroundTruth:
			return Violation{Claim: claim, Prior: prior, Reason: "different ground truth"}, true
		}
	}
	return Violation{}, false
}

func (t *Tracker) declaredConflict(claim state.Claim, pool []state.Claim) (state.Claim, bool) {
	for _, c := range t.conflicts {
		if (c.AgentID != "" && c.AgentID != claim.AgentID) || NormalizeSubject(c.Subject) != claim.Subject {
			continue
		}
		with := NormalizeSubject(c.With)
		for j := len(pool) - 1; j >= 0; j-- {
			if pool[j].Subject == with {
				return pool[j], true
			}
		}
	}
	return state.Claim{}, false
}

// NegativeConstraints turns violations into instructions for a
// regeneration attempt.
func NegativeConstraints(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, fmt.Sprintf("Do not claim: %q. You previously said: %q.", v.Claim.Text, v.Prior.Text))
	}
	return out
}

// Recent returns up to n of an agent's claims, most significant first and
// newest first within a significance level.
func Recent(snap *state.Snapshot, agentID string, n int) []state.Claim {
	cs := snap.ClaimsBy(agentID)
	sort.SliceStable(cs, func(i, j int) bool {
		ri, rj := cs[i].Significance.Rank(), cs[j].Significance.Rank()
		if ri != rj {
			return ri > rj
		}
		return cs[i].At.After(cs[j].At)
	})
	if n > 0 && len(cs) > n {
		cs = cs[:n]
	}
	return cs
}
