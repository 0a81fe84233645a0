package assembler

import (
	"unicode/utf8"

	"argent/internal/logging"
)

// =============================================================================
// Token Counting Utilities
// =============================================================================
// Budget units approximate model tokens at ~4 characters per token. Counts
// round up so a bundle that fits by count also fits in practice.

// TokenCounter provides token counting functionality.
type TokenCounter struct {
	// Calibration factor (characters per token)
	charsPerToken float64
	// Fixed cost of one bundle item (label, bullet, newline)
	itemOverhead int
}

// NewTokenCounter creates a new token counter with default calibration.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{charsPerToken: 4.0, itemOverhead: 1}
}

// CountString estimates tokens in a string.
func (tc *TokenCounter) CountString(s string) int {
	if s == "" {
		return 0
	}
	runes := float64(utf8.RuneCountInString(s))
	n := int(runes / tc.charsPerToken)
	if float64(n)*tc.charsPerToken < runes {
		n++
	}
	return n
}

// CountItem estimates the cost of one bundle item.
func (tc *TokenCounter) CountItem(s string) int {
	return tc.CountString(s) + tc.itemOverhead
}

// =============================================================================
// Token Budget Management
// =============================================================================

// TokenBudget tracks per-section allocation against caps.
type TokenBudget struct {
	total int
	caps  map[Section]int
	used  map[Section]int
}

// NewTokenBudget creates a budget with a total and per-section caps.
func NewTokenBudget(total int, caps map[Section]int) *TokenBudget {
	return &TokenBudget{total: total, caps: caps, used: make(map[Section]int)}
}

// Allocate reserves tokens for a section. It fails when the section cap or
// the total would be exceeded.
func (tb *TokenBudget) Allocate(s Section, tokens int) bool {
	if tb.used[s]+tokens > tb.caps[s] || tb.TotalUsed()+tokens > tb.total {
		logging.ContextDebug("Token allocation REJECTED: %s +%d (used %d of %d)", s, tokens, tb.used[s], tb.caps[s])
		return false
	}
	tb.used[s] += tokens
	return true
}

// Open lifts a section's cap to everything not yet used overall. The
// redistribution pass calls it for sections that still have items.
func (tb *TokenBudget) Open(s Section) {
	tb.caps[s] = tb.used[s] + tb.Available()
}

// Used returns tokens used by a section.
func (tb *TokenBudget) Used(s Section) int { return tb.used[s] }

// TotalUsed returns total tokens currently used.
func (tb *TokenBudget) TotalUsed() int {
	sum := 0
	for _, u := range tb.used {
		sum += u
	}
	return sum
}

// Available returns tokens still available overall.
func (tb *TokenBudget) Available() int {
	return tb.total - tb.TotalUsed()
}
