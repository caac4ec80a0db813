// Package ledger tracks paid-provider spend for one prospect.
package ledger

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// ErrOverBudget is returned by Charge when the cost does not fit the cap.
var ErrOverBudget = eris.New("charge exceeds per-prospect budget")

// Ledger accumulates cents spent against a fixed cap. It is local to one
// pipeline run; the mutex only matters when a stage fans out.
type Ledger struct {
	max int

	mu       sync.Mutex
	spent    int
	bySource map[string]int
	calls    int
}

func New(maxCents int) *Ledger {
	if maxCents < 0 {
		maxCents = 0
	}
	return &Ledger{max: maxCents, bySource: make(map[string]int)}
}

// CanAfford reports whether a call costing cents may start: the running total
// must be under the cap and the call must fit in what remains.
func (l *Ledger) CanAfford(cents int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent < l.max && l.spent+cents <= l.max
}

// Charge records a billed call. It refuses charges that would break the cap.
func (l *Ledger) Charge(source string, cents int) error {
	if cents < 0 {
		return eris.Errorf("negative charge %d for %s", cents, source)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spent+cents > l.max {
		return eris.Wrapf(ErrOverBudget, "%s: %d cents with %d of %d spent", source, cents, l.spent, l.max)
	}
	l.spent += cents
	l.bySource[source] += cents
	l.calls++
	return nil
}

func (l *Ledger) Spent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent
}

func (l *Ledger) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max - l.spent
}

func (l *Ledger) Max() int { return l.max }

// Calls is the number of billed calls recorded.
func (l *Ledger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Entry is one line of the per-source breakdown.
type Entry struct {
	Source string `json:"source"`
	Cents  int    `json:"cents"`
}

// Breakdown returns spend per source, sorted by source.
func (l *Ledger) Breakdown() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.bySource))
	for s, c := range l.bySource {
		out = append(out, Entry{Source: s, Cents: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
