package main

import (
	"sort"
	"strings"
)

// *****************************************************************************
// ************************ Expansion-Coverage Tracking ************************
// *****************************************************************************
//
// Coverage is a set of keys, one per (symbol, child-symbol-sequence) choice
// concretely realized. The set only grows within an engine instance, except
// through explicit snapshot/restore bracketing a build: a discarded partial
// tree must not pollute coverage with choices that were abandoned.

// expansionKey names one expansion choice. The expansion text doubles as the
// concatenated child-symbol sequence.
func expansionKey(symbol, expansion string) string {
	return symbol + " -> " + expansion
}

type coverageSet map[string]bool

type coverageTracker struct {
	covered coverageSet
}

func newCoverageTracker() *coverageTracker {
	return &coverageTracker{covered: make(coverageSet)}
}

func (ct *coverageTracker) add(key string) {
	ct.covered[key] = true
}

// expansionCoverage returns the covered keys, sorted for stable output.
func (ct *coverageTracker) expansionCoverage() []string {
	keys := make([]string, 0, len(ct.covered))
	for key := range ct.covered {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (ct *coverageTracker) reset() {
	ct.covered = make(coverageSet)
}

// ***** Snapshotting *****
// Methods are nil-safe so engines without coverage steering can call them
// unconditionally.

func (ct *coverageTracker) snapshot() coverageSet {
	if ct == nil {
		return nil
	}
	snap := make(coverageSet, len(ct.covered))
	for key := range ct.covered {
		snap[key] = true
	}
	return snap
}

func (ct *coverageTracker) restore(snap coverageSet) {
	if ct == nil {
		return
	}
	ct.covered = make(coverageSet, len(snap))
	for key := range snap {
		ct.covered[key] = true
	}
}

// addTree retroactively credits every parent-to-children shape realized in a
// finished tree, including shapes that exist only because a constraint hook
// substituted children.
func (ct *coverageTracker) addTree(node *derivNode) {
	if len(node.children) == 0 {
		return
	}
	var shape strings.Builder
	for _, c := range node.children {
		shape.WriteString(c.symbol)
	}
	ct.add(expansionKey(node.symbol, shape.String()))
	for _, c := range node.children {
		ct.addTree(c)
	}
}

// *****************************************************************************
// **************************** Coverage Lookahead *****************************

// maxExpansionCoverage collects every expansion key reachable from symbol
// within maxDepth expansion steps (negative depth: unbounded). Symbols
// already visited in the current computation are excluded, which both
// memoizes and guards against grammar cycles.
func (eng *genEngine) maxExpansionCoverage(symbol string, maxDepth int) coverageSet {
	seen := make(map[string]bool)
	cov := make(coverageSet)
	eng.collectExpansionCoverage(symbol, maxDepth, seen, cov)
	return cov
}

func (eng *genEngine) collectExpansionCoverage(symbol string, maxDepth int,
	seen map[string]bool, cov coverageSet) {

	if maxDepth == 0 {
		return
	}
	seen[symbol] = true

	for _, exp := range eng.grammar[symbol] {
		cov[expansionKey(symbol, exp.text)] = true
		for _, nt := range nontermsOf(exp.text) {
			if !seen[nt] {
				eng.collectExpansionCoverage(nt, maxDepth-1, seen, cov)
			}
		}
	}
}

// newChildCoverage is the coverage that expanding symbol with the given
// alternative would add: the alternative's own key plus everything reachable
// from its child symbols within maxDepth, minus what is covered already.
func (eng *genEngine) newChildCoverage(symbol, expText string, maxDepth int) coverageSet {
	cov := coverageSet{expansionKey(symbol, expText): true}
	for _, nt := range nontermsOf(expText) {
		for key := range eng.maxExpansionCoverage(nt, maxDepth) {
			cov[key] = true
		}
	}
	for key := range eng.cov.covered {
		delete(cov, key)
	}
	return cov
}

// newCoverages searches, at minimal lookahead depth, for per-alternative new
// coverage. Returns nil when the symbol is fully explored up to the search
// horizon (the grammar's symbol count).
func (eng *genEngine) newCoverages(symbol string, candIdx []int) []coverageSet {
	expansions := eng.grammar[symbol]
	for maxDepth := 0; maxDepth < len(eng.grammar); maxDepth++ {
		covs := make([]coverageSet, len(candIdx))
		maxNew := 0
		for i, ci := range candIdx {
			covs[i] = eng.newChildCoverage(symbol, expansions[ci].text, maxDepth)
			if len(covs[i]) > maxNew {
				maxNew = len(covs[i])
			}
		}
		if maxNew > 0 {
			return covs
		}
	}
	return nil
}

// chooseUncovered picks, among the candidates, an alternative with maximal
// new coverage; ties are delegated to the probability-weighted chooser. The
// chosen expansion is recorded immediately. ok is false when every candidate
// is fully covered, in which case the caller falls back entirely to
// probability weighting.
func (ct *coverageTracker) chooseUncovered(eng *genEngine, symbol string,
	candIdx []int) (idx int, ok bool) {

	covs := eng.newCoverages(symbol, candIdx)
	if covs == nil {
		return 0, false
	}

	maxNew := 0
	for _, cov := range covs {
		if len(cov) > maxNew {
			maxNew = len(cov)
		}
	}
	var tied []int
	for i, cov := range covs {
		if len(cov) == maxNew {
			tied = append(tied, candIdx[i])
		}
	}

	idx = eng.chooseWeighted(symbol, tied)
	ct.add(expansionKey(symbol, eng.grammar[symbol][idx].text))
	return idx, true
}

// coveragePercent reports grammar coverage relative to everything reachable
// from the start symbol.
func (eng *genEngine) coveragePercent() float64 {
	if eng.cov == nil {
		return 0
	}
	max := eng.maxExpansionCoverage(eng.start, -1)
	if len(max) == 0 {
		return 0
	}
	return 100 * float64(len(eng.cov.covered)) / float64(len(max))
}

// missingExpansionCoverage lists reachable expansions not covered yet.
func (eng *genEngine) missingExpansionCoverage() []string {
	var missing []string
	for key := range eng.maxExpansionCoverage(eng.start, -1) {
		if !eng.cov.covered[key] {
			missing = append(missing, key)
		}
	}
	return missing
}
