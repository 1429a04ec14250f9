package main

import (
	"fmt"

	"errors"
	"math"
	"math/rand"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// *****************************************************************************
// ************************** Derivation-Tree Engine ***************************
// *****************************************************************************
//
// One engine, three optional strategies (coverage, probability, constraints)
// sequenced explicitly: uncovered expansions first, probability weighting on
// ties and on fully-covered symbols, uniform choice when neither strategy is
// active. The engine is single-threaded; all mutable build state lives on it
// and is reset between builds.

const (
	defaultMinNonterminals = 0
	defaultMaxNonterminals = 10

	// Local replacement budget for rejected constraints, reset at each
	// build restart.
	defaultReplacementAttempts = 10

	// Hard cap on full-tree restarts per fuzzTree call. A grammar whose
	// constraints cannot be satisfied must fail fast, not loop.
	maxBuildRestarts = 128
)

// errRestartBuild signals that the current tree must be abandoned and the
// whole build restarted. Raised when the local replacement budget is
// exhausted or a full-tree post check fails.
var errRestartBuild = errors.New("restart tree build")

type costMode int

const (
	costAny costMode = iota // all alternatives
	costMin                 // cheapest alternatives only (closing)
	costMax                 // costliest alternatives only (growing)
)

type genEngine struct {
	grammar grammarT
	start   string

	minNonterminals int
	maxNonterminals int

	// ** Strategies **
	cov         *coverageTracker // nil: no coverage steering
	probs       probTable        // nil: uniform choice
	constrained bool             // pre/post hooks active
	retroCredit bool             // combined mode: snapshot + tree-walk credit

	replacementAttempts int
	schema              schemaT

	rSrc    *rand.Rand
	smplSrc exprand.Source

	// ** Per-build state **
	ctx          *genContext
	generators   map[string]func() hookResult
	attemptsLeft int
}

// newEngine makes a base engine: uniform random choice among alternatives.
// The grammar is validated here; an invalid grammar is a fatal load error.
func newEngine(g grammarT, start string) (*genEngine, error) {
	if err := g.check(start); err != nil {
		return nil, err
	}
	eng := &genEngine{
		grammar:             g,
		start:               start,
		minNonterminals:     defaultMinNonterminals,
		maxNonterminals:     defaultMaxNonterminals,
		replacementAttempts: defaultReplacementAttempts,
		rSrc:                rand.New(rand.NewSource(rand.Int63())),
		smplSrc:             exprand.NewSource(rand.Uint64()),
	}
	return eng, nil
}

func newCoverageEngine(g grammarT, start string) (*genEngine, error) {
	eng, err := newEngine(g, start)
	if err != nil {
		return nil, err
	}
	eng.cov = newCoverageTracker()
	return eng, nil
}

func newProbabilisticEngine(g grammarT, start string) (*genEngine, error) {
	eng, err := newEngine(g, start)
	if err != nil {
		return nil, err
	}
	eng.probs, err = makeProbTable(g)
	return eng, err
}

func newConstraintEngine(g grammarT, start string, schema schemaT) (*genEngine, error) {
	eng, err := newEngine(g, start)
	if err != nil {
		return nil, err
	}
	eng.constrained = true
	eng.schema = schema
	return eng, nil
}

// newCombinedEngine composes every strategy: constraint hooks, coverage
// steering with probability-weighted tie-breaks, and coverage snapshotting
// around each build.
func newCombinedEngine(g grammarT, start string, schema schemaT) (*genEngine, error) {
	eng, err := newConstraintEngine(g, start, schema)
	if err != nil {
		return nil, err
	}
	eng.cov = newCoverageTracker()
	eng.retroCredit = true
	eng.probs, err = makeProbTable(g)
	return eng, err
}

// *****************************************************************************
// ******************************** Cost Model *********************************

// symbolCost is the minimum number of expansions needed to drive symbol down
// to terminals. Infinite when every alternative recurses into the active
// derivation path.
func (eng *genEngine) symbolCost(symbol string, seen map[string]bool) float64 {
	min := math.Inf(+1)
	for _, exp := range eng.grammar[symbol] {
		seen[symbol] = true
		if cost := eng.expansionCost(exp, seen); cost < min {
			min = cost
		}
		delete(seen, symbol)
	}
	return min
}

func (eng *genEngine) expansionCost(exp expansionT, seen map[string]bool) float64 {
	nonterms := nontermsOf(exp.text)
	cost := 1.0
	for _, nt := range nonterms {
		if seen[nt] {
			return math.Inf(+1)
		}
		cost += eng.symbolCost(nt, seen)
	}
	return cost
}

// *****************************************************************************
// ****************************** Node Expansion *******************************

// candidateIndexes restricts the alternatives of symbol according to the
// cost mode of the current phase.
func (eng *genEngine) candidateIndexes(symbol string, mode costMode) ([]int, error) {
	expansions := eng.grammar[symbol]
	if len(expansions) == 0 {
		return nil, fmt.Errorf("%s: undefined or empty symbol", symbol)
	}
	if mode == costAny {
		idx := make([]int, len(expansions))
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}

	costs := make([]float64, len(expansions))
	best := math.Inf(+1)
	if mode == costMax {
		best = math.Inf(-1)
	}
	for i, exp := range expansions {
		costs[i] = eng.expansionCost(exp, map[string]bool{symbol: true})
		if (mode == costMin && costs[i] < best) ||
			(mode == costMax && costs[i] > best) {
			best = costs[i]
		}
	}
	if mode == costMin && math.IsInf(best, +1) {
		// Grammar-authoring bug: no terminal-only continuation exists.
		return nil, fmt.Errorf("%s: no finite-cost expansion to close the tree", symbol)
	}

	var idx []int
	for i, cost := range costs {
		if cost == best {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

// chooseNodeExpansion picks one alternative index with the explicit strategy
// priority: uncovered first, probability weighting on ties and on covered
// symbols, uniform otherwise.
func (eng *genEngine) chooseNodeExpansion(symbol string, candIdx []int) int {
	if eng.cov != nil {
		if idx, ok := eng.cov.chooseUncovered(eng, symbol, candIdx); ok {
			return idx
		}
	}
	idx := eng.chooseWeighted(symbol, candIdx)
	if eng.cov != nil {
		eng.cov.add(expansionKey(symbol, eng.grammar[symbol][idx].text))
	}
	return idx
}

// chooseWeighted samples among the candidate alternatives proportionally to
// their resolved probabilities. All-zero weight (typical when a cost phase
// restricted the candidates to zero-probability alternatives) falls back to
// uniform choice, as does an engine without a probability table.
func (eng *genEngine) chooseWeighted(symbol string, candIdx []int) int {
	if eng.probs != nil {
		weights := make([]float64, len(candIdx))
		var total float64
		for i, ci := range candIdx {
			weights[i] = eng.probs[symbol][ci]
			total += weights[i]
		}
		if total > 0 {
			w := sampleuv.NewWeighted(weights, eng.smplSrc)
			if i, ok := w.Take(); ok {
				return candIdx[i]
			}
		}
	}
	return candIdx[eng.rSrc.Intn(len(candIdx))]
}

func (eng *genEngine) expandNode(node *derivNode, mode costMode) error {
	candIdx, err := eng.candidateIndexes(node.symbol, mode)
	if err != nil {
		return err
	}
	chosen := eng.grammar[node.symbol][eng.chooseNodeExpansion(node.symbol, candIdx)]

	children := symbolToNodes(chosen.text)
	if eng.constrained {
		children, err = eng.processChosenChildren(node.symbol, children, chosen)
		if err != nil {
			return err
		}
	}
	node.children = children
	return nil
}

// *****************************************************************************
// ****************************** Tree Expansion *******************************

// chooseTreeExpansion picks which expandable child to descend into. Defaults
// to uniform random; an `order` annotation on the applied expansion forces
// lower-ranked nonterminal children to be expanded first.
func (eng *genEngine) chooseTreeExpansion(node *derivNode, expandable []*derivNode) *derivNode {
	if len(expandable) == 1 {
		return expandable[0]
	}
	if eng.constrained {
		if exp, err := eng.grammar.findExpansion(node.symbol, node.children); err == nil {
			if child := orderedChild(node, exp.opts.order, expandable); child != nil {
				return child
			}
		}
	}
	return expandable[eng.rSrc.Intn(len(expandable))]
}

func orderedChild(node *derivNode, order []int, expandable []*derivNode) *derivNode {
	if order == nil {
		return nil
	}

	var nonterminalChildren []*derivNode
	for _, c := range node.children {
		if c.children == nil || len(c.children) > 0 {
			nonterminalChildren = append(nonterminalChildren, c)
		}
	}
	if len(nonterminalChildren) != len(order) {
		panic(fmt.Sprintf("%s: order needs one rank per nonterminal child", node.symbol))
	}

	best := -1
	bestRank := 0
	j := 0
	for k, child := range expandable {
		for j < len(nonterminalChildren) && nonterminalChildren[j] != child {
			j++
		}
		if j >= len(nonterminalChildren) {
			panic(fmt.Sprintf("%s: expandable child not found", node.symbol))
		}
		if best < 0 || order[j] < bestRank {
			bestRank = order[j]
			best = k
		}
	}
	return expandable[best]
}

// expandTreeOnce expands exactly one pending node somewhere in the tree.
func (eng *genEngine) expandTreeOnce(node *derivNode, mode costMode) error {
	if node.children == nil {
		return eng.expandNode(node, mode)
	}

	var expandable []*derivNode
	for _, c := range node.children {
		if c.anyPossibleExpansions() {
			expandable = append(expandable, c)
		}
	}
	child := eng.chooseTreeExpansion(node, expandable)
	if err := eng.expandTreeOnce(child, mode); err != nil {
		return err
	}

	// Once a constrained node is fully expanded, check its constraint
	// locally: a cheap bounded retry here avoids most full restarts.
	if eng.constrained && eng.grammar.hasPostFuncs(node.symbol) &&
		!node.anyPossibleExpansions() {
		return eng.runPostFunctionsLocally(node)
	}
	return nil
}

func (eng *genEngine) expandTreeWith(tree *derivNode, mode costMode, limit int) error {
	for tree.anyPossibleExpansions() &&
		(limit < 0 || tree.possibleExpansions() < limit) {
		if err := eng.expandTreeOnce(tree, mode); err != nil {
			return err
		}
	}
	return nil
}

// buildOnce runs one full three-phase build: grow with costliest expansions
// until the open frontier reaches the minimum, expand uniformly until the
// maximum, then close with cheapest expansions to guarantee termination.
func (eng *genEngine) buildOnce() (*derivNode, error) {
	eng.generators = make(map[string]func() hookResult)
	eng.attemptsLeft = eng.replacementAttempts

	tree := pendingNode(eng.start)
	if err := eng.expandTreeWith(tree, costMax, eng.minNonterminals); err != nil {
		return nil, err
	}
	if err := eng.expandTreeWith(tree, costAny, eng.maxNonterminals); err != nil {
		return nil, err
	}
	if err := eng.expandTreeWith(tree, costMin, -1); err != nil {
		return nil, err
	}

	if eng.constrained {
		ok, err := eng.runPostFunctions(tree, -1)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errRestartBuild
		}
	}
	return tree, nil
}

// fuzzTree produces one fully terminal derivation tree. Constraint
// rejections restart the build (restoring the pre-build coverage snapshot)
// up to maxBuildRestarts times; in combined mode the snapshot is restored on
// success too and the finished tree re-walked so every realized
// parent-to-children shape gets coverage credit, including shapes produced
// by constraint substitution.
func (eng *genEngine) fuzzTree() (*derivNode, error) {
	snap := eng.cov.snapshot()
	eng.ctx = newGenContext(eng.rSrc, eng.schema)

	for restarts := 0; ; restarts++ {
		if restarts > maxBuildRestarts {
			return nil, fmt.Errorf(
				"%s: grammar cannot satisfy its constraints (%d restarts)",
				eng.start, restarts)
		}

		tree, err := eng.buildOnce()
		if err == nil {
			if eng.retroCredit {
				eng.cov.restore(snap)
				eng.cov.addTree(tree)
			}
			return tree, nil
		}
		if !errors.Is(err, errRestartBuild) {
			return nil, err
		}
		eng.cov.restore(snap)
	}
}

// fuzz returns the rendered text of one generated tree.
func (eng *genEngine) fuzz() (string, error) {
	tree, err := eng.fuzzTree()
	if err != nil {
		return "", err
	}
	return tree.allTerminals(), nil
}
