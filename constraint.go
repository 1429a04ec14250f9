package main

// *****************************************************************************
// ************************* Constraint-Aware Expansion ************************
// *****************************************************************************
//
// Expansions may carry a pre-expansion value generator and a post-expansion
// validator. Pre hooks run when the expansion is chosen and may replace the
// fresh children; post hooks run bottom-up over the concrete text of the
// nonterminal children and either accept, reject, or substitute. Rejection
// escalates: bounded local re-expansion, then a full-tree restart.

// hookResult is the value produced by a pre or post hook.
type hookResult struct {
	kind resultKind
	str  string
	list []*string
	ok   bool
}

type resultKind int

const (
	resultNone resultKind = iota // leave children untouched
	resultText                   // single terminal replacing all children
	resultList                   // positional replacement of nonterminal children
	resultBool                   // pure accept/reject signal
)

func hrNone() hookResult         { return hookResult{kind: resultNone} }
func hrText(s string) hookResult { return hookResult{kind: resultText, str: s} }
func hrBool(ok bool) hookResult  { return hookResult{kind: resultBool, ok: ok} }
func hrList(vs ...*string) hookResult {
	return hookResult{kind: resultList, list: vs}
}

func strPt(s string) *string { return &s }

func (res hookResult) rejected() bool {
	return res.kind == resultBool && !res.ok
}

// applyResult maps a hook value onto a node's children:
//   - text: the children collapse to one terminal leaf
//   - list: each non-nil entry replaces the subtree of the corresponding
//     nonterminal child (terminal children are skipped positionally)
//   - none/bool: children unchanged
func applyResult(res hookResult, children []*derivNode) []*derivNode {
	switch res.kind {
	case resultText:
		return []*derivNode{leafNode(res.str)}

	case resultList:
		var symIdx []int
		for i, c := range children {
			if isNonterminal(c.symbol) {
				symIdx = append(symIdx, i)
			}
		}
		for j, v := range res.list {
			if v == nil || j >= len(symIdx) {
				continue
			}
			children[symIdx[j]].children = []*derivNode{leafNode(*v)}
		}
		return children

	default:
		return children
	}
}

// *****************************************************************************
// ***************************** Pre-Expansion Hooks ***************************

// processChosenChildren runs the chosen expansion's pre hook, if any, and
// applies its value to the fresh children before they are expanded further.
func (eng *genEngine) processChosenChildren(symbol string, children []*derivNode,
	exp expansionT) ([]*derivNode, error) {

	switch {
	case exp.opts.preGen != nil:
		return applyResult(eng.runGenerator(symbol, exp), children), nil
	case exp.opts.pre != nil:
		return applyResult(exp.opts.pre(eng.ctx), children), nil
	default:
		return children, nil
	}
}

// runGenerator draws the next value from the cached generator instance for
// this expansion, instantiating it on first use. The cache lives for one
// tree build, so successive visits of the same expansion within one tree see
// a value sequence (e.g. strictly increasing ids).
func (eng *genEngine) runGenerator(symbol string, exp expansionT) hookResult {
	key := expansionKey(symbol, exp.text)
	gen, ok := eng.generators[key]
	if !ok {
		gen = exp.opts.preGen(eng.ctx)
		eng.generators[key] = gen
	}
	return gen()
}

// *****************************************************************************
// **************************** Post-Expansion Hooks ***************************

// runPostFunctions checks the constraints of the subtree at node, depth
// levels deep (negative depth: the whole subtree). Returns false when some
// post hook rejected.
func (eng *genEngine) runPostFunctions(node *derivNode, depth int) (bool, error) {
	if node.children == nil || len(node.children) == 0 {
		return true, nil
	}

	exp, err := eng.grammar.findExpansion(node.symbol, node.children)
	if err != nil {
		// Constraint substitution reshaped the children; no expansion to
		// check against any more.
		return true, nil
	}

	if exp.opts.post != nil {
		res := eng.evalPostFunction(node, exp.opts.post)
		if res.rejected() {
			return false, nil
		}
		node.children = applyResult(res, node.children)
	}

	if depth != 0 {
		for _, c := range node.children {
			ok, err := eng.runPostFunctions(c, depth-1)
			if err != nil || !ok {
				return ok, err
			}
		}
	}
	return true, nil
}

// evalPostFunction calls a post hook with the rendered text of every
// expanded nonterminal child as positional arguments.
func (eng *genEngine) evalPostFunction(node *derivNode, fn postFunc) hookResult {
	var args []string
	for _, c := range node.children {
		if c.children != nil && len(c.children) > 0 {
			args = append(args, c.allTerminals())
		}
	}
	return fn(args)
}

// runPostFunctionsLocally validates one freshly completed node. On rejection
// the node is reverted to pending and retried while the local budget lasts;
// past that, the whole build restarts.
func (eng *genEngine) runPostFunctionsLocally(node *derivNode) error {
	ok, err := eng.runPostFunctions(node, 0)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if eng.attemptsLeft > 0 {
		eng.attemptsLeft--
		node.children = nil
		return nil
	}
	return errRestartBuild
}
