package main

import (
	"fmt"

	"regexp"
	"sort"
	"strings"
)

// *****************************************************************************
// ******************************* Grammar Model *******************************
// *****************************************************************************
//
// A grammar maps a nonterminal symbol to an ordered list of expansions.
// Nonterminals are written in angle brackets ("<expr>"); everything else in
// an expansion string is literal terminal text. Options (probability,
// pre/post hooks, expansion order) are attached out-of-band per expansion.

const startSymbol = "<start>"

// A nonterminal needs a non-empty symbol name, so the SQL inequality
// operator "<>" stays terminal text.
var (
	reNonterminal  = regexp.MustCompile(`(<[^<> ]+>)`)
	reParenExpr    = regexp.MustCompile(`\([^()]*\)[?+*]`)
	reExtNontermin = regexp.MustCompile(`(<[^<> ]+>[?+*])`)
)

func isNonterminal(s string) bool {
	loc := reNonterminal.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}

// nontermsOf returns all nonterminal references of an expansion string, in
// order, duplicates included.
func nontermsOf(text string) []string {
	return reNonterminal.FindAllString(text, -1)
}

// ***** Expansion options *****

// preFunc is a pre-expansion hook: called when its expansion is chosen,
// before the children are expanded. Its result replaces the chosen children
// (see applyResult).
type preFunc func(ctx *genContext) hookResult

// preGenFunc is the resumable form of a pre-expansion hook: the factory is
// invoked once per tree build and the returned closure is advanced on each
// visit, so successive uses within one tree see successive values.
type preGenFunc func(ctx *genContext) func() hookResult

// postFunc is a post-expansion hook: called bottom-up once the subtree is
// fully expanded, with the concrete terminal text of each nonterminal child.
type postFunc func(args []string) hookResult

type expOpts struct {
	prob    float64
	hasProb bool

	pre    preFunc
	preGen preGenFunc
	post   postFunc

	// order holds one rank per nonterminal child; lower ranks are
	// expanded first.
	order []int
}

type expansionT struct {
	text string
	opts expOpts
}

type grammarT map[string][]expansionT

// ***** Construction helpers for grammar data tables *****

func exps(texts ...string) (es []expansionT) {
	es = make([]expansionT, len(texts))
	for i, text := range texts {
		es[i].text = text
	}
	return es
}

func expWith(text string, opts expOpts) expansionT {
	return expansionT{text: text, opts: opts}
}

func probOpt(p float64) expOpts     { return expOpts{prob: p, hasProb: true} }
func preOpt(f preFunc) expOpts      { return expOpts{pre: f} }
func genOpt(f preGenFunc) expOpts   { return expOpts{preGen: f} }
func postOpt(f postFunc) expOpts    { return expOpts{post: f} }
func orderOpt(ranks ...int) expOpts { return expOpts{order: ranks} }

// hasPostFuncs reports whether any expansion of symbol carries a post hook.
func (g grammarT) hasPostFuncs(symbol string) bool {
	for _, exp := range g[symbol] {
		if exp.opts.post != nil {
			return true
		}
	}
	return false
}

// findExpansion retrieves the expansion of symbol whose nonterminal/terminal
// shape matches the given child symbols. Needed to recover the options of
// the choice that produced an expanded node.
func (g grammarT) findExpansion(symbol string, children []*derivNode) (expansionT, error) {
	var applied strings.Builder
	for _, c := range children {
		applied.WriteString(c.symbol)
	}
	appliedStr := applied.String()

	for _, exp := range g[symbol] {
		if exp.text == appliedStr {
			return exp, nil
		}
	}
	return expansionT{}, fmt.Errorf("%s: no expansion %q", symbol, appliedStr)
}

// *****************************************************************************
// ***************************** Grammar Validation ****************************

// defUsedNonterminals returns the sets of defined and used nonterminals.
func (g grammarT) defUsedNonterminals(start string) (defined, used map[string]bool, err error) {
	defined = make(map[string]bool)
	used = map[string]bool{start: true}

	for symbol, expansions := range g {
		defined[symbol] = true
		if len(expansions) == 0 {
			return nil, nil, fmt.Errorf("%s: expansion list empty", symbol)
		}
		for _, exp := range expansions {
			for _, nt := range nontermsOf(exp.text) {
				used[nt] = true
			}
		}
	}
	return defined, used, nil
}

func (g grammarT) reachableNonterminals(start string) map[string]bool {
	reachable := make(map[string]bool)

	var visit func(symbol string)
	visit = func(symbol string) {
		reachable[symbol] = true
		for _, exp := range g[symbol] {
			for _, nt := range nontermsOf(exp.text) {
				if !reachable[nt] {
					visit(nt)
				}
			}
		}
	}

	visit(start)
	return reachable
}

// check validates the grammar: every used nonterminal defined, every defined
// nonterminal used and reachable from start, and every symbol's probability
// annotations resolving to a valid distribution. Any violation is fatal at
// load time.
func (g grammarT) check(start string) error {
	defined, used, err := g.defUsedNonterminals(start)
	if err != nil {
		return err
	}

	var problems []string
	for symbol := range used {
		if !defined[symbol] {
			problems = append(problems, fmt.Sprintf("%s: used but not defined", symbol))
		}
	}
	for symbol := range defined {
		if !used[symbol] {
			problems = append(problems, fmt.Sprintf("%s: defined but not used", symbol))
		}
	}

	reachable := g.reachableNonterminals(start)
	for symbol := range defined {
		if !reachable[symbol] {
			problems = append(problems,
				fmt.Sprintf("%s: unreachable from %s", symbol, start))
		}
	}

	for symbol, expansions := range g {
		if _, err := resolveProbabilities(symbol, expansions); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("invalid grammar:\n\t%s", strings.Join(problems, "\n\t"))
}

// *****************************************************************************
// ****************************** EBNF Conversion ******************************
// Convenience layer: "(...)" groups and the ?/*/+ operators are rewritten
// into plain BNF with synthesized helper symbols before the engine sees the
// grammar.

func (g grammarT) clone() grammarT {
	ng := make(grammarT, len(g))
	for symbol, expansions := range g {
		es := make([]expansionT, len(expansions))
		copy(es, expansions)
		ng[symbol] = es
	}
	return ng
}

func newSymbolName(g grammarT, base string) string {
	if _, ok := g[base]; !ok {
		return base
	}
	for count := 1; ; count++ {
		tentative := fmt.Sprintf("%s-%d>", base[:len(base)-1], count)
		if _, ok := g[tentative]; !ok {
			return tentative
		}
	}
}

func convertEbnfParentheses(ebnf grammarT) grammarT {
	g := ebnf.clone()
	for symbol := range ebnf {
		for i := range g[symbol] {
			for {
				expr := reParenExpr.FindString(g[symbol][i].text)
				if expr == "" {
					break
				}
				operator := expr[len(expr)-1:]
				contents := expr[1 : len(expr)-2]

				newSym := newSymbolName(g, "<symbol>")
				g[symbol][i].text = strings.Replace(
					g[symbol][i].text, expr, newSym+operator, 1)
				g[newSym] = exps(contents)
			}
		}
	}
	return g
}

func convertEbnfOperators(ebnf grammarT) grammarT {
	g := ebnf.clone()
	for symbol := range ebnf {
		for i := range g[symbol] {
			for {
				extended := reExtNontermin.FindString(g[symbol][i].text)
				if extended == "" {
					break
				}
				operator := extended[len(extended)-1:]
				original := extended[:len(extended)-1]

				newSym := newSymbolName(g, original)
				g[symbol][i].text = strings.Replace(
					g[symbol][i].text, extended, newSym, 1)

				switch operator {
				case "?":
					g[newSym] = exps("", original)
				case "*":
					g[newSym] = exps("", original+newSym)
				case "+":
					g[newSym] = exps(original, original+newSym)
				}
			}
		}
	}
	return g
}

func convertEbnfGrammar(ebnf grammarT) grammarT {
	return convertEbnfOperators(convertEbnfParentheses(ebnf))
}
