package main

import "strings"

// *****************************************************************************
// ***************************** Derivation Tree *******************************
// *****************************************************************************
//
// Intermediate representation built while expanding a grammar. children has
// three states:
//   nil        - unexpanded nonterminal (pending frontier)
//   empty      - terminal leaf
//   populated  - expanded nonterminal
// A tree owns its children exclusively; nodes are never shared across trees.

type derivNode struct {
	symbol   string
	children []*derivNode
}

func pendingNode(symbol string) *derivNode {
	return &derivNode{symbol: symbol}
}

func leafNode(text string) *derivNode {
	return &derivNode{symbol: text, children: []*derivNode{}}
}

func (n *derivNode) isExpanded() bool { return n.children != nil }

// symbolToNodes turns an expansion string into fresh child nodes: terminal
// runs become leaves, nonterminal references become pending nodes. An empty
// expansion yields a single empty leaf so the node counts as expanded.
func symbolToNodes(text string) (children []*derivNode) {
	locs := reNonterminal.FindAllStringIndex(text, -1)
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			children = append(children, leafNode(text[prev:loc[0]]))
		}
		children = append(children, pendingNode(text[loc[0]:loc[1]]))
		prev = loc[1]
	}
	if prev < len(text) {
		children = append(children, leafNode(text[prev:]))
	}
	if children == nil {
		children = []*derivNode{leafNode("")}
	}
	return children
}

// allTerminals renders the tree, showing still-pending nonterminals as their
// symbol.
func (n *derivNode) allTerminals() string {
	if n.children == nil {
		return n.symbol
	}
	if len(n.children) == 0 {
		return n.symbol
	}
	var b strings.Builder
	for _, c := range n.children {
		b.WriteString(c.allTerminals())
	}
	return b.String()
}

// terminals renders only concrete terminal text; pending nonterminals render
// empty.
func (n *derivNode) terminals() string {
	if len(n.children) > 0 {
		var b strings.Builder
		for _, c := range n.children {
			b.WriteString(c.terminals())
		}
		return b.String()
	}
	if isNonterminal(n.symbol) {
		return ""
	}
	return n.symbol
}

// possibleExpansions counts pending nonterminals, i.e. the open frontier.
func (n *derivNode) possibleExpansions() int {
	if n.children == nil {
		return 1
	}
	var num int
	for _, c := range n.children {
		num += c.possibleExpansions()
	}
	return num
}

func (n *derivNode) anyPossibleExpansions() bool {
	if n.children == nil {
		return true
	}
	for _, c := range n.children {
		if c.anyPossibleExpansions() {
			return true
		}
	}
	return false
}

// expansionsPerformed counts nonterminal nodes that have been expanded.
func (n *derivNode) expansionsPerformed() int {
	if n.children == nil || len(n.children) == 0 {
		return 0
	}
	num := 1
	for _, c := range n.children {
		num += c.expansionsPerformed()
	}
	return num
}
