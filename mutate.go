package main

import (
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// *****************************************************************************
// ************************* Mutation Interface ********************************
//
// Mutators rewrite SQL text while keeping it likely-parseable: the point is
// to reach planner and evaluator states the grammar alone does not, not to
// produce syntax errors. Each mutator leaves the input unchanged when it
// finds nothing to rewrite.

type mutationFunc interface {
	name() string
	mutate(cand candidateT) candidateT
}

// *****************************************************************************
// ************************* Main Mutator Object *******************************

type mutator struct {
	funcs []mutationFunc
	rSrc  *rand.Rand

	minMutations int
	maxMutations int
}

// makeSQLMutator builds a fresh catalog. Mutators with random state of their
// own get a derived source so two mutators never share a stream.
func makeSQLMutator(rSrc *rand.Rand, minMutations, maxMutations int) (m mutator) {
	m.funcs = []mutationFunc{
		identityMut{},
		numberTweaker{rSrc: rand.New(rand.NewSource(rSrc.Int63()))},
		operatorSwapper{rSrc: rand.New(rand.NewSource(rSrc.Int63()))},
		functionWrapper{rSrc: rand.New(rand.NewSource(rSrc.Int63()))},
		edgeCaseValuer{rSrc: rand.New(rand.NewSource(rSrc.Int63()))},
		caseFlipper{rSrc: rand.New(rand.NewSource(rSrc.Int63()))},
		limitRandomizer{rSrc: rand.New(rand.NewSource(rSrc.Int63()))},
		distinctToggler{},
		commentInjecter{rSrc: rand.New(rand.NewSource(rSrc.Int63()))},
	}
	m.rSrc = rSrc
	m.minMutations = minMutations
	m.maxMutations = maxMutations
	return m
}

// mutate stacks a random number of mutations on the candidate. A mutated
// query that no longer looks parseable is discarded in favor of the stage it
// grew from.
func (m mutator) mutate(cand candidateT) candidateT {
	stackNb := m.minMutations
	if m.maxMutations > m.minMutations {
		stackNb += m.rSrc.Intn(m.maxMutations - m.minMutations + 1)
	}
	for i := 0; i < stackNb; i++ {
		mutFunc := m.funcs[m.rSrc.Intn(len(m.funcs))]
		mutated := mutFunc.mutate(cand)
		if likelyValidSQL(mutated.query) {
			cand = mutated
		}
	}
	return cand
}

// likelyValidSQL is a cheap sanity filter, not a parser: balanced
// parentheses, balanced quotes, and a plausible length.
func likelyValidSQL(query string) bool {
	if strings.Count(query, "(") != strings.Count(query, ")") {
		return false
	}
	if strings.Count(query, "'")%2 != 0 {
		return false
	}
	return len(strings.TrimSpace(query)) >= 8
}

// *****************************************************************************
// **************************** Mutation Catalog *******************************

// ****** Identity ******

// identityMut passes the candidate through unchanged, so replaying a good
// seed verbatim stays in the mutation mix.
type identityMut struct{}

func (identityMut) name() string                      { return "identity" }
func (identityMut) mutate(cand candidateT) candidateT { return cand }

// ****** Numeric tweak ******

var reNumber = regexp.MustCompile(`-?\d+(\.\d+)?`)

var edgeCaseNumbers = []string{
	"0", "-0", "0.0", "-0.0",
	"2147483647", "-2147483648",
	"9223372036854775807", "-9223372036854775808",
	"9223372036854775808",
	"1.7976931348623157e+308", "2.2250738585072014e-308",
	"-1e308",
}

type numberTweaker struct{ rSrc *rand.Rand }

func (numberTweaker) name() string { return "numberTweak" }
func (nt numberTweaker) mutate(cand candidateT) candidateT {
	locs := reNumber.FindAllStringIndex(cand.query, -1)
	if len(locs) == 0 {
		return cand
	}
	loc := locs[nt.rSrc.Intn(len(locs))]
	old := cand.query[loc[0]:loc[1]]

	var repl string
	switch nt.rSrc.Intn(4) {
	case 0:
		if n, err := strconv.ParseFloat(old, 64); err == nil {
			repl = strconv.FormatInt(int64(n)+1, 10)
		}
	case 1:
		if n, err := strconv.ParseFloat(old, 64); err == nil {
			repl = strconv.FormatInt(int64(n)-1, 10)
		}
	case 2:
		if n, err := strconv.ParseFloat(old, 64); err == nil {
			repl = strconv.FormatFloat(-n, 'g', -1, 64)
		}
	case 3:
		repl = edgeCaseNumbers[nt.rSrc.Intn(len(edgeCaseNumbers))]
	}
	if repl == "" {
		return cand
	}
	cand.query = cand.query[:loc[0]] + repl + cand.query[loc[1]:]
	return cand
}

// ****** Operator swap ******

// Replacements keep the operand types compatible so the statement still
// parses.
var compatibleOperators = map[string][]string{
	"=":       {"<>", "!=", ">", "<"},
	"<>":      {"=", "!="},
	"!=":      {"=", "<>"},
	">":       {">=", "<", "<="},
	"<":       {"<=", ">", ">="},
	">=":      {">", "<="},
	"<=":      {"<", ">="},
	"LIKE":    {"NOT LIKE", "GLOB"},
	"BETWEEN": {"NOT BETWEEN"},
	"IN":      {"NOT IN"},
	"AND":     {"OR"},
	"OR":      {"AND"},
}

type operatorSwapper struct{ rSrc *rand.Rand }

func (operatorSwapper) name() string { return "operatorSwap" }
func (osw operatorSwapper) mutate(cand candidateT) candidateT {
	var present []string
	for op := range compatibleOperators {
		if containsOperator(cand.query, op) {
			present = append(present, op)
		}
	}
	if len(present) == 0 {
		return cand
	}
	// Map iteration order is random but not seed-reproducible; sort first so
	// the rand source alone decides.
	sort.Strings(present)
	op := present[osw.rSrc.Intn(len(present))]
	repls := compatibleOperators[op]
	repl := repls[osw.rSrc.Intn(len(repls))]
	cand.query = replaceOperatorOnce(cand.query, op, repl)
	return cand
}

func containsOperator(query, op string) bool {
	if isWordOperator(op) {
		return regexp.MustCompile(`\b` + op + `\b`).MatchString(query)
	}
	return strings.Contains(query, op)
}

func replaceOperatorOnce(query, op, repl string) string {
	if isWordOperator(op) {
		re := regexp.MustCompile(`\b` + op + `\b`)
		if loc := re.FindStringIndex(query); loc != nil {
			return query[:loc[0]] + repl + query[loc[1]:]
		}
		return query
	}
	return strings.Replace(query, op, repl, 1)
}

func isWordOperator(op string) bool {
	return op[0] >= 'A' && op[0] <= 'Z'
}

// ****** Function wrap ******

var wrapFunctions = []string{
	"ABS", "LENGTH", "LOWER", "UPPER", "HEX", "TYPEOF", "IFNULL",
}

var reColumnRef = regexp.MustCompile(`\b([a-z_][a-z0-9_]*)\b`)

type functionWrapper struct{ rSrc *rand.Rand }

func (functionWrapper) name() string { return "functionWrap" }
func (fw functionWrapper) mutate(cand candidateT) candidateT {
	locs := reColumnRef.FindAllStringIndex(cand.query, -1)
	var cols [][]int
	for _, loc := range locs {
		word := cand.query[loc[0]:loc[1]]
		if !sqlKeyword(word) && !insideQuotes(cand.query, loc[0]) {
			cols = append(cols, loc)
		}
	}
	if len(cols) == 0 {
		return cand
	}
	loc := cols[fw.rSrc.Intn(len(cols))]
	fn := wrapFunctions[fw.rSrc.Intn(len(wrapFunctions))]
	if fn == "IFNULL" {
		cand.query = cand.query[:loc[0]] + "IFNULL(" +
			cand.query[loc[0]:loc[1]] + ", 0)" + cand.query[loc[1]:]
		return cand
	}
	cand.query = cand.query[:loc[0]] + fn + "(" +
		cand.query[loc[0]:loc[1]] + ")" + cand.query[loc[1]:]
	return cand
}

// insideQuotes reports whether position pos falls inside a string literal.
func insideQuotes(query string, pos int) bool {
	return strings.Count(query[:pos], "'")%2 == 1
}

var sqlKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "group": true, "by": true,
	"having": true, "order": true, "limit": true, "offset": true,
	"join": true, "on": true, "as": true, "and": true, "or": true,
	"not": true, "in": true, "like": true, "between": true, "is": true,
	"null": true, "distinct": true, "insert": true, "into": true,
	"values": true, "update": true, "set": true, "delete": true,
	"asc": true, "desc": true, "begin": true, "transaction": true,
	"rollback": true, "pragma": true, "analyze": true, "index": true,
	"create": true, "drop": true,
}

func sqlKeyword(word string) bool { return sqlKeywords[strings.ToLower(word)] }

// ****** Edge case values ******

var edgeCaseStrings = []string{
	"''", "' '", "'%'", "'_'", "NULL", "x'00'", "x'FF'",
	"CURRENT_TIMESTAMP", "CAST(NULL AS TEXT)", "(SELECT 1)",
	"'9999-12-31'", "'0000-01-01'",
}

var reStringLiteral = regexp.MustCompile(`'[^']*'`)

type edgeCaseValuer struct{ rSrc *rand.Rand }

func (edgeCaseValuer) name() string { return "edgeCaseValue" }
func (ecv edgeCaseValuer) mutate(cand candidateT) candidateT {
	locs := reStringLiteral.FindAllStringIndex(cand.query, -1)
	if len(locs) == 0 {
		return cand
	}
	loc := locs[ecv.rSrc.Intn(len(locs))]
	repl := edgeCaseStrings[ecv.rSrc.Intn(len(edgeCaseStrings))]
	cand.query = cand.query[:loc[0]] + repl + cand.query[loc[1]:]
	return cand
}

// ****** Keyword case flip ******

type caseFlipper struct{ rSrc *rand.Rand }

func (caseFlipper) name() string { return "caseFlip" }
func (cf caseFlipper) mutate(cand candidateT) candidateT {
	words := strings.Fields(cand.query)
	var kwIdx []int
	for i, word := range words {
		if sqlKeyword(word) {
			kwIdx = append(kwIdx, i)
		}
	}
	if len(kwIdx) == 0 {
		return cand
	}
	i := kwIdx[cf.rSrc.Intn(len(kwIdx))]
	if words[i] == strings.ToUpper(words[i]) {
		words[i] = strings.ToLower(words[i])
	} else {
		words[i] = strings.ToUpper(words[i])
	}
	cand.query = strings.Join(words, " ")
	return cand
}

// ****** LIMIT/OFFSET randomization ******

var reLimitClause = regexp.MustCompile(`(?i)LIMIT\s+-?\d+(\s+OFFSET\s+\d+)?`)

type limitRandomizer struct{ rSrc *rand.Rand }

func (limitRandomizer) name() string { return "limitRandomize" }
func (lr limitRandomizer) mutate(cand candidateT) candidateT {
	limits := []string{
		"LIMIT 0", "LIMIT 1", "LIMIT -1",
		"LIMIT 9223372036854775807",
		fmt.Sprintf("LIMIT %d OFFSET %d", lr.rSrc.Intn(100), lr.rSrc.Intn(100)),
	}
	repl := limits[lr.rSrc.Intn(len(limits))]

	if loc := reLimitClause.FindStringIndex(cand.query); loc != nil {
		cand.query = cand.query[:loc[0]] + repl + cand.query[loc[1]:]
		return cand
	}
	return cand
}

// ****** DISTINCT toggle ******

type distinctToggler struct{}

func (distinctToggler) name() string { return "distinctToggle" }
func (distinctToggler) mutate(cand candidateT) candidateT {
	switch {
	case strings.Contains(cand.query, "SELECT DISTINCT "):
		cand.query = strings.Replace(cand.query,
			"SELECT DISTINCT ", "SELECT ", 1)
	case strings.Contains(cand.query, "SELECT "):
		cand.query = strings.Replace(cand.query,
			"SELECT ", "SELECT DISTINCT ", 1)
	}
	return cand
}

// ****** Comment injection ******

type commentInjecter struct{ rSrc *rand.Rand }

func (commentInjecter) name() string { return "commentInject" }
func (ci commentInjecter) mutate(cand candidateT) candidateT {
	words := strings.Fields(cand.query)
	if len(words) < 2 {
		return cand
	}
	i := 1 + ci.rSrc.Intn(len(words)-1)
	words[i] = "/* c */ " + words[i]
	cand.query = strings.Join(words, " ")
	return cand
}
