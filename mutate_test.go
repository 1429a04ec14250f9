package main

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleQuery = "SELECT name FROM users WHERE age > 21 AND name LIKE 'a%' LIMIT 10;"

func sampleCandidate() candidateT {
	return candidateT{query: sampleQuery, dbPath: "test.db"}
}

func TestLikelyValidSQL(t *testing.T) {
	assert.True(t, likelyValidSQL(sampleQuery))
	assert.False(t, likelyValidSQL("SELECT (a FROM t;"), "unbalanced parens")
	assert.False(t, likelyValidSQL("SELECT 'a FROM t;"), "unbalanced quotes")
	assert.False(t, likelyValidSQL("x;"), "too short")
}

func TestMutatorCatalogKeepsQueriesValid(t *testing.T) {
	m := makeSQLMutator(rand.New(rand.NewSource(1)), 1, 1)

	for _, mutFunc := range m.funcs {
		for i := 0; i < 50; i++ {
			mutated := mutFunc.mutate(sampleCandidate())
			assert.True(t, likelyValidSQL(mutated.query),
				"%s produced invalid SQL: %q", mutFunc.name(), mutated.query)
			assert.Equal(t, "test.db", mutated.dbPath,
				"%s must not touch the database path", mutFunc.name())
		}
	}
}

func TestIdentityMutator(t *testing.T) {
	cand := sampleCandidate()
	assert.Equal(t, cand, identityMut{}.mutate(cand))
}

func TestNumberTweakerChangesANumber(t *testing.T) {
	nt := numberTweaker{rSrc: rand.New(rand.NewSource(2))}

	var changed int
	for i := 0; i < 50; i++ {
		mutated := nt.mutate(sampleCandidate())
		if mutated.query != sampleQuery {
			changed++
		}
	}
	assert.Greater(t, changed, 30)
}

func TestNumberTweakerNoNumbers(t *testing.T) {
	nt := numberTweaker{rSrc: rand.New(rand.NewSource(3))}
	cand := candidateT{query: "SELECT name FROM users;"}
	assert.Equal(t, cand, nt.mutate(cand))
}

func TestOperatorSwapper(t *testing.T) {
	osw := operatorSwapper{rSrc: rand.New(rand.NewSource(4))}

	var changed int
	for i := 0; i < 50; i++ {
		mutated := osw.mutate(sampleCandidate())
		assert.True(t, likelyValidSQL(mutated.query))
		if mutated.query != sampleQuery {
			changed++
		}
	}
	assert.Greater(t, changed, 30)
}

func TestDistinctToggler(t *testing.T) {
	dt := distinctToggler{}

	once := dt.mutate(sampleCandidate())
	assert.Contains(t, once.query, "SELECT DISTINCT ")

	twice := dt.mutate(once)
	assert.Equal(t, sampleQuery, twice.query)
}

func TestCaseFlipper(t *testing.T) {
	cf := caseFlipper{rSrc: rand.New(rand.NewSource(5))}

	mutated := cf.mutate(sampleCandidate())
	assert.NotEqual(t, sampleQuery, mutated.query)
	assert.Equal(t,
		strings.ToUpper(sampleQuery),
		strings.ToUpper(mutated.query),
		"case flip must only change letter case")
}

func TestLimitRandomizerReplacesClause(t *testing.T) {
	lr := limitRandomizer{rSrc: rand.New(rand.NewSource(6))}

	var changed int
	for i := 0; i < 50; i++ {
		mutated := lr.mutate(sampleCandidate())
		assert.Contains(t, strings.ToUpper(mutated.query), "LIMIT")
		if mutated.query != sampleQuery {
			changed++
		}
	}
	assert.Greater(t, changed, 20)
}

func TestCommentInjecter(t *testing.T) {
	ci := commentInjecter{rSrc: rand.New(rand.NewSource(7))}
	mutated := ci.mutate(sampleCandidate())
	assert.Contains(t, mutated.query, "/* c */")
}

func TestSQLKeywordLookup(t *testing.T) {
	assert.True(t, sqlKeyword("SELECT"))
	assert.True(t, sqlKeyword("select"))
	assert.True(t, sqlKeyword("Where"))
	assert.False(t, sqlKeyword("users"))
}

func TestMutatorStacking(t *testing.T) {
	m := makeSQLMutator(rand.New(rand.NewSource(8)), 2, 5)

	for i := 0; i < 50; i++ {
		mutated := m.mutate(sampleCandidate())
		assert.True(t, likelyValidSQL(mutated.query), "got %q", mutated.query)
	}
}

func TestMutatorDiscardInvalidStage(t *testing.T) {
	// Stacked mutations only ever move between valid stages, so the result
	// of a long stack is still valid.
	m := makeSQLMutator(rand.New(rand.NewSource(9)), 10, 10)
	mutated := m.mutate(sampleCandidate())
	assert.True(t, likelyValidSQL(mutated.query))
}

func TestInsideQuotes(t *testing.T) {
	query := "SELECT 'abc' FROM t"
	assert.True(t, insideQuotes(query, strings.Index(query, "abc")))
	assert.False(t, insideQuotes(query, strings.Index(query, "FROM")))
}
