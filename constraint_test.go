package main

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyResultText(t *testing.T) {
	children := symbolToNodes("<name> AS <alias>")
	replaced := applyResult(hrText("users"), children)

	require.Len(t, replaced, 1)
	assert.Equal(t, "users", replaced[0].symbol)
	assert.True(t, replaced[0].isExpanded())
}

func TestApplyResultList(t *testing.T) {
	children := symbolToNodes("<low> AND <high>")
	replaced := applyResult(hrList(strPt("1"), strPt("9")), children)

	require.Len(t, replaced, 3)
	assert.Equal(t, "1", replaced[0].allTerminals())
	assert.Equal(t, " AND ", replaced[1].symbol)
	assert.Equal(t, "9", replaced[2].allTerminals())
}

func TestApplyResultListNilEntriesUntouched(t *testing.T) {
	children := symbolToNodes("<a>,<b>")
	replaced := applyResult(hrList(nil, strPt("x")), children)

	assert.Nil(t, replaced[0].children, "nil entry must leave child pending")
	assert.Equal(t, "x", replaced[2].allTerminals())
}

func TestApplyResultNoneAndBool(t *testing.T) {
	children := symbolToNodes("<a>")
	assert.Equal(t, children, applyResult(hrNone(), children))
	assert.Equal(t, children, applyResult(hrBool(true), children))
}

func TestHookResultRejected(t *testing.T) {
	assert.True(t, hrBool(false).rejected())
	assert.False(t, hrBool(true).rejected())
	assert.False(t, hrNone().rejected())
	assert.False(t, hrText("x").rejected())
}

func TestPreHookReplacesChildren(t *testing.T) {
	g := grammarT{
		"<start>": exps("SELECT <name>"),
		"<name>": []expansionT{
			expWith("<fallback>", preOpt(func(*genContext) hookResult {
				return hrText("users")
			})),
		},
		"<fallback>": exps("f"),
	}
	eng, err := newConstraintEngine(g, "<start>", nil)
	require.NoError(t, err)
	fixEngineRand(eng, 1)

	out, err := eng.fuzz()
	require.NoError(t, err)
	assert.Equal(t, "SELECT users", out)
}

func TestPreHookNoneFallsThrough(t *testing.T) {
	g := grammarT{
		"<start>": exps("<name>"),
		"<name>": []expansionT{
			expWith("<fallback>", preOpt(func(*genContext) hookResult {
				return hrNone()
			})),
		},
		"<fallback>": exps("f"),
	}
	eng, err := newConstraintEngine(g, "<start>", nil)
	require.NoError(t, err)
	fixEngineRand(eng, 2)

	out, err := eng.fuzz()
	require.NoError(t, err)
	assert.Equal(t, "f", out)
}

func TestGeneratorSequenceWithinTree(t *testing.T) {
	counter := func(*genContext) func() hookResult {
		var n int
		return func() hookResult {
			n++
			return hrText(fmt.Sprintf("t%d", n))
		}
	}
	g := grammarT{
		"<start>": []expansionT{
			expWith("<alias>,<alias>,<alias>", orderOpt(1, 2, 3)),
		},
		"<alias>":    []expansionT{expWith("<fallback>", genOpt(counter))},
		"<fallback>": exps("f"),
	}
	eng, err := newConstraintEngine(g, "<start>", nil)
	require.NoError(t, err)
	fixEngineRand(eng, 3)

	// Successive uses within one tree advance the generator; a fresh tree
	// starts over.
	out, err := eng.fuzz()
	require.NoError(t, err)
	assert.Equal(t, "t1,t2,t3", out)

	out, err = eng.fuzz()
	require.NoError(t, err)
	assert.Equal(t, "t1,t2,t3", out)
}

func TestPostHookSubstitution(t *testing.T) {
	ordered := func(args []string) hookResult {
		require.Len(t, args, 2)
		low, _ := strconv.Atoi(args[0])
		high, _ := strconv.Atoi(args[1])
		if low <= high {
			return hrBool(true)
		}
		return hrList(strPt(args[1]), strPt(args[0]))
	}
	g := grammarT{
		"<start>": []expansionT{
			expWith("<n> AND <n>", postOpt(ordered)),
		},
		"<n>": exps("1", "2", "3", "4", "5"),
	}
	eng, err := newConstraintEngine(g, "<start>", nil)
	require.NoError(t, err)
	fixEngineRand(eng, 4)

	for i := 0; i < 50; i++ {
		out, err := eng.fuzz()
		require.NoError(t, err)
		parts := strings.Split(out, " AND ")
		require.Len(t, parts, 2)
		assert.LessOrEqual(t, parts[0], parts[1], "bounds must be ordered: %q", out)
	}
}

func TestPostHookLocalRetry(t *testing.T) {
	// Reject everything but "3": the local replacement budget must find it
	// without a full restart most of the time.
	only3 := func(args []string) hookResult {
		return hrBool(len(args) == 1 && args[0] == "3")
	}
	g := grammarT{
		"<start>": []expansionT{expWith("<n>", postOpt(only3))},
		"<n>":     exps("1", "2", "3"),
	}
	eng, err := newConstraintEngine(g, "<start>", nil)
	require.NoError(t, err)
	fixEngineRand(eng, 5)

	for i := 0; i < 20; i++ {
		out, err := eng.fuzz()
		require.NoError(t, err)
		assert.Equal(t, "3", out)
	}
}

func TestPostHookRejectionBudgetThenRestart(t *testing.T) {
	var postCalls int
	rejectAll := func([]string) hookResult {
		postCalls++
		return hrBool(false)
	}
	g := grammarT{
		"<start>": []expansionT{expWith("<n>", postOpt(rejectAll))},
		"<n>":     exps("1", "2", "3"),
	}
	eng, err := newConstraintEngine(g, "<start>", nil)
	require.NoError(t, err)
	fixEngineRand(eng, 7)

	_, err = eng.fuzz()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot satisfy its constraints")

	// Each build tries once plus the local replacement budget before it
	// restarts, and the build itself restarts up to the cap.
	builds := maxBuildRestarts + 1
	perBuild := eng.replacementAttempts + 1
	assert.Equal(t, builds*perBuild, postCalls)
}

func TestGeneratorStateResetOnRestart(t *testing.T) {
	var instances int
	var draws []string
	factory := func(*genContext) func() hookResult {
		instances++
		var n int
		return func() hookResult {
			n++
			draw := fmt.Sprintf("g%d", n)
			draws = append(draws, draw)
			return hrText(draw)
		}
	}
	rejectAll := func([]string) hookResult { return hrBool(false) }
	g := grammarT{
		"<start>": []expansionT{
			{
				text: "<id>:<n>",
				opts: expOpts{order: []int{1, 2}, post: rejectAll},
			},
		},
		"<id>":       []expansionT{expWith("<fallback>", genOpt(factory))},
		"<n>":        exps("1"),
		"<fallback>": exps("f"),
	}
	eng, err := newConstraintEngine(g, "<start>", nil)
	require.NoError(t, err)
	fixEngineRand(eng, 8)

	_, err = eng.fuzz()
	require.Error(t, err)

	// One fresh generator instance per build: a restart drops the cached
	// instances, so every build's first draw starts the sequence over.
	builds := maxBuildRestarts + 1
	perBuild := eng.replacementAttempts + 1
	require.Equal(t, builds, instances)
	require.Len(t, draws, builds*perBuild)
	for b := 0; b < builds; b++ {
		assert.Equal(t, "g1", draws[b*perBuild],
			"build %d must restart the generator sequence", b)
	}
}

func TestRunGeneratorCachesPerExpansion(t *testing.T) {
	var instances int
	factory := func(*genContext) func() hookResult {
		instances++
		return func() hookResult { return hrNone() }
	}
	g := grammarT{
		"<start>": exps("<a><a>"),
		"<a>":     []expansionT{expWith("x", genOpt(factory))},
	}
	eng, err := newConstraintEngine(g, "<start>", nil)
	require.NoError(t, err)
	fixEngineRand(eng, 6)

	_, err = eng.fuzz()
	require.NoError(t, err)
	assert.Equal(t, 1, instances,
		"one generator instance per expansion per tree")
}
