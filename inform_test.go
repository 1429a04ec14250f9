package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBugTrackerSavesReproducer(t *testing.T) {
	dir, err := ioutil.TempDir("", "fuzzqlite-bugs")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	bugs := makeBugTracker(dir)
	res := runResult{
		outcome:       outcomeLogicBug,
		cand:          candidateT{query: "SELECT x FROM t;", dbPath: "t.db"},
		targetVersion: "3.26.0",
		refVersion:    "3.39.4",
		target:        execResult{stdout: "1\n2\n"},
		ref:           execResult{stdout: "1\n"},
	}

	bugDir := bugs.saveReproducer(res)
	require.NotEmpty(t, bugDir)
	assert.Equal(t, 1, bugs.bugNb)
	assert.Equal(t, 1, bugs.perType[outcomeLogicBug])

	query, err := ioutil.ReadFile(filepath.Join(bugDir, "query.sql"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT x FROM t;\n", string(query))

	report, err := ioutil.ReadFile(filepath.Join(bugDir, "report.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "outcome: LOGIC_BUG")
	assert.Contains(t, string(report), "target version: 3.26.0")
	assert.Contains(t, string(report), "reference version: 3.39.4")
}

func TestBugTrackerCountsWithoutDir(t *testing.T) {
	// A tracker that failed to create its directory still counts bugs, it
	// just cannot save reproducers.
	bugs := &bugTracker{perType: make(map[outcomeT]int)}

	bugDir := bugs.saveReproducer(runResult{outcome: outcomeCrash})
	assert.Empty(t, bugDir)
	assert.Equal(t, 1, bugs.bugNb)
	assert.Equal(t, 1, bugs.perType[outcomeCrash])
}

func TestBugTrackerNumbersDirectories(t *testing.T) {
	dir, err := ioutil.TempDir("", "fuzzqlite-bugs")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	bugs := makeBugTracker(dir)
	first := bugs.saveReproducer(runResult{outcome: outcomeCrash})
	second := bugs.saveReproducer(runResult{outcome: outcomeCrash})

	assert.Contains(t, filepath.Base(first), "CRASH_0001")
	assert.Contains(t, filepath.Base(second), "CRASH_0002")
}
