package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapQuery(t *testing.T) {
	wrapped := wrapQuery("SELECT 1")
	assert.Equal(t, "BEGIN TRANSACTION;\nSELECT 1\n;\nROLLBACK;", wrapped)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "PASS", outcomePass.String())
	assert.Equal(t, "CRASH", outcomeCrash.String())
	assert.Equal(t, "LOGIC_BUG", outcomeLogicBug.String())
	assert.Equal(t, "REFERENCE_ERROR", outcomeRefError.String())
	assert.Equal(t, "INVALID_QUERY", outcomeInvalidQuery.String())
}

func TestBinVersion(t *testing.T) {
	assert.Equal(t, "3.26.0", binVersion("/opt/bin/sqlite3-3.26.0"))
	assert.Equal(t, "3.39.4", binVersion("sqlite3-3.39.4"))
	assert.Equal(t, "unknown", binVersion("/usr/bin/sqlite3"))
}

func TestExecResultFailed(t *testing.T) {
	assert.False(t, execResult{}.failed())
	assert.True(t, execResult{stderr: "Error: oops"}.failed())
	assert.True(t, execResult{signaled: true}.failed())
	assert.True(t, execResult{hanged: true}.failed())
	assert.True(t, execResult{startErr: os.ErrNotExist}.failed())
}

// ****** Normalization ******

func TestNormalizeFloatRounding(t *testing.T) {
	norm := normalizeOutput("3.14159265358979\n", "SELECT pi;")
	assert.Equal(t, "3.14159265", norm)

	norm = normalizeOutput("1.5e2\n", "SELECT x;")
	assert.Equal(t, "150.00000000", norm)
}

func TestNormalizeIntegersUntouched(t *testing.T) {
	norm := normalizeOutput("42\n", "SELECT x;")
	assert.Equal(t, "42", norm)
}

func TestNormalizeCellTrimming(t *testing.T) {
	norm := normalizeOutput("  alice  | 1.0 \n", "SELECT * FROM t;")
	assert.Equal(t, "alice|1.00000000", norm)
}

func TestNormalizeSortsUnorderedRows(t *testing.T) {
	norm := normalizeOutput("b\na\nc\n", "SELECT x FROM t;")
	assert.Equal(t, "a\nb\nc", norm)
}

func TestNormalizeKeepsOrderedRows(t *testing.T) {
	query := "SELECT x FROM t ORDER BY x DESC;"
	norm := normalizeOutput("c\nb\na\n", query)
	assert.Equal(t, "c\nb\na", norm)

	// Case-insensitive clause detection.
	norm = normalizeOutput("c\nb\na\n", "select x from t order by x desc;")
	assert.Equal(t, "c\nb\na", norm)
}

func TestNormalizeEquivalentOutputs(t *testing.T) {
	query := "SELECT score FROM users;"
	a := normalizeOutput("1.1000000000001\n2.0\n", query)
	b := normalizeOutput("2\n1.1\n", query)
	// 2.0 rounds, bare 2 does not: only the float forms agree.
	assert.NotEqual(t, a, b)

	a = normalizeOutput("1.1000000000001\n2.0\n", query)
	b = normalizeOutput("2.0\n1.1\n", query)
	assert.Equal(t, a, b)
}

func TestFloatRegex(t *testing.T) {
	for _, s := range []string{"1.0", "-3.25", "1.5e10", "2.0E-3", "-0.1e+2"} {
		assert.True(t, reFloat.MatchString(s), s)
	}
	for _, s := range []string{"42", "-7", "abc", "1.", ".5", "1e5", ""} {
		assert.False(t, reFloat.MatchString(s), s)
	}
}

// ****** Error filtering ******

func TestIgnorableError(t *testing.T) {
	query := "SELECT * FROM t;"
	assert.True(t, ignorableError("Error: near \"FROO\": syntax error", query))
	assert.True(t, ignorableError("Error: no such function: frobnicate", query))
	assert.True(t, ignorableError("Parse error near line 1", query))
	assert.True(t, ignorableError("Error: RIGHT JOIN is not currently supported", query))

	assert.False(t, ignorableError("Error: database disk image is malformed", query))
	assert.False(t, ignorableError("", query))
}

func TestIgnorableErrorIndexedBy(t *testing.T) {
	errMsg := "Error: no query solution"
	assert.False(t, ignorableError(errMsg, "SELECT * FROM t;"))
	assert.True(t, ignorableError(errMsg,
		"SELECT * FROM t INDEXED BY idx WHERE x = 1;"))
}

// ****** Classification ******

func TestClassifyPass(t *testing.T) {
	cand := candidateT{query: "SELECT 1;"}
	target := execResult{stdout: "1\n"}
	ref := execResult{stdout: "1\n"}
	assert.Equal(t, outcomePass, classify(cand, target, ref))
}

func TestClassifyPassNormalized(t *testing.T) {
	cand := candidateT{query: "SELECT score FROM users;"}
	target := execResult{stdout: "2.0\n1.5\n"}
	ref := execResult{stdout: "1.5\n2.0000000000001\n"}
	assert.Equal(t, outcomePass, classify(cand, target, ref))
}

func TestClassifyLogicBug(t *testing.T) {
	cand := candidateT{query: "SELECT x FROM t;"}
	target := execResult{stdout: "1\n2\n"}
	ref := execResult{stdout: "1\n"}
	assert.Equal(t, outcomeLogicBug, classify(cand, target, ref))
}

func TestClassifyCrash(t *testing.T) {
	cand := candidateT{query: "SELECT 1;", dbPath: "/nonexistent/none.db"}
	target := execResult{signaled: true}
	ref := execResult{stdout: "1\n"}
	assert.Equal(t, outcomeCrash, classify(cand, target, ref))

	target = execResult{stderr: "Error: database disk image is malformed"}
	assert.Equal(t, outcomeCrash, classify(cand, target, ref))
}

func TestClassifyInvalidQuery(t *testing.T) {
	cand := candidateT{query: "SELEC 1;"}
	target := execResult{stderr: "Error: near \"SELEC\": syntax error"}
	ref := execResult{}
	assert.Equal(t, outcomeInvalidQuery, classify(cand, target, ref))

	// Both sides failing is a malformed query, not a bug.
	ref = execResult{stderr: "Error: near \"SELEC\": syntax error"}
	assert.Equal(t, outcomeInvalidQuery, classify(cand, target, ref))
}

func TestClassifyRefError(t *testing.T) {
	cand := candidateT{query: "SELECT 1;", dbPath: "/nonexistent/none.db"}
	target := execResult{stdout: "1\n"}
	ref := execResult{stderr: "Error: malformed database schema"}
	assert.Equal(t, outcomeRefError, classify(cand, target, ref))
}

// ****** Path identification ******

func TestPathIDDeterministic(t *testing.T) {
	cand := candidateT{query: "SELECT x FROM t;"}
	refRes := execResult{stdout: "1\n2\n"}
	results := map[string]runResult{
		"bin-a": {outcome: outcomePass},
		"bin-b": {outcome: outcomeLogicBug},
	}

	id := pathID(results, refRes, cand)
	assert.Len(t, id, 16)
	assert.Equal(t, id, pathID(results, refRes, cand))
}

func TestPathIDSensitive(t *testing.T) {
	cand := candidateT{query: "SELECT x FROM t;"}
	refRes := execResult{stdout: "1\n2\n"}
	base := pathID(map[string]runResult{
		"bin-a": {outcome: outcomePass},
	}, refRes, cand)

	otherOutcome := pathID(map[string]runResult{
		"bin-a": {outcome: outcomeLogicBug},
	}, refRes, cand)
	assert.NotEqual(t, base, otherOutcome)

	otherOutput := pathID(map[string]runResult{
		"bin-a": {outcome: outcomePass},
	}, execResult{stdout: "1\n3\n"}, cand)
	assert.NotEqual(t, base, otherOutput)
}

// ****** Database state ******

func TestBackupAndRestoreDatabase(t *testing.T) {
	dir, err := ioutil.TempDir("", "fuzzqlite-db")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	dbPath := filepath.Join(dir, "scratch.db")
	require.NoError(t, ioutil.WriteFile(dbPath, []byte("pristine"), 0644))

	backupDatabases([]string{dbPath})
	backupPath := filepath.Join(dir, "scratch_copy.db")
	backup, err := ioutil.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "pristine", string(backup))

	require.NoError(t, ioutil.WriteFile(dbPath, []byte("corrupted"), 0644))
	assert.True(t, restoreDatabase(dbPath))
	restored, err := ioutil.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "pristine", string(restored))
}

func TestRestoreDatabaseNoBackup(t *testing.T) {
	assert.False(t, restoreDatabase("/nonexistent/none.db"))
}

// ****** Seed loading ******

func TestLoadSeedQueries(t *testing.T) {
	dir, err := ioutil.TempDir("", "fuzzqlite-seeds")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	require.NoError(t, ioutil.WriteFile(
		filepath.Join(dir, "a.sql"), []byte("SELECT 1;\n"), 0644))
	require.NoError(t, ioutil.WriteFile(
		filepath.Join(dir, "b.sql"), []byte("SELECT 2;"), 0644))
	require.NoError(t, ioutil.WriteFile(
		filepath.Join(dir, "empty.sql"), []byte("  \n"), 0644))
	require.NoError(t, ioutil.WriteFile(
		filepath.Join(dir, "notes.txt"), []byte("SELECT 3;"), 0644))

	queries := loadSeedQueries(dir)
	assert.ElementsMatch(t, []string{"SELECT 1;", "SELECT 2;"}, queries)
}

func TestLoadSeedQueriesMissingDir(t *testing.T) {
	assert.Nil(t, loadSeedQueries(""))
	assert.Nil(t, loadSeedQueries("/nonexistent/seeds"))
}
