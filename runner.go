package main

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"io"
	"io/ioutil"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// *****************************************************************************
// *************************** Differential Runner *****************************
//
// Runs each candidate on every target sqlite3 binary and on the reference
// binary, then classifies each target by comparing the two. Statements are
// wrapped in a rolled-back transaction so most runs leave the scratch
// databases untouched; after a true crash the database is restored from its
// pristine copy.

// A hanged shell means the query found a pathological plan; after this long
// the process is killed and the run counts as crashed.
const execTimeOut = 30 * time.Second

type outcomeT int

const (
	outcomePass outcomeT = iota
	outcomeCrash
	outcomeLogicBug
	outcomeRefError
	outcomeInvalidQuery

	outcomeNb
)

func (outcome outcomeT) String() string {
	switch outcome {
	case outcomePass:
		return "PASS"
	case outcomeCrash:
		return "CRASH"
	case outcomeLogicBug:
		return "LOGIC_BUG"
	case outcomeRefError:
		return "REFERENCE_ERROR"
	case outcomeInvalidQuery:
		return "INVALID_QUERY"
	}
	log.Panicf("unknown outcome: %d", int(outcome))
	return ""
}

// execResult is the raw result of one sqlite3 invocation.
type execResult struct {
	stdout, stderr string
	sig            unix.Signal
	signaled       bool
	hanged         bool
	startErr       error
}

// failed reports whether the invocation counts as crashed for outcome
// classification. The shell prints errors and exits zero, so stderr output
// counts the same as an abnormal exit.
func (res execResult) failed() bool {
	return res.signaled || res.hanged || res.startErr != nil ||
		len(res.stderr) > 0
}

// runResult is the classified result of one candidate on one target.
type runResult struct {
	outcome outcomeT
	cand    candidateT

	targetVersion, refVersion string
	target, ref               execResult

	bugDir string
}

// sessionRunner is what the fuzzing loop drives. run executes one candidate
// and returns the per-target classification plus an identifier of the
// execution path the candidate exercised.
type sessionRunner interface {
	run(cand candidateT) (map[string]runResult, string)
	startSession(totalTrials int)
	recordResults(results map[string]runResult, grammarCov float64)
	finishSession()
	cleanup()
}

// ****** SQLite runner ******

type sqliteRunner struct {
	targets   []string
	reference string
	timeout   time.Duration

	disp *statusDisplay
	bugs *bugTracker
}

func makeSQLiteRunner(targets []string, reference string,
	bugs *bugTracker) *sqliteRunner {

	if len(targets) == 0 {
		log.Fatal("No target sqlite3 binary given.")
	}
	return &sqliteRunner{
		targets:   targets,
		reference: reference,
		timeout:   execTimeOut,
		disp:      makeStatusDisplay(targets, reference),
		bugs:      bugs,
	}
}

// binVersion extracts a version tag from binary paths like sqlite3-3.26.0.
func binVersion(binPath string) string {
	base := filepath.Base(binPath)
	if i := strings.LastIndex(base, "-"); i >= 0 {
		return base[i+1:]
	}
	return "unknown"
}

// wrapQuery puts the statements inside a transaction that is always rolled
// back, so passing runs do not mutate the scratch database.
func wrapQuery(query string) string {
	return "BEGIN TRANSACTION;\n" + query + "\n;\nROLLBACK;"
}

func (runner *sqliteRunner) execSQLite(binPath string, cand candidateT) (
	res execResult) {

	cmd := exec.Command(binPath, cand.dbPath)
	cmd.Stdin = strings.NewReader(wrapQuery(cand.query))
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout, cmd.Stderr = &outBuf, &errBuf

	if err := cmd.Start(); err != nil {
		res.startErr = err
		return res
	}

	timer := time.AfterFunc(runner.timeout, func() {
		res.hanged = true
		if err := cmd.Process.Kill(); err != nil {
			dbgPr("Could not kill %s after timeout: %v\n",
				filepath.Base(binPath), err)
		}
	})
	err := cmd.Wait()
	timer.Stop()

	res.stdout, res.stderr = outBuf.String(), errBuf.String()
	if err != nil && cmd.ProcessState != nil {
		ws := unix.WaitStatus(cmd.ProcessState.Sys().(syscall.WaitStatus))
		if ws.Signaled() {
			res.signaled = true
			res.sig = ws.Signal()
		}
	}
	return res
}

// ****** Output normalization ******

var reFloat = regexp.MustCompile(`^-?\d+\.\d+([eE][+-]?\d+)?$`)

// normalizeOutput makes shell output comparable across sqlite versions:
// cells are trimmed, floats rounded, and rows sorted when the query imposes
// no order of its own.
func normalizeOutput(output, query string) string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if strings.TrimSpace(line) == "" {
			lines = append(lines, "")
			continue
		}
		parts := strings.Split(line, "|")
		for i, part := range parts {
			part = strings.TrimSpace(part)
			if reFloat.MatchString(part) {
				if f, err := strconv.ParseFloat(part, 64); err == nil {
					part = fmt.Sprintf("%.8f", f)
				}
			}
			parts[i] = part
		}
		lines = append(lines, strings.Join(parts, "|"))
	}
	if len(lines) > 0 && !strings.Contains(strings.ToLower(query), "order by") {
		sort.Strings(lines)
	}
	return strings.Join(lines, "\n")
}

// Error classes that both shells routinely emit on generated inputs; they
// mean the query was malformed, not that a binary misbehaved.
var ignoredErrPatterns = []*regexp.Regexp{
	regexp.MustCompile("not currently supported"),
	regexp.MustCompile("syntax error"),
	regexp.MustCompile("no such function"),
	regexp.MustCompile("Parse error"),
}

func ignorableError(errMsg, query string) bool {
	for _, re := range ignoredErrPatterns {
		if re.MatchString(errMsg) {
			return true
		}
	}
	return strings.Contains(errMsg, "no query solution") &&
		strings.Contains(query, "INDEXED BY")
}

// ****** Database state ******

// restoreDatabase copies the pristine <name>_copy.db backup over a database a
// crashed run may have corrupted.
func restoreDatabase(dbPath string) bool {
	dir, base := filepath.Split(dbPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	backupPath := filepath.Join(dir, name+"_copy.db")
	if _, err := os.Stat(backupPath); err != nil {
		dbgPr("No backup to restore %s from: %v\n", dbPath, err)
		return false
	}
	if err := copyFile(backupPath, dbPath); err != nil {
		log.Printf("Could not restore %s: %v\n", dbPath, err)
		return false
	}
	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// backupDatabases snapshots each scratch database once, before fuzzing
// starts, so crashes can restore them.
func backupDatabases(dbPaths []string) {
	for _, dbPath := range dbPaths {
		dir, base := filepath.Split(dbPath)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		backupPath := filepath.Join(dir, name+"_copy.db")
		if err := copyFile(dbPath, backupPath); err != nil {
			log.Fatalf("Could not back up database %s: %v\n", dbPath, err)
		}
	}
}

// ****** Classification ******

func classify(cand candidateT, target, ref execResult) outcomeT {
	targetCrashed, refCrashed := target.failed(), ref.failed()

	switch {
	case targetCrashed && !refCrashed:
		if ignorableError(target.stderr, cand.query) {
			return outcomeInvalidQuery
		}
		restoreDatabase(cand.dbPath)
		return outcomeCrash

	case !targetCrashed && refCrashed:
		defer restoreDatabase(cand.dbPath)
		if ignorableError(ref.stderr, cand.query) {
			return outcomeInvalidQuery
		}
		return outcomeRefError

	case !targetCrashed && !refCrashed:
		if normalizeOutput(target.stdout, cand.query) !=
			normalizeOutput(ref.stdout, cand.query) {
			return outcomeLogicBug
		}
		return outcomePass

	default:
		return outcomeInvalidQuery
	}
}

func (runner *sqliteRunner) run(cand candidateT) (
	map[string]runResult, string) {

	refRes := runner.execSQLite(runner.reference, cand)
	refVersion := binVersion(runner.reference)

	results := make(map[string]runResult, len(runner.targets))
	for _, target := range runner.targets {
		targetRes := runner.execSQLite(target, cand)
		results[target] = runResult{
			outcome:       classify(cand, targetRes, refRes),
			cand:          cand,
			targetVersion: binVersion(target),
			refVersion:    refVersion,
			target:        targetRes,
			ref:           refRes,
		}
	}
	return results, pathID(results, refRes, cand)
}

// pathID identifies the execution path a candidate exercised. Without
// instrumented binaries we approximate the path by the observable behavior:
// each target's outcome class plus the normalized reference output.
func pathID(results map[string]runResult, refRes execResult,
	cand candidateT) string {

	targets := make([]string, 0, len(results))
	for target := range results {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	h := fnv.New64a()
	for _, target := range targets {
		io.WriteString(h, results[target].outcome.String())
		io.WriteString(h, "\x00")
	}
	io.WriteString(h, normalizeOutput(refRes.stdout, cand.query))
	return fmt.Sprintf("%016x", h.Sum64())
}

// ****** Session management ******

func (runner *sqliteRunner) startSession(totalTrials int) {
	runner.disp.start(totalTrials)
}

func (runner *sqliteRunner) recordResults(results map[string]runResult,
	grammarCov float64) {

	for target, res := range results {
		if res.outcome == outcomeCrash || res.outcome == outcomeLogicBug ||
			res.outcome == outcomeRefError {
			res.bugDir = runner.bugs.saveReproducer(res)
			results[target] = res
		}
	}
	runner.disp.record(results, grammarCov)
}

func (runner *sqliteRunner) finishSession() {
	runner.disp.finish(runner.bugs)
}

func (runner *sqliteRunner) cleanup() {
	runner.disp.stop()
}

// loadSeedQueries reads one SQL statement list per file from a seed
// directory. Missing directory just means an empty seed corpus.
func loadSeedQueries(dir string) (queries []string) {
	if dir == "" {
		return nil
	}
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		log.Printf("Could not read seed directory %s: %v\n", dir, err)
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := ioutil.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Printf("Could not read seed %s: %v\n", entry.Name(), err)
			continue
		}
		if query := strings.TrimSpace(string(data)); len(query) > 0 {
			queries = append(queries, query)
		}
	}
	return queries
}
