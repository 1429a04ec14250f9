package main

import (
	"fmt"
	"log"

	"math/rand"
	"os"
	"os/signal"
	"strings"
	"time"
)

var (
	// Making it global so can maybe export it and reproduce the run (assuming
	// the shells are deterministic).
	randSeed    int64
	initProblem bool

	verbose bool
	debug   bool
)

func init() {
	randSeed = time.Now().UTC().UnixNano()
	rand.Seed(randSeed)
}

func main() {
	args := Parse()
	StartFuzz(args, nil)
}

// StartFuzz is the main function. Expects fuzzing arguments, fuzz for the
// requested number of trials (or until interrupted).
func StartFuzz(args Arguments, stopChan chan struct{}) {
	if stopChan == nil {
		stopChan = makeInterruptChan()
	}

	initProblem = false
	postParse(&args)
	if initProblem {
		log.Println("!!! Problem at initialization. Cannot fuzz :( !!!")
		return
	}

	gen, err := newCombinedEngine(loadSQLGrammar(), startSymbol, defaultSchema)
	if err != nil {
		log.Fatalf("Could not load the SQL grammar: %v.\n", err)
	}
	gen.minNonterminals = args.MinNonterminals
	gen.maxNonterminals = args.MaxNonterminals

	seedQueries := loadSeedQueries(args.SeedDir)
	if len(seedQueries) == 0 {
		seedQueries = defaultSeedQueries()
	}
	seeds := makeSeedCorpus(seedQueries, args.DBPaths)
	if verbose || debug {
		log.Printf("Seed corpus: %d queries over %d database(s).\n",
			len(seeds), len(args.DBPaths))
	}

	bugs := makeBugTracker(args.SaveDir)
	runner := makeSQLiteRunner(args.Targets, args.Reference, bugs)

	fz := makeGreyboxFuzzer(seeds, makeAFLFastSchedule(args.Exponent), gen,
		args.DBPaths, args)
	fz.stopChan = stopChan

	fz.runs(runner, args.Trials)

	if debug {
		dbgPr("Final population:\n\t%s\n",
			strings.Join(fz.population.queries(), "\n\t"))
		dbgPr("Covered grammar expansions:\n\t%s\n",
			strings.Join(gen.cov.expansionCoverage(), "\n\t"))
	}
}

// makeInterruptChan turns SIGINT into a loop stop request, so an interrupted
// session still prints its summary.
func makeInterruptChan() chan struct{} {
	stopChan := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		fmt.Println("\nFuzzing interrupted by user.")
		close(stopChan)
	}()
	return stopChan
}

// *****************************************************************************
// ****************************** Greybox Fuzzer *******************************
//
// Rotates through three phases: replay the given seeds once, then alternate
// between mutating population members and generating fresh queries from the
// grammar, each phase running a small random number of trials. The
// population grows only on inputs that exercised a first-seen execution path
// and passed.

type greyboxFuzzer struct {
	seeds     []candidateT
	seedIndex int

	population seedList
	schedule   powerSchedule

	mut mutator
	gen *genEngine

	dbPaths        []string
	requireAllPass bool

	timesToMutate   int
	timesToGenerate int

	inp      candidateT
	rSrc     *rand.Rand
	stopChan chan struct{}
}

func makeGreyboxFuzzer(seeds []candidateT, schedule powerSchedule,
	gen *genEngine, dbPaths []string, args Arguments) *greyboxFuzzer {

	rSrc := rand.New(rand.NewSource(rand.Int63()))
	fz := &greyboxFuzzer{
		seeds:          seeds,
		schedule:       schedule,
		mut:            makeSQLMutator(rSrc, args.MinMutations, args.MaxMutations),
		gen:            gen,
		dbPaths:        dbPaths,
		requireAllPass: args.StrictPass,
		rSrc:           rSrc,
	}
	fz.reset()
	return fz
}

func (fz *greyboxFuzzer) reset() {
	fz.population = nil
	fz.seedIndex = 0
	fz.schedule.reset()
	fz.timesToMutate = 1 + fz.rSrc.Intn(10)
	fz.timesToGenerate = 1 + fz.rSrc.Intn(10)
}

// createCandidate mutates an energy-weighted draw from the population.
func (fz *greyboxFuzzer) createCandidate() candidateT {
	seedPt := fz.schedule.choose(fz.population)
	return fz.mut.mutate(seedPt.cand)
}

// fuzz produces the next input: seed replay first, then the
// mutation/generation rotation.
func (fz *greyboxFuzzer) fuzz() candidateT {
	switch {
	case fz.seedIndex < len(fz.seeds):
		fz.inp = fz.seeds[fz.seedIndex]
		fz.seedIndex++

	case fz.timesToMutate > 0 && len(fz.population) > 0:
		fz.inp = fz.createCandidate()
		fz.timesToMutate--

	default:
		query, err := fz.gen.fuzz()
		if err != nil {
			log.Fatalf("Query generation failed: %v.\n", err)
		}
		fz.inp = candidateT{
			query:  query,
			dbPath: fz.dbPaths[fz.rSrc.Intn(len(fz.dbPaths))],
		}
		fz.timesToGenerate--

		if fz.timesToGenerate <= 0 {
			fz.timesToGenerate = 1 + fz.rSrc.Intn(10)
			fz.timesToMutate = 1 + fz.rSrc.Intn(10)
		}
	}

	return fz.inp
}

// updatePopulation grows the population when the input exercised a path no
// earlier trial did and at least one target passed (every target, under
// strict-pass).
func (fz *greyboxFuzzer) updatePopulation(results map[string]runResult,
	pathID string, isNewPath bool) {

	if !isNewPath {
		return
	}

	var passNb int
	for _, res := range results {
		if res.outcome == outcomePass {
			passNb++
		}
	}
	if passNb == 0 {
		return
	}
	if fz.requireAllPass && passNb < len(results) {
		return
	}

	fz.population = append(fz.population, makeSeed(fz.inp, pathID))
	dbgPr("Population grew to %d (path %s)\n", len(fz.population), pathID)
}

// run executes one fuzzed input.
func (fz *greyboxFuzzer) run(runner sessionRunner) (map[string]runResult, string) {
	return runner.run(fz.fuzz())
}

// runs drives the whole session. The summary prints even when the loop is
// stopped early.
func (fz *greyboxFuzzer) runs(runner sessionRunner, trials int) {
	defer runner.cleanup()
	runner.startSession(trials)
	defer runner.finishSession()

	for i := 0; i < trials; i++ {
		select {
		case <-fz.stopChan:
			return
		default:
		}

		results, pathID := fz.run(runner)
		isNewPath := fz.schedule.recordPath(pathID)
		fz.updatePopulation(results, pathID, isNewPath)
		runner.recordResults(results, fz.gen.coveragePercent())
	}
}
