package main

import (
	"fmt"
	"log"

	"flag"
	"math/rand"
	"os"
	"strings"
)

// *****************************************************************************
// ******************************* Setup Functions *****************************
// *****************************************************************************

// *****************************************************************************
// *************************** Command Line Interface **************************

// Arguments are expected to be provided by the user (see CLI help for more info).
type Arguments struct {
	// Binaries under test
	Targets   []string
	Reference string

	// Scratch databases
	DBPaths []string

	// Fuzzing options
	SeedDir      string
	Trials       int
	Exponent     float64
	MinMutations int
	MaxMutations int
	StrictPass   bool

	// Generation options
	MinNonterminals int
	MaxNonterminals int

	// Others
	Verbose bool
	SaveDir string
}

// Parse is the command line interface implementation.
func Parse() (args Arguments) {
	var targets, dbs string
	flag.StringVar(&targets, "targets", "",
		"Target sqlite3 binaries to test.\n"+
			"If multiple, comma separated, no space.")
	flag.StringVar(&args.Reference, "ref", "",
		"Reference sqlite3 binary to compare against.")
	flag.StringVar(&dbs, "dbs", "",
		"Scratch database files queries run against.\n"+
			"If multiple, comma separated, no space.")

	flag.StringVar(&args.SeedDir, "i", "",
		"Input directory with .sql seed files.")
	flag.StringVar(&args.SaveDir, "o", "", "Output directory (bug reproducers).")
	flag.IntVar(&args.Trials, "n", 1000, "Number of fuzzing trials.")
	flag.Float64Var(&args.Exponent, "exponent", 5,
		"Power schedule exponent (higher favors rare paths more).")
	flag.IntVar(&args.MinMutations, "min-mut", 1,
		"Minimum number of stacked mutations per candidate.")
	flag.IntVar(&args.MaxMutations, "max-mut", 1,
		"Maximum number of stacked mutations per candidate.")
	flag.IntVar(&args.MinNonterminals, "min-nt", 0,
		"Minimum number of nonterminals in a generated derivation tree.")
	flag.IntVar(&args.MaxNonterminals, "max-nt", 30,
		"Maximum number of nonterminals in a generated derivation tree.")
	flag.BoolVar(&args.StrictPass, "strict-pass", false,
		"Grow the population only when every target passes\n"+
			"(default: any target passing is enough).")

	var seedOption int64
	flag.Int64Var(&seedOption, "seed", 0,
		"Random seed for reproducibility (0 means time-based).")
	var debugOption bool
	flag.BoolVar(&debugOption, "debug", false, "Print debug information")

	// *********************
	// ****** Parsing ******
	flag.Parse()
	if len(targets) == 0 {
		flag.Usage()
		fmt.Println("")
		log.Fatalf("targets parameter is mandatory\n")
	}
	if len(args.Reference) == 0 {
		flag.Usage()
		fmt.Println("")
		log.Fatalf("ref parameter is mandatory\n")
	}

	args.Targets = splitList(targets)
	args.DBPaths = splitList(dbs)

	debug = debugOption
	args.Verbose = !debug
	verbose = args.Verbose

	if seedOption != 0 {
		randSeed = seedOption
		rand.Seed(randSeed)
	}
	if debug {
		log.Printf("random seed: %d\n", randSeed)
	}

	return
}

func splitList(str string) (items []string) {
	for _, item := range strings.Split(str, ",") {
		if len(item) > 0 {
			items = append(items, item)
		}
	}
	return items
}

// postParse verifies that every binary and database the arguments name
// actually exists, and snapshots the databases for crash recovery.
func postParse(args *Arguments) {
	for _, binPath := range append(append([]string{}, args.Targets...),
		args.Reference) {
		if _, err := os.Stat(binPath); err != nil {
			log.Printf("Cannot find sqlite3 binary %s: %v.\n", binPath, err)
			initProblem = true
		}
	}

	if len(args.DBPaths) == 0 {
		log.Println("No scratch database given; using ':memory:'.")
		args.DBPaths = []string{":memory:"}
		return
	}
	for _, dbPath := range args.DBPaths {
		if _, err := os.Stat(dbPath); err != nil {
			log.Printf("Cannot find database %s: %v.\n", dbPath, err)
			initProblem = true
		}
	}
	if !initProblem {
		backupDatabases(args.DBPaths)
	}
}

// *****************************************************************************
// ******************************** Seed Corpus ********************************

// makeSeedCorpus pairs each seed query with a scratch database, cycling
// through the databases when there are fewer than queries.
func makeSeedCorpus(queries, dbPaths []string) (seeds []candidateT) {
	if len(queries) == 0 || len(dbPaths) == 0 {
		return nil
	}
	for i, query := range queries {
		seeds = append(seeds, candidateT{
			query:  query,
			dbPath: dbPaths[i%len(dbPaths)],
		})
	}
	return seeds
}

// defaultSeedQueries keeps the corpus from starting empty when no seed
// directory is given: a handful of statements that run against the default
// schema.
func defaultSeedQueries() []string {
	return []string{
		"SELECT * FROM users;",
		"SELECT COUNT(*) FROM orders;",
		"SELECT name FROM users WHERE id > 0 ORDER BY name ASC;",
		"SELECT price FROM products WHERE price BETWEEN 1 AND 100;",
		"SELECT DISTINCT category FROM products;",
		"INSERT INTO reviews (rating) VALUES (5);",
		"UPDATE products SET price = 0 WHERE id = 1;",
		"DELETE FROM orders WHERE quantity < 0;",
	}
}
