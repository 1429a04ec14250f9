package main

import (
	"fmt"
	"log"

	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/buger/goterm"
	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/stat"
)

// *****************************************************************************
// ******************************** Bug Tracker ********************************
// Write a reproducer directory for every run that looks like a real bug:
// the query, both shells' outputs, and which versions disagreed.

type bugTracker struct {
	outputDir string

	bugNb   int
	perType map[outcomeT]int
}

func makeBugTracker(outputDir string) *bugTracker {
	const defaultBugDir = "bug_reports"
	if len(outputDir) == 0 {
		outputDir = defaultBugDir
	}
	outputDir = filepath.Join(outputDir,
		time.Now().Format("20060102_150405"))

	err := os.MkdirAll(outputDir, 0755)
	if err != nil {
		log.Printf("Couldn't create bug report directory: %v.\n", err)
		return &bugTracker{perType: make(map[outcomeT]int)}
	}
	return &bugTracker{
		outputDir: outputDir,
		perType:   make(map[outcomeT]int),
	}
}

// saveReproducer writes one bug directory and returns its path. An empty
// return means saving failed; the run result keeps its outcome either way.
func (bugs *bugTracker) saveReproducer(res runResult) string {
	bugs.bugNb++
	bugs.perType[res.outcome]++
	if len(bugs.outputDir) == 0 {
		return ""
	}

	bugDir := filepath.Join(bugs.outputDir,
		fmt.Sprintf("%s_%04d", res.outcome, bugs.bugNb))
	err := os.Mkdir(bugDir, 0755)
	if err != nil {
		log.Printf("Couldn't create bug directory: %v.\n", err)
		return ""
	}

	err = ioutil.WriteFile(filepath.Join(bugDir, "query.sql"),
		[]byte(res.cand.query+"\n"), 0644)
	if err != nil {
		log.Printf("Couldn't write reproducer query: %v.\n", err)
	}

	report := fmt.Sprintf("outcome: %s\ndatabase: %s\n\n"+
		"target version: %s\ntarget stdout:\n%s\ntarget stderr:\n%s\n\n"+
		"reference version: %s\nreference stdout:\n%s\nreference stderr:\n%s\n",
		res.outcome, res.cand.dbPath,
		res.targetVersion, res.target.stdout, res.target.stderr,
		res.refVersion, res.ref.stdout, res.ref.stderr)
	err = ioutil.WriteFile(filepath.Join(bugDir, "report.txt"),
		[]byte(report), 0644)
	if err != nil {
		log.Printf("Couldn't write reproducer report: %v.\n", err)
	}

	return bugDir
}

// *****************************************************************************
// ****************************** Status Display *******************************

// How many recent trials the live screen keeps visible.
const recentTrialMax = 12

type statusDisplay struct {
	targets   []string
	reference string

	startT       time.Time
	totalTrials  int
	currentTrial int

	stats      map[string][]uint // per target, indexed by outcomeT
	recent     []runResult
	grammarCov float64

	lastT     time.Time
	trialSecs []float64

	live bool
}

func makeStatusDisplay(targets []string, reference string) *statusDisplay {
	stats := make(map[string][]uint)
	for _, target := range targets {
		stats[target] = make([]uint, outcomeNb)
	}
	return &statusDisplay{
		targets:   targets,
		reference: reference,
		stats:     stats,
	}
}

func (disp *statusDisplay) start(totalTrials int) {
	disp.startT = time.Now()
	disp.lastT = disp.startT
	disp.totalTrials = totalTrials
	disp.currentTrial = 0
	disp.live = !debug

	fmt.Println("FuzzQLite - SQLite Fuzzer")
	for _, target := range disp.targets {
		fmt.Printf("Target:    %s (%s)\n", binVersion(target), target)
	}
	fmt.Printf("Reference: %s (%s)\n",
		binVersion(disp.reference), disp.reference)
	fmt.Printf("Trials:    %d\n\n", totalTrials)
}

func (disp *statusDisplay) record(results map[string]runResult,
	grammarCov float64) {

	disp.currentTrial++
	disp.grammarCov = grammarCov
	now := time.Now()
	disp.trialSecs = append(disp.trialSecs, now.Sub(disp.lastT).Seconds())
	disp.lastT = now
	for _, target := range disp.targets {
		res := results[target]
		disp.stats[target][res.outcome]++
		disp.recent = append(disp.recent, res)
	}
	if len(disp.recent) > recentTrialMax {
		disp.recent = disp.recent[len(disp.recent)-recentTrialMax:]
	}

	if disp.live {
		disp.printStatus()
	}
}

func (disp *statusDisplay) throughput() float64 {
	elapsed := time.Since(disp.startT).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return float64(disp.currentTrial) / elapsed
}

func (disp *statusDisplay) remaining() time.Duration {
	rate := disp.throughput()
	if rate == 0 {
		return 0
	}
	secs := float64(disp.totalTrials-disp.currentTrial) / rate
	return time.Duration(secs) * time.Second
}

func (disp *statusDisplay) printStatus() {
	cleanScreen()

	gtPrintf("FuzzQLite\n\n")
	gtPrintf("progress: %d/%d trials (%.1f%%)\n", disp.currentTrial,
		disp.totalTrials,
		100*float64(disp.currentTrial)/float64(disp.totalTrials))
	gtPrintf("elapsed: %v - throughput: %.2f trials/s - remaining: %v\n",
		time.Since(disp.startT).Round(time.Second), disp.throughput(),
		disp.remaining().Round(time.Second))
	if disp.grammarCov > 0 {
		gtPrintf("grammar coverage: %.1f%%\n", disp.grammarCov)
	}

	gtPrintf("\nrecent trials:\n")
	for _, res := range disp.recent {
		query := res.cand.query
		if len(query) > 100 {
			query = query[:97] + "..."
		}
		gtPrintf("  [%s] %s\n", res.outcome, query)
	}

	gtPrintf("\n")
	for _, target := range disp.targets {
		gtPrintf("%s: ", binVersion(target))
		for outcome := outcomeT(0); outcome < outcomeNb; outcome++ {
			gtPrintf("%s=%d ", outcome, disp.stats[target][outcome])
		}
		gtPrintf("\n")
	}

	goterm.Flush()
}

// finish prints the end-of-session summary table and where reproducers went.
func (disp *statusDisplay) finish(bugs *bugTracker) {
	disp.stop()

	header := []string{"target"}
	for outcome := outcomeT(0); outcome < outcomeNb; outcome++ {
		header = append(header, outcome.String())
	}
	var content [][]string
	for _, target := range disp.targets {
		row := []string{binVersion(target)}
		for outcome := outcomeT(0); outcome < outcomeNb; outcome++ {
			row = append(row, fmt.Sprintf("%d", disp.stats[target][outcome]))
		}
		content = append(content, row)
	}
	printTable(header, content)

	if bugs.bugNb > 0 {
		fmt.Printf("Found %d bug(s). Reproducers saved to: %s\n",
			bugs.bugNb, bugs.outputDir)
	} else {
		fmt.Println("No bugs found.")
	}

	elapsed := time.Since(disp.startT)
	fmt.Printf("Total time: %v\n", elapsed.Round(time.Second))
	if disp.currentTrial > 0 {
		fmt.Printf("Average speed: %.2f trials/s\n", disp.throughput())
	}
	if len(disp.trialSecs) > 1 {
		mean, std := stat.MeanStdDev(disp.trialSecs, nil)
		fmt.Printf("Trial time: %.0fms +/- %.0fms\n", 1000*mean, 1000*std)
	}
}

func (disp *statusDisplay) stop() { disp.live = false }

// *****************************************************************************
// ****************************** Print Helpers *******************************

func printTable(header []string, content [][]string) {
	if len(content) == 0 {
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	for _, c := range content {
		table.Append(c)
	}
	table.Render()
}

func gtPrintf(format string, a ...interface{}) {
	_, err := goterm.Printf(format, a...)
	if err != nil {
		log.Printf("Error while using goterm: %v.\n", err)
	}
}

func cleanScreen() {
	goterm.MoveCursor(1, 1)
	width := goterm.Width()
	strLine := ""

	if width > 0 {
		line := make([]byte, width)
		for i := range line {
			line[i] = 0x20
		}
		strLine = string(line)
	}

	var err error
	height := goterm.Height()
	for i := 0; i < height; i++ {
		_, err = goterm.Printf("%s\n", strLine)
	}
	if err != nil {
		log.Printf("Problem while cleaning screen: %v.\n", err)
	}

	goterm.Flush()
	goterm.MoveCursor(1, 1)
}

// Debug print will only print if in debug mode.
func dbgPr(format string, a ...interface{}) {
	if debug {
		fmt.Printf(format, a...)
	}
}
