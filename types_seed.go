package main

import (
	"fmt"
	"strings"
)

/******************************************************************************/
/****************************** Seed Management *******************************/
/******************************************************************************/

// candidateT is one input about to be run: the SQL text plus the scratch
// database it executes against.
type candidateT struct {
	query  string
	dbPath string
}

func (cand candidateT) String() string {
	return fmt.Sprintf("%s @ %s", cand.query, cand.dbPath)
}

// seedT is a population member. pathID identifies the execution path the
// seed exercised when it entered the population; energy is recomputed by the
// power schedule before each selection.
type seedT struct {
	cand   candidateT
	pathID string
	energy float64

	// Collected data
	execNb uint
}

type seedList []*seedT

func (seedPts seedList) queries() []string {
	strs := make([]string, len(seedPts))
	for i, seedPt := range seedPts {
		strs[i] = seedPt.cand.query
	}
	return strs
}

func (seedPts seedList) String() string {
	strs := make([]string, len(seedPts))
	for i, seedPt := range seedPts {
		strs[i] = fmt.Sprintf("%q (path %s, energy %.3g)",
			seedPt.cand.query, seedPt.pathID, seedPt.energy)
	}
	return strings.Join(strs, "\n")
}

func makeSeed(cand candidateT, pathID string) *seedT {
	return &seedT{cand: cand, pathID: pathID, energy: 1}
}
