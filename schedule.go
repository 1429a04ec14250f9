package main

import (
	"log"
	"math"
	"math/rand"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// *****************************************************************************
// ******************************* Power Schedule ******************************
//
// Decides which population member to fuzz next. The base schedule weighs all
// seeds equally; the frequency-based schedule (AFLFast style) assigns energy
// inversely proportional to how often a seed's path was exercised, so rarely
// seen paths get fuzzed more.

type powerSchedule interface {
	// recordPath bumps the frequency of this execution path. Reports whether
	// the path was seen for the first time.
	recordPath(pathID string) bool
	// choose draws one seed from the population, energy-weighted. Caller bug
	// to pass an empty population.
	choose(population seedList) *seedT
	// reset drops all collected path frequencies.
	reset()
}

// ****** Uniform schedule ******

type uniformSchedule struct {
	pathFreq map[string]uint
	rSrc     *rand.Rand
}

func makeUniformSchedule() *uniformSchedule {
	return &uniformSchedule{
		pathFreq: make(map[string]uint),
		rSrc:     rand.New(rand.NewSource(rand.Int63())),
	}
}

func (sched *uniformSchedule) recordPath(pathID string) bool {
	sched.pathFreq[pathID]++
	return sched.pathFreq[pathID] == 1
}

func (sched *uniformSchedule) choose(population seedList) *seedT {
	if len(population) == 0 {
		log.Panic("schedule choose called on empty population")
	}
	seedPt := population[sched.rSrc.Intn(len(population))]
	seedPt.energy = 1
	seedPt.execNb++
	return seedPt
}

func (sched *uniformSchedule) reset() { sched.pathFreq = make(map[string]uint) }

// ****** Frequency-based schedule ******

type aflFastSchedule struct {
	exponent float64

	pathFreq map[string]uint
	rSrc     *rand.Rand
	smplSrc  exprand.Source
}

func makeAFLFastSchedule(exponent float64) *aflFastSchedule {
	return &aflFastSchedule{
		exponent: exponent,
		pathFreq: make(map[string]uint),
		rSrc:     rand.New(rand.NewSource(rand.Int63())),
		smplSrc:  exprand.NewSource(rand.Uint64()),
	}
}

func (sched *aflFastSchedule) recordPath(pathID string) bool {
	sched.pathFreq[pathID]++
	return sched.pathFreq[pathID] == 1
}

// assignEnergy sets each seed's energy to 1/freq^exponent of its path. A seed
// whose path was never recorded counts as seen once.
func (sched *aflFastSchedule) assignEnergy(population seedList) {
	for _, seedPt := range population {
		freq := sched.pathFreq[seedPt.pathID]
		if freq == 0 {
			freq = 1
		}
		seedPt.energy = 1 / math.Pow(float64(freq), sched.exponent)
	}
}

func (sched *aflFastSchedule) choose(population seedList) *seedT {
	if len(population) == 0 {
		log.Panic("schedule choose called on empty population")
	}
	sched.assignEnergy(population)

	weights := make([]float64, len(population))
	var total float64
	for i, seedPt := range population {
		weights[i] = seedPt.energy
		total += seedPt.energy
	}

	var chosen int
	if total > 0 {
		w := sampleuv.NewWeighted(weights, sched.smplSrc)
		if i, ok := w.Take(); ok {
			chosen = i
		}
	} else {
		chosen = sched.rSrc.Intn(len(population))
	}

	seedPt := population[chosen]
	seedPt.execNb++
	return seedPt
}

func (sched *aflFastSchedule) reset() { sched.pathFreq = make(map[string]uint) }
