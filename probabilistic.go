package main

import (
	"fmt"

	"math"
)

// *****************************************************************************
// ************************ Probability-Weighted Choice ************************
// *****************************************************************************
//
// `prob` annotations are resolved per symbol into a full distribution:
// unspecified entries share the residual mass equally and the total must be
// 1 within tolerance, otherwise the grammar is invalid.

const probEpsilon = 1e-5

// probTable holds, per symbol, the resolved probability of each expansion,
// index-aligned with grammar[symbol].
type probTable map[string][]float64

func makeProbTable(g grammarT) (probTable, error) {
	table := make(probTable, len(g))
	for symbol, expansions := range g {
		probs, err := resolveProbabilities(symbol, expansions)
		if err != nil {
			return nil, err
		}
		table[symbol] = probs
	}
	return table, nil
}

func resolveProbabilities(symbol string, expansions []expansionT) ([]float64, error) {
	probs := make([]float64, len(expansions))

	var unspecified int
	var specifiedSum float64
	for i, exp := range expansions {
		if !exp.opts.hasProb {
			unspecified++
			continue
		}
		p := exp.opts.prob
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("%s: probability %v out of [0,1]", symbol, p)
		}
		probs[i] = p
		specifiedSum += p
	}

	if unspecified == 0 {
		if math.Abs(specifiedSum-1) > probEpsilon {
			return nil, fmt.Errorf(
				"%s: probabilities sum to %v, must be 1", symbol, specifiedSum)
		}
		return probs, nil
	}

	if specifiedSum > 1+probEpsilon {
		return nil, fmt.Errorf(
			"%s: specified probabilities sum to %v, exceeding 1", symbol, specifiedSum)
	}
	residual := (1 - specifiedSum) / float64(unspecified)
	if residual < 0 {
		residual = 0
	}
	for i, exp := range expansions {
		if !exp.opts.hasProb {
			probs[i] = residual
		}
	}

	var total float64
	for _, p := range probs {
		total += p
	}
	if math.Abs(total-1) > probEpsilon {
		return nil, fmt.Errorf("%s: resolved distribution sums to %v", symbol, total)
	}
	return probs, nil
}
