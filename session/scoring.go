package session

import (
	"math"

	"energyquiz/question"
)

// Score returns the points an answer earns against key before joker
// modifiers. A nil answer scores zero.
//
// Option kinds use exact set matching. Range guesses earn partial credit
// that falls linearly with relative error and reaches zero at
// RangeCutoff/difficulty.
func Score(key question.AnswerKey, ans *Answer, difficulty int, rules Rules) int {
	if ans == nil || ans.Kind != key.Kind {
		return 0
	}
	switch key.Kind {
	case question.Comparison, question.MultipleChoice, question.Equivalence:
		if key.Matches(ans.Selected) {
			return rules.FullCredit
		}
		return 0
	case question.RangeGuess:
		if ans.Guess == nil {
			return 0
		}
		return rangeCredit(*ans.Guess, key.Value, difficulty, rules)
	default:
		return 0
	}
}

func rangeCredit(guess, expected float64, difficulty int, rules Rules) int {
	if math.IsNaN(guess) || math.IsInf(guess, 0) {
		return 0
	}
	cutoff := rules.RangeCutoff / float64(max(1, difficulty))
	if cutoff <= 0 {
		if guess == expected {
			return rules.FullCredit
		}
		return 0
	}
	relErr := math.Abs(guess-expected) / math.Max(math.Abs(expected), 1e-6)
	if relErr >= cutoff {
		return 0
	}
	return int(math.Round(float64(rules.FullCredit) * (1 - relErr/cutoff)))
}
