package session

import "time"

// Rules tune session lifecycles and scoring.
type Rules struct {
	RoundLimit       int // rounds per singleplayer/multiplayer game
	TimeAttackRounds int // 0 means the budget alone ends the game
	RoundDuration    time.Duration
	TimerTick        time.Duration
	ResultDelay      time.Duration

	TimeAttackBudget time.Duration
	TimeAttackBonus  time.Duration
	SurvivalLives    int

	MinPlayers        int // ready players needed to leave the waiting area
	MaxPlayers        int // 0 means unlimited
	MaxUsernameLength int

	FullCredit     int
	RangeCutoff    float64 // relative error at which range guesses score zero
	DifficultyStep int     // rounds per difficulty increase, 0 disables
	MaxDifficulty  int

	DecreaseTimeBoost float64

	MaxGenerationRetries int
	GenerationBackoff    time.Duration
}

// DefaultRules returns the standard game configuration.
func DefaultRules() Rules {
	return Rules{
		RoundLimit:           10,
		TimeAttackRounds:     30,
		RoundDuration:        20 * time.Second,
		TimerTick:            100 * time.Millisecond,
		ResultDelay:          5 * time.Second,
		TimeAttackBudget:     90 * time.Second,
		TimeAttackBonus:      3 * time.Second,
		SurvivalLives:        3,
		MinPlayers:           2,
		MaxPlayers:           8,
		MaxUsernameLength:    20,
		FullCredit:           100,
		RangeCutoff:          0.5,
		DifficultyStep:       3,
		MaxDifficulty:        5,
		DecreaseTimeBoost:    1,
		MaxGenerationRetries: 3,
		GenerationBackoff:    time.Second,
	}
}

// roundLimit returns the configured round limit for a kind, 0 if unbounded.
func (r Rules) roundLimit(k Kind) int {
	switch k {
	case KindSingleplayer, KindMultiplayer:
		return r.RoundLimit
	case KindTimeAttack:
		return r.TimeAttackRounds
	default:
		return 0
	}
}

// capacity returns the player limit of a kind, 0 if unbounded.
func (r Rules) capacity(k Kind) int {
	switch {
	case k == KindWaitingArea:
		return 0
	case k.Solo():
		return 1
	default:
		return r.MaxPlayers
	}
}
