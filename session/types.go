package session

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"energyquiz/question"
)

// Kind of a session. Fixed at creation.
type Kind int

const (
	KindWaitingArea Kind = iota
	KindSingleplayer
	KindMultiplayer
	KindSurvival
	KindTimeAttack
)

func (k Kind) String() string {
	switch k {
	case KindWaitingArea:
		return "waiting_area"
	case KindSingleplayer:
		return "singleplayer"
	case KindMultiplayer:
		return "multiplayer"
	case KindSurvival:
		return "survival"
	case KindTimeAttack:
		return "time_attack"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindWaitingArea; k <= KindTimeAttack; k++ {
		if strings.EqualFold(k.String(), s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Solo reports whether the kind is played by a single player.
func (k Kind) Solo() bool {
	return k == KindSingleplayer || k == KindSurvival || k == KindTimeAttack
}

func (k Kind) valid() bool {
	return k >= KindWaitingArea && k <= KindTimeAttack
}

// Status of a session in its lifecycle.
type Status int

const (
	StatusWaitingArea Status = iota
	StatusStarted
	StatusOngoing
	StatusPaused
	StatusTransferring
	StatusPlayAgain
)

func (s Status) String() string {
	switch s {
	case StatusWaitingArea:
		return "waiting_area"
	case StatusStarted:
		return "started"
	case StatusOngoing:
		return "ongoing"
	case StatusPaused:
		return "paused"
	case StatusTransferring:
		return "transferring"
	case StatusPlayAgain:
		return "play_again"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(str string) (Status, error) {
	for s := StatusWaitingArea; s <= StatusPlayAgain; s++ {
		if s.String() == str {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, str)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (k Kind) MarshalText() ([]byte, error)   { return []byte(k.String()), nil }

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Joker is a once-per-game ability.
type Joker int

const (
	JokerDoublePoints Joker = iota
	JokerRemoveOne
	JokerDecreaseTime
)

var jokerNames = map[Joker]string{
	JokerDoublePoints: "double_points",
	JokerRemoveOne:    "remove_one",
	JokerDecreaseTime: "decrease_time",
}

func (j Joker) String() string {
	if name, ok := jokerNames[j]; ok {
		return name
	}
	return fmt.Sprintf("joker(%d)", int(j))
}

func (j Joker) MarshalText() ([]byte, error) { return []byte(j.String()), nil }

func (j *Joker) UnmarshalText(text []byte) error {
	parsed, err := ParseJoker(string(text))
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// ParseJoker is the inverse of Joker.String.
func ParseJoker(s string) (Joker, error) {
	for j, name := range jokerNames {
		if name == s {
			return j, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown joker %q", ErrInvalidInput, s)
}

// JokerSet is a bit set of jokers.
type JokerSet uint8

func (s JokerSet) Has(j Joker) bool      { return s&(1<<j) != 0 }
func (s JokerSet) With(j Joker) JokerSet { return s | 1<<j }

// List returns the jokers in the set in declaration order.
func (s JokerSet) List() []Joker {
	var out []Joker
	for j := JokerDoublePoints; j <= JokerDecreaseTime; j++ {
		if s.Has(j) {
			out = append(out, j)
		}
	}
	return out
}

func (s JokerSet) MarshalJSON() ([]byte, error) {
	list := s.List()
	if list == nil {
		list = []Joker{}
	}
	return json.Marshal(list)
}

func (s *JokerSet) UnmarshalJSON(data []byte) error {
	var list []Joker
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = 0
	for _, j := range list {
		*s = s.With(j)
	}
	return nil
}

// BestScores are a player's best-ever totals per game kind.
type BestScores struct {
	Singleplayer int `json:"singleplayer"`
	Multiplayer  int `json:"multiplayer"`
	Survival     int `json:"survival"`
	TimeAttack   int `json:"time_attack"`
}

// For returns the best score for a kind.
func (b BestScores) For(k Kind) int {
	switch k {
	case KindSingleplayer:
		return b.Singleplayer
	case KindMultiplayer:
		return b.Multiplayer
	case KindSurvival:
		return b.Survival
	case KindTimeAttack:
		return b.TimeAttack
	default:
		return 0
	}
}

// Raise returns b with the score for k raised to points if higher.
func (b BestScores) Raise(k Kind, points int) BestScores {
	switch k {
	case KindSingleplayer:
		b.Singleplayer = max(b.Singleplayer, points)
	case KindMultiplayer:
		b.Multiplayer = max(b.Multiplayer, points)
	case KindSurvival:
		b.Survival = max(b.Survival, points)
	case KindTimeAttack:
		b.TimeAttack = max(b.TimeAttack, points)
	}
	return b
}

// Player is a participant of exactly one session.
type Player struct {
	ID       uint64     `json:"id"`
	Username string     `json:"username"`
	Points   int        `json:"points"`
	Best     BestScores `json:"best"`
	Ready    bool       `json:"ready"`
	Answered bool       `json:"answered"`
	Jokers   JokerSet   `json:"used_jokers"`

	// Per-round joker effects, cleared when the round closes.
	Doubled  bool  `json:"doubled,omitempty"`
	Hidden   []int `json:"hidden,omitempty"`
	Hastened bool  `json:"hastened,omitempty"` // keeps the unboosted round time
}

// UsedJokers lists the jokers the player has spent this game.
func (p Player) UsedJokers() []Joker {
	return p.Jokers.List()
}

// resetForGame clears per-game state when a player moves to a new session.
func (p Player) resetForGame() Player {
	p.Points = 0
	p.Ready = false
	p.Answered = false
	p.Jokers = 0
	p.Doubled = false
	p.Hidden = nil
	p.Hastened = false
	return p
}

func (p Player) clone() Player {
	p.Hidden = slices.Clone(p.Hidden)
	return p
}

// Answer is a player's submission for the current round.
type Answer struct {
	Kind     question.Kind `json:"kind"`
	Selected []int         `json:"selected,omitempty"`
	Guess    *float64      `json:"guess,omitempty"`
}

func (a Answer) clone() Answer {
	out := a
	out.Selected = slices.Clone(a.Selected)
	if a.Guess != nil {
		g := *a.Guess
		out.Guess = &g
	}
	return out
}

// Evaluation is the transient result of scoring one player's answer.
type Evaluation struct {
	Round    int           `json:"round"`
	Kind     question.Kind `json:"kind"`
	Points   int           `json:"points"`
	Correct  []int         `json:"correct,omitempty"`
	Expected float64       `json:"expected,omitempty"`
	Answered bool          `json:"answered"`
	Doubled  bool          `json:"doubled"`
}

// RoundRecord is one player's outcome of one round, kept for result
// reconciliation after the game.
type RoundRecord struct {
	Round    int           `json:"round"`
	PlayerID uint64        `json:"player_id"`
	Kind     question.Kind `json:"kind"`
	Points   int           `json:"points"`
}

// Snapshot is a point-in-time copy of a session. Mutating it never affects
// the session.
type Snapshot struct {
	ID             uint64             `json:"id"`
	Kind           Kind               `json:"kind"`
	Status         Status             `json:"status"`
	Version        uint64             `json:"version"`
	Players        []Player           `json:"players"`
	RemovedPlayers []Player           `json:"removed_players,omitempty"`
	Question       *question.Question `json:"question,omitempty"`
	ReadyCount     int                `json:"ready_count"`
	Submitted      int                `json:"submitted"`
	Round          int                `json:"round"`
	RoundLimit     int                `json:"round_limit"`
	Difficulty     int                `json:"difficulty"`
	Lives          int                `json:"lives,omitempty"`
	TimeBudget     time.Duration      `json:"time_budget,omitempty"`
	Remaining      time.Duration      `json:"remaining"`
	Progress       float64            `json:"progress"`
	Boost          float64            `json:"boost,omitempty"`
	Stalled        bool               `json:"stalled,omitempty"`
	Overtime       bool               `json:"overtime,omitempty"` // only DecreaseTime users may still answer
	Finished       bool               `json:"finished"`
	Closed         bool               `json:"closed"`
	NextSessionID  uint64             `json:"next_session_id,omitempty"`
	History        []RoundRecord      `json:"history,omitempty"`
}

// Player returns the player with id, if present.
func (s Snapshot) Player(id uint64) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// Standings returns current and removed players ordered by points, highest
// first. Ties keep join order.
func (s Snapshot) Standings() []Player {
	out := make([]Player, 0, len(s.Players)+len(s.RemovedPlayers))
	out = append(out, s.Players...)
	out = append(out, s.RemovedPlayers...)
	slices.SortStableFunc(out, func(a, b Player) int {
		return b.Points - a.Points
	})
	return out
}

// ValidateUsername checks the display-name rules: non-empty, ASCII letters
// and digits only, at most maxLen characters when maxLen > 0.
func ValidateUsername(name string, maxLen int) error {
	if name == "" || (maxLen > 0 && len(name) > maxLen) {
		return ErrInvalidUsername
	}
	for _, r := range name {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum {
			return ErrInvalidUsername
		}
	}
	return nil
}
