package question

import (
	"errors"
	"fmt"
	"slices"
)

// ErrEmptySource is returned when an activity source has nothing to draw from.
var ErrEmptySource = errors.New("activity source is empty")

// Kind tags the variant of a generated question.
type Kind int

const (
	Comparison Kind = iota
	MultipleChoice
	Equivalence
	RangeGuess
)

// Kinds lists every question kind in rotation order.
var Kinds = []Kind{Comparison, MultipleChoice, Equivalence, RangeGuess}

func (k Kind) String() string {
	switch k {
	case Comparison:
		return "comparison"
	case MultipleChoice:
		return "multiple_choice"
	case Equivalence:
		return "equivalence"
	case RangeGuess:
		return "range_guess"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HasOptions reports whether answers to this kind are option index sets.
func (k Kind) HasOptions() bool {
	return k != RangeGuess
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown question kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Activity is one everyday activity with its energy consumption.
type Activity struct {
	ID          uint    `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Consumption float64 `json:"consumption" yaml:"consumption"`
	Unit        string  `json:"unit" yaml:"unit"`
	Category    string  `json:"category,omitempty" yaml:"category"`
}

// Option is one selectable choice of a question.
type Option struct {
	Label      string  `json:"label"`
	Value      float64 `json:"value,omitempty"`
	ActivityID uint    `json:"activity_id,omitempty"`
}

// Question is what players see. It never carries the answer key.
type Question struct {
	Kind    Kind      `json:"kind"`
	Prompt  string    `json:"prompt"`
	Unit    string    `json:"unit,omitempty"`
	Subject *Activity `json:"subject,omitempty"`
	Options []Option  `json:"options,omitempty"`
}

// Clone returns a deep copy.
func (q Question) Clone() Question {
	out := q
	if q.Subject != nil {
		subject := *q.Subject
		out.Subject = &subject
	}
	out.Options = slices.Clone(q.Options)
	return out
}

// AnswerKey is the expected answer of a question.
type AnswerKey struct {
	Kind    Kind    `json:"kind"`
	Indices []int   `json:"indices,omitempty"`
	Value   float64 `json:"value,omitempty"`
}

// Clone returns a deep copy.
func (k AnswerKey) Clone() AnswerKey {
	out := k
	out.Indices = slices.Clone(k.Indices)
	return out
}

// Matches reports whether selected is exactly the expected index set.
// Order and repeated indices in selected are ignored.
func (k AnswerKey) Matches(selected []int) bool {
	got := normalize(selected)
	want := normalize(k.Indices)
	return slices.Equal(got, want)
}

func normalize(indices []int) []int {
	out := slices.Clone(indices)
	slices.Sort(out)
	return slices.Compact(out)
}
