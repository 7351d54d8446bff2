package question

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// MaxUniqueAttempts bounds the redraws spent avoiding a duplicate option.
// Once exhausted the duplicate is accepted.
const MaxUniqueAttempts = 5

// Source supplies activities to draw questions from.
type Source interface {
	// RandomActivity returns one activity chosen with rng, or ErrEmptySource.
	RandomActivity(ctx context.Context, rng *rand.Rand) (Activity, error)
}

// Config controls the shape of generated questions.
type Config struct {
	ComparisonSize   int // activities shown in a comparison
	Alternatives     int // alternatives shown next to an equivalence pivot
	Distractors      int // wrong values next to the true multiple choice value
	DistractorSpread float64
}

// DefaultConfig returns the standard question shapes.
func DefaultConfig() Config {
	return Config{
		ComparisonSize:   3,
		Alternatives:     3,
		Distractors:      3,
		DistractorSpread: 1.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ComparisonSize < 2 {
		c.ComparisonSize = d.ComparisonSize
	}
	if c.Alternatives < 2 {
		c.Alternatives = d.Alternatives
	}
	if c.Distractors < 1 {
		c.Distractors = d.Distractors
	}
	if c.DistractorSpread <= 0 {
		c.DistractorSpread = d.DistractorSpread
	}
	return c
}

// Generator produces questions from a source using a seeded RNG.
// It is safe for concurrent use; calls are serialized on the RNG.
type Generator struct {
	source Source
	cfg    Config

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator whose output is fully determined by seed
// and the contents of source.
func NewGenerator(source Source, seed uint64, cfg Config) *Generator {
	return &Generator{
		source: source,
		cfg:    cfg.withDefaults(),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Generate produces the next question of the given kind.
func (g *Generator) Generate(ctx context.Context, kind Kind, difficulty int) (Question, AnswerKey, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Generate(ctx, g.source, g.rng, kind, difficulty, g.cfg)
}

// Generate builds one question of the given kind. It holds no state of its
// own: for the same source contents and RNG state the result is identical.
func Generate(ctx context.Context, src Source, rng *rand.Rand, kind Kind, difficulty int, cfg Config) (Question, AnswerKey, error) {
	cfg = cfg.withDefaults()
	if difficulty < 1 {
		difficulty = 1
	}

	switch kind {
	case Comparison:
		return comparison(ctx, src, rng, cfg)
	case MultipleChoice:
		return multipleChoice(ctx, src, rng, difficulty, cfg)
	case Equivalence:
		return equivalence(ctx, src, rng, cfg)
	case RangeGuess:
		return rangeGuess(ctx, src, rng)
	default:
		return Question{}, AnswerKey{}, fmt.Errorf("unsupported question kind %v", kind)
	}
}

func comparison(ctx context.Context, src Source, rng *rand.Rand, cfg Config) (Question, AnswerKey, error) {
	picked, err := drawDistinct(ctx, src, rng, cfg.ComparisonSize, nil)
	if err != nil {
		return Question{}, AnswerKey{}, err
	}

	best := math.Inf(-1)
	for _, a := range picked {
		best = math.Max(best, a.Consumption)
	}

	q := Question{
		Kind:   Comparison,
		Prompt: "Which of these activities consumes the most energy?",
		Unit:   picked[0].Unit,
	}
	key := AnswerKey{Kind: Comparison}
	for i, a := range picked {
		q.Options = append(q.Options, Option{Label: a.Name, ActivityID: a.ID})
		if a.Consumption == best {
			key.Indices = append(key.Indices, i)
		}
	}
	return q, key, nil
}

func multipleChoice(ctx context.Context, src Source, rng *rand.Rand, difficulty int, cfg Config) (Question, AnswerKey, error) {
	a, err := src.RandomActivity(ctx, rng)
	if err != nil {
		return Question{}, AnswerKey{}, err
	}

	truth := roundSig(a.Consumption, 3)
	values := []float64{truth}
	spread := cfg.DistractorSpread / float64(difficulty)

	for len(values) < cfg.Distractors+1 {
		var v float64
		for attempt := 0; attempt < MaxUniqueAttempts; attempt++ {
			v = distractor(rng, truth, spread)
			if !containsValue(values, v) {
				break
			}
		}
		values = append(values, v)
	}

	// Distractors occupy values[1:]; move the true value to a random slot.
	slot := rng.IntN(len(values))
	values[0], values[slot] = values[slot], values[0]

	q := Question{
		Kind:    MultipleChoice,
		Prompt:  fmt.Sprintf("How much energy does %q consume?", a.Name),
		Unit:    a.Unit,
		Subject: &a,
	}
	// An accepted duplicate of the true value is correct as well.
	key := AnswerKey{Kind: MultipleChoice}
	for i, v := range values {
		q.Options = append(q.Options, Option{Label: formatValue(v, a.Unit), Value: v})
		if v == truth {
			key.Indices = append(key.Indices, i)
		}
	}
	return q, key, nil
}

func equivalence(ctx context.Context, src Source, rng *rand.Rand, cfg Config) (Question, AnswerKey, error) {
	pivot, err := src.RandomActivity(ctx, rng)
	if err != nil {
		return Question{}, AnswerKey{}, err
	}
	alternatives, err := drawDistinct(ctx, src, rng, cfg.Alternatives, []uint{pivot.ID})
	if err != nil {
		return Question{}, AnswerKey{}, err
	}

	closest := math.Inf(1)
	for _, a := range alternatives {
		closest = math.Min(closest, math.Abs(a.Consumption-pivot.Consumption))
	}

	q := Question{
		Kind:    Equivalence,
		Prompt:  fmt.Sprintf("Which activity consumes about as much energy as %q?", pivot.Name),
		Unit:    pivot.Unit,
		Subject: &pivot,
	}
	key := AnswerKey{Kind: Equivalence}
	for i, a := range alternatives {
		q.Options = append(q.Options, Option{Label: a.Name, ActivityID: a.ID})
		if math.Abs(a.Consumption-pivot.Consumption) == closest {
			key.Indices = append(key.Indices, i)
		}
	}
	return q, key, nil
}

func rangeGuess(ctx context.Context, src Source, rng *rand.Rand) (Question, AnswerKey, error) {
	a, err := src.RandomActivity(ctx, rng)
	if err != nil {
		return Question{}, AnswerKey{}, err
	}
	q := Question{
		Kind:    RangeGuess,
		Prompt:  fmt.Sprintf("Estimate the energy consumption of %q in %s.", a.Name, a.Unit),
		Unit:    a.Unit,
		Subject: &a,
	}
	return q, AnswerKey{Kind: RangeGuess, Value: a.Consumption}, nil
}

// drawDistinct draws n activities avoiding ids already seen (including
// exclude). Each slot gets MaxUniqueAttempts draws before a duplicate is
// accepted.
func drawDistinct(ctx context.Context, src Source, rng *rand.Rand, n int, exclude []uint) ([]Activity, error) {
	seen := make(map[uint]bool, n+len(exclude))
	for _, id := range exclude {
		seen[id] = true
	}

	out := make([]Activity, 0, n)
	for len(out) < n {
		var a Activity
		for attempt := 0; attempt < MaxUniqueAttempts; attempt++ {
			var err error
			a, err = src.RandomActivity(ctx, rng)
			if err != nil {
				return nil, err
			}
			if !seen[a.ID] {
				break
			}
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out, nil
}

// distractor returns a wrong value above or below truth. The relative offset
// lies in [0.2, 1.0] * spread, so a higher difficulty (smaller spread) keeps
// distractors closer to the true value.
func distractor(rng *rand.Rand, truth, spread float64) float64 {
	offset := spread * (0.2 + 0.8*rng.Float64())
	if rng.IntN(2) == 0 {
		return roundSig(truth*(1+offset), 3)
	}
	return roundSig(truth/(1+offset), 3)
}

func containsValue(values []float64, v float64) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// roundSig rounds v to the given number of significant figures.
func roundSig(v float64, figures int) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	magnitude := math.Ceil(math.Log10(math.Abs(v)))
	scale := math.Pow(10, float64(figures)-magnitude)
	return math.Round(v*scale) / scale
}

func formatValue(v float64, unit string) string {
	if unit == "" {
		return fmt.Sprintf("%g", v)
	}
	return fmt.Sprintf("%g %s", v, unit)
}
