package question

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testActivities() []Activity {
	return []Activity{
		{ID: 1, Name: "Boil a kettle", Consumption: 0.1, Unit: "kWh"},
		{ID: 2, Name: "Hot shower", Consumption: 2.6, Unit: "kWh"},
		{ID: 3, Name: "Wash laundry", Consumption: 0.9, Unit: "kWh"},
		{ID: 4, Name: "Bake a cake", Consumption: 1.5, Unit: "kWh"},
		{ID: 5, Name: "Stream a film", Consumption: 0.25, Unit: "kWh"},
		{ID: 6, Name: "Charge an e-bike", Consumption: 0.5, Unit: "kWh"},
	}
}

// largeCatalog keeps accidental duplicate draws negligible.
func largeCatalog() []Activity {
	out := make([]Activity, 0, 40)
	for i := 1; i <= 40; i++ {
		out = append(out, Activity{ID: uint(i), Name: fmt.Sprintf("Activity %d", i), Consumption: float64(i*i) / 10, Unit: "kWh"})
	}
	return out
}

func TestGenerator_Reproducible(t *testing.T) {
	src := NewCatalogSource(testActivities())
	a := NewGenerator(src, 42, DefaultConfig())
	b := NewGenerator(src, 42, DefaultConfig())

	for round := 0; round < 20; round++ {
		kind := Kinds[round%len(Kinds)]
		qa, ka, err := a.Generate(context.Background(), kind, 1+round%3)
		require.NoError(t, err)
		qb, kb, err := b.Generate(context.Background(), kind, 1+round%3)
		require.NoError(t, err)

		assert.Equal(t, qa, qb, "round %d", round)
		assert.Equal(t, ka, kb, "round %d", round)
	}
}

func TestGenerator_DifferentSeedsDiverge(t *testing.T) {
	src := NewCatalogSource(testActivities())
	a := NewGenerator(src, 1, DefaultConfig())
	b := NewGenerator(src, 2, DefaultConfig())

	same := true
	for i := 0; i < 10; i++ {
		qa, _, err := a.Generate(context.Background(), Comparison, 1)
		require.NoError(t, err)
		qb, _, err := b.Generate(context.Background(), Comparison, 1)
		require.NoError(t, err)
		if !assert.ObjectsAreEqual(qa, qb) {
			same = false
		}
	}
	assert.False(t, same)
}

func TestComparison_KeyIsMaxConsumption(t *testing.T) {
	acts := largeCatalog()
	byID := map[uint]Activity{}
	for _, a := range acts {
		byID[a.ID] = a
	}
	src := NewCatalogSource(acts)
	rng := rand.New(rand.NewPCG(7, 7))

	for i := 0; i < 50; i++ {
		q, key, err := Generate(context.Background(), src, rng, Comparison, 1, DefaultConfig())
		require.NoError(t, err)
		require.Len(t, q.Options, 3)
		require.NotEmpty(t, key.Indices)

		best := math.Inf(-1)
		for _, o := range q.Options {
			best = math.Max(best, byID[o.ActivityID].Consumption)
		}
		for _, idx := range key.Indices {
			assert.Equal(t, best, byID[q.Options[idx].ActivityID].Consumption)
		}
		assertDistinctActivities(t, q)
	}
}

func TestMultipleChoice_TrueValueInKeySlot(t *testing.T) {
	src := NewCatalogSource(testActivities())
	rng := rand.New(rand.NewPCG(3, 9))
	slots := map[int]bool{}

	for i := 0; i < 100; i++ {
		q, key, err := Generate(context.Background(), src, rng, MultipleChoice, 1, DefaultConfig())
		require.NoError(t, err)
		require.Len(t, q.Options, 4)
		require.Len(t, key.Indices, 1)
		require.NotNil(t, q.Subject)

		slot := key.Indices[0]
		slots[slot] = true
		assert.Equal(t, roundSig(q.Subject.Consumption, 3), q.Options[slot].Value)

		seen := map[float64]bool{}
		for _, o := range q.Options {
			assert.False(t, seen[o.Value], "duplicate option value %v", o.Value)
			seen[o.Value] = true
			assert.True(t, strings.HasSuffix(o.Label, "kWh"))
		}
	}
	assert.Len(t, slots, 4, "true value should land in every slot over many draws")
}

func TestMultipleChoice_DuplicatesOfTruthAreKeyed(t *testing.T) {
	tests := []struct {
		name   string
		value  float64
		spread float64
	}{
		{"zero consumption", 0, DefaultConfig().DistractorSpread},
		{"negligible spread", 10, 1e-9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewCatalogSource([]Activity{{ID: 1, Name: "Standby", Consumption: tt.value, Unit: "kWh"}})
			cfg := DefaultConfig()
			cfg.DistractorSpread = tt.spread
			rng := rand.New(rand.NewPCG(5, 5))

			q, key, err := Generate(context.Background(), src, rng, MultipleChoice, 1, cfg)
			require.NoError(t, err)
			require.Len(t, q.Options, 4)

			var truthful []int
			for i, o := range q.Options {
				if o.Value == tt.value {
					truthful = append(truthful, i)
				}
			}
			assert.Equal(t, []int{0, 1, 2, 3}, truthful)
			assert.Equal(t, truthful, key.Indices)
			assert.True(t, key.Matches([]int{3, 2, 1, 0}))
		})
	}
}

func TestMultipleChoice_DifficultyNarrowsSpread(t *testing.T) {
	src := NewCatalogSource([]Activity{{ID: 1, Name: "Sauna", Consumption: 10, Unit: "kWh"}})

	maxRelOffset := func(difficulty int) float64 {
		rng := rand.New(rand.NewPCG(11, 11))
		worst := 0.0
		for i := 0; i < 200; i++ {
			q, key, err := Generate(context.Background(), src, rng, MultipleChoice, difficulty, DefaultConfig())
			require.NoError(t, err)
			for j, o := range q.Options {
				if j == key.Indices[0] {
					continue
				}
				worst = math.Max(worst, math.Abs(o.Value-10)/10)
			}
		}
		return worst
	}

	easy := maxRelOffset(1)
	hard := maxRelOffset(5)
	assert.Less(t, hard, easy)
	assert.LessOrEqual(t, hard, 0.21)
}

func TestEquivalence_KeyIsClosestAlternative(t *testing.T) {
	acts := largeCatalog()
	byID := map[uint]Activity{}
	for _, a := range acts {
		byID[a.ID] = a
	}
	src := NewCatalogSource(acts)
	rng := rand.New(rand.NewPCG(5, 1))

	for i := 0; i < 50; i++ {
		q, key, err := Generate(context.Background(), src, rng, Equivalence, 1, DefaultConfig())
		require.NoError(t, err)
		require.NotNil(t, q.Subject)
		require.Len(t, q.Options, 3)

		closest := math.Inf(1)
		for _, o := range q.Options {
			assert.NotEqual(t, q.Subject.ID, o.ActivityID, "pivot must not be offered as alternative")
			closest = math.Min(closest, math.Abs(byID[o.ActivityID].Consumption-q.Subject.Consumption))
		}
		for _, idx := range key.Indices {
			got := math.Abs(byID[q.Options[idx].ActivityID].Consumption - q.Subject.Consumption)
			assert.Equal(t, closest, got)
		}
	}
}

func TestRangeGuess_KeyIsExactConsumption(t *testing.T) {
	src := NewCatalogSource(testActivities())
	rng := rand.New(rand.NewPCG(1, 2))

	q, key, err := Generate(context.Background(), src, rng, RangeGuess, 2, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, q.Subject)
	assert.Empty(t, q.Options)
	assert.Equal(t, RangeGuess, key.Kind)
	assert.Equal(t, q.Subject.Consumption, key.Value)
}

func TestGenerate_EmptySource(t *testing.T) {
	src := NewCatalogSource(nil)
	rng := rand.New(rand.NewPCG(1, 1))

	for _, kind := range Kinds {
		t.Run(kind.String(), func(t *testing.T) {
			_, _, err := Generate(context.Background(), src, rng, kind, 1, DefaultConfig())
			assert.ErrorIs(t, err, ErrEmptySource)
		})
	}
}

// countingSource always returns the same activity and counts draws.
type countingSource struct {
	draws int
}

func (s *countingSource) RandomActivity(ctx context.Context, rng *rand.Rand) (Activity, error) {
	s.draws++
	return Activity{ID: 1, Name: "Only", Consumption: 1, Unit: "kWh"}, nil
}

func TestDrawDistinct_AcceptsDuplicateAfterBoundedAttempts(t *testing.T) {
	src := &countingSource{}
	rng := rand.New(rand.NewPCG(1, 1))

	q, key, err := Generate(context.Background(), src, rng, Comparison, 1, DefaultConfig())
	require.NoError(t, err)
	assert.Len(t, q.Options, 3)
	// First slot needs one draw, each later slot exhausts its attempts.
	assert.Equal(t, 1+2*MaxUniqueAttempts, src.draws)
	assert.Equal(t, []int{0, 1, 2}, key.Indices)
}

func TestAnswerKey_Matches(t *testing.T) {
	key := AnswerKey{Kind: Comparison, Indices: []int{0, 2}}

	tests := []struct {
		name     string
		selected []int
		want     bool
	}{
		{"exact", []int{0, 2}, true},
		{"reordered", []int{2, 0}, true},
		{"repeated", []int{2, 0, 2}, true},
		{"subset", []int{0}, false},
		{"superset", []int{0, 1, 2}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, key.Matches(tt.selected))
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("trivia")
	assert.Error(t, err)
}

func assertDistinctActivities(t *testing.T, q Question) {
	t.Helper()
	seen := map[uint]bool{}
	for _, o := range q.Options {
		assert.False(t, seen[o.ActivityID], "duplicate activity %d", o.ActivityID)
		seen[o.ActivityID] = true
	}
}
