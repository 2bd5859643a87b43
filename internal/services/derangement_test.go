package services

import (
	"fmt"
	"math/rand"
	"testing"

	"secretfriend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedShuffler arranges the slice according to perms[call], where
// perms[call][i] is the input index that ends up at position i. Once the
// script runs out it leaves the slice unchanged.
type scriptedShuffler struct {
	perms [][]int
	calls int
}

func (s *scriptedShuffler) Shuffle(n int, swap func(i, j int)) {
	defer func() { s.calls++ }()
	if s.calls >= len(s.perms) {
		return
	}
	perm := s.perms[s.calls]
	cur := make([]int, n)
	for i := range cur {
		cur[i] = i
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if cur[j] == perm[i] {
				swap(i, j)
				cur[i], cur[j] = cur[j], cur[i]
				break
			}
		}
	}
}

func people(n int) []models.Participant {
	ps := make([]models.Participant, n)
	for i := range ps {
		ps[i] = models.Participant{Name: fmt.Sprintf("P%d", i), Email: fmt.Sprintf("p%d@example.com", i)}
	}
	return ps
}

func assertDerangement(t *testing.T, input, result []models.Participant) {
	t.Helper()
	require.Len(t, result, len(input))
	seen := make(map[string]int)
	for i := range input {
		assert.NotEqual(t, input[i].Email, result[i].Email, "position %d is a fixed point", i)
		seen[input[i].Email]++
		seen[result[i].Email]--
	}
	for email, n := range seen {
		assert.Zero(t, n, "email %s is not permuted exactly once", email)
	}
}

func TestGenerator_ProducesDerangements(t *testing.T) {
	gen := NewGenerator(rand.New(rand.NewSource(42)), DefaultMaxAttempts)
	for n := 2; n <= 12; n++ {
		input := people(n)
		for i := 0; i < 50; i++ {
			result, err := gen.Generate(input)
			require.NoError(t, err)
			assertDerangement(t, input, result)
		}
	}
}

func TestGenerator_Uniform(t *testing.T) {
	// Four people have nine derangements; each must come up about equally often.
	const draws = 90000
	gen := NewGenerator(rand.New(rand.NewSource(2024)), DefaultMaxAttempts)
	input := people(4)

	counts := make(map[string]int)
	for i := 0; i < draws; i++ {
		result, err := gen.Generate(input)
		require.NoError(t, err)
		key := ""
		for _, p := range result {
			key += p.Name
		}
		counts[key]++
	}

	require.Len(t, counts, 9)
	expected := draws / 9
	for key, n := range counts {
		assert.InDelta(t, expected, n, float64(expected)*0.05, "derangement %s drawn %d times", key, n)
	}
}

func TestGenerator_DoesNotMutateInput(t *testing.T) {
	input := people(5)
	before := append([]models.Participant(nil), input...)
	_, err := NewGenerator(rand.New(rand.NewSource(1)), 0).Generate(input)
	require.NoError(t, err)
	assert.Equal(t, before, input)
}

func TestGenerator_TooFewParticipants(t *testing.T) {
	for _, n := range []int{0, 1} {
		src := &scriptedShuffler{}
		_, err := NewGenerator(src, 10).Generate(people(n))
		assert.ErrorIs(t, err, ErrNoDerangementFound)
		assert.Zero(t, src.calls, "no attempts expected for n=%d", n)
	}
}

func TestGenerator_BoundedAttempts(t *testing.T) {
	// An unscripted shuffler always yields the identity, which is never valid.
	src := &scriptedShuffler{}
	_, err := NewGenerator(src, 7).Generate(people(4))
	assert.ErrorIs(t, err, ErrNoDerangementFound)
	assert.Equal(t, 7, src.calls)
}

func TestGenerator_DefaultAttempts(t *testing.T) {
	src := &scriptedShuffler{}
	_, err := NewGenerator(src, -1).Generate(people(3))
	assert.ErrorIs(t, err, ErrNoDerangementFound)
	assert.Equal(t, DefaultMaxAttempts, src.calls)
}

func TestGenerator_RejectsCandidatesWithFixedPoints(t *testing.T) {
	src := &scriptedShuffler{perms: [][]int{
		{0, 2, 1}, // P0 keeps its place
		{1, 0, 2}, // P2 keeps its place
		{2, 0, 1},
	}}
	input := people(3)
	result, err := NewGenerator(src, 10).Generate(input)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, []models.Participant{input[2], input[0], input[1]}, result)
}

func TestGenerator_TwoParticipantsSwap(t *testing.T) {
	input := people(2)
	result, err := NewGenerator(rand.New(rand.NewSource(7)), DefaultMaxAttempts).Generate(input)
	require.NoError(t, err)
	assert.Equal(t, []models.Participant{input[1], input[0]}, result)
}

func TestPair(t *testing.T) {
	givers := people(3)
	receivers := []models.Participant{givers[1], givers[2], givers[0]}
	got := Pair(givers, receivers)
	require.Len(t, got, 3)
	for i := range got {
		assert.Equal(t, givers[i], got[i].Giver)
		assert.Equal(t, receivers[i], got[i].Receiver)
	}
}
