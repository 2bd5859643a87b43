package services

import (
	"math/rand"

	"secretfriend/internal/models"
)

// DefaultMaxAttempts bounds the number of shuffles tried per draw.
const DefaultMaxAttempts = 100

// Shuffler produces uniformly random permutations. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Generator draws derangements by rejection sampling over uniform shuffles.
type Generator struct {
	src         Shuffler
	maxAttempts int
}

// globalShuffler uses the package-level source, which is safe for concurrent draws.
type globalShuffler struct{}

func (globalShuffler) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// NewGenerator creates a Generator. A nil source uses math/rand's global source.
func NewGenerator(src Shuffler, maxAttempts int) *Generator {
	if src == nil {
		src = globalShuffler{}
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{src: src, maxAttempts: maxAttempts}
}

// Generate returns a permutation of participants in which nobody keeps their
// own position. The input slice is left untouched.
func (g *Generator) Generate(participants []models.Participant) ([]models.Participant, error) {
	if len(participants) < 2 {
		return nil, ErrNoDerangementFound
	}

	candidate := make([]models.Participant, len(participants))
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		copy(candidate, participants)
		g.src.Shuffle(len(candidate), func(i, j int) {
			candidate[i], candidate[j] = candidate[j], candidate[i]
		})
		if !hasFixedPoint(participants, candidate) {
			return candidate, nil
		}
	}
	return nil, ErrNoDerangementFound
}

func hasFixedPoint(original, permuted []models.Participant) bool {
	for i := range original {
		if original[i].Email == permuted[i].Email {
			return true
		}
	}
	return false
}

// Pair zips givers with their drawn receivers, keeping the givers' order.
func Pair(givers, receivers []models.Participant) []models.Assignment {
	assignments := make([]models.Assignment, len(givers))
	for i := range givers {
		assignments[i] = models.Assignment{Giver: givers[i], Receiver: receivers[i]}
	}
	return assignments
}
